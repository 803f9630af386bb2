package portal

import (
	"github.com/google/uuid"

	"github.com/medpod/medpod/internal/domain/identity"
	"github.com/medpod/medpod/internal/domain/messaging"
	"github.com/medpod/medpod/internal/domain/treatment"
)

const dateLayout = "2006-01-02"

// PatientRow is one line of the patient list.
type PatientRow struct {
	PatientID    uuid.UUID `json:"patient_id"`
	Name         string    `json:"name"`
	Gender       string    `json:"gender"`
	Age          int       `json:"age"`
	ProfileImage *string   `json:"profile_image,omitempty"`
	Favorite     bool      `json:"favorite"`
	DetailPath   string    `json:"detail_path"`
}

// PatientList is the patient list screen.
type PatientList struct {
	Query     string       `json:"query"`
	Ascending bool         `json:"ascending"`
	Patients  []PatientRow `json:"patients"`
}

// PatientDetail is the patient detail screen. TreatmentPlan is null when the
// patient has no device configured. Warnings name the sections that could not
// be loaded.
type PatientDetail struct {
	Patient       *identity.Patient        `json:"patient"`
	Age           int                      `json:"age"`
	AgeExact      int                      `json:"age_exact"`
	Birthdate     string                   `json:"birthdate"`
	PatientSince  string                   `json:"patient_since"`
	TreatmentPlan *treatment.TreatmentPlan `json:"treatment_plan"`
	StreamPath    string                   `json:"stream_path"`
	Messages      []*messaging.Message     `json:"messages"`
	Warnings      []string                 `json:"warnings,omitempty"`
}

// FavoriteState is the result of toggling a favourite.
type FavoriteState struct {
	PatientID uuid.UUID `json:"patient_id"`
	Favorite  bool      `json:"favorite"`
}

func detailPath(id uuid.UUID) string {
	return "/api/v1/portal/patients/" + id.String()
}

func streamPath(id uuid.UUID) string {
	return "/api/v1/patients/" + id.String() + "/treatment-plan/stream"
}
