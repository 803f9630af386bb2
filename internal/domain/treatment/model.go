package treatment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "H:MM" and "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hs) == 0 || len(hs) > 2 || len(ms) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// TimeOfDayOf returns the wall-clock time of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes is the number of minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// DeviceDosageConfig is the pump configuration of one patient. Schedule keeps
// the entries as entered so plans echo them back unchanged.
type DeviceDosageConfig struct {
	PatientID         uuid.UUID `json:"patient_id"`
	InitialMedication float64   `json:"initial_medication"`
	MedicationLeft    float64   `json:"medication_left"`
	Schedule          []string  `json:"schedule"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DosageEvent is one projected administration. Derived on every request and
// never stored.
type DosageEvent struct {
	Time             string `json:"time"`
	InjectedML       int    `json:"injected_ml"`
	RemainingPercent int    `json:"remaining_percent"`
	Completed        bool   `json:"completed"`
}

// TreatmentPlan is the projection of a config at a point in time.
type TreatmentPlan struct {
	PatientID         uuid.UUID        `json:"patient_id"`
	ComputedAt        time.Time        `json:"computed_at"`
	Policy            CompletionPolicy `json:"completion_policy"`
	InitialMedication float64          `json:"initial_medication"`
	MedicationLeft    float64          `json:"medication_left"`
	PerDoseML         float64          `json:"per_dose_ml"`
	Events            []DosageEvent    `json:"events"`
}
