package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table. Height is in inches, weight in pounds.
type Patient struct {
	ID           uuid.UUID `db:"patient_id" json:"patient_id"`
	Name         string    `db:"name" json:"name"`
	Gender       string    `db:"gender" json:"gender"`
	Height       float64   `db:"height" json:"height"`
	Weight       float64   `db:"weight" json:"weight"`
	Birthdate    time.Time `db:"birthdate" json:"birthdate"`
	PatientSince time.Time `db:"patient_since" json:"patient_since"`
	ProfileImage *string   `db:"profile_image" json:"profile_image,omitempty"`
}

// Physician maps to the physicians table. Email is unique and is how a
// signed-in user is matched to a physician record.
type Physician struct {
	ID    uuid.UUID `db:"physician_id" json:"physician_id"`
	Email string    `db:"email" json:"email"`
	Name  string    `db:"name" json:"name"`
}

// Age is the difference between the current year and the birth year. It does
// not look at month or day.
func Age(birthdate, now time.Time) int {
	return now.Year() - birthdate.Year()
}

// ExactAge is Age minus one when this year's birthday is still ahead.
func ExactAge(birthdate, now time.Time) int {
	age := Age(birthdate, now)
	if now.Month() < birthdate.Month() ||
		(now.Month() == birthdate.Month() && now.Day() < birthdate.Day()) {
		age--
	}
	return age
}
