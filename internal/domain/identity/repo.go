package identity

import (
	"context"

	"github.com/google/uuid"
)

// Lookups return apperr NotFound when the store answered but had no row, and
// apperr Transport when the store could not be queried.

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	ListAll(ctx context.Context) ([]*Patient, error)
}

type PhysicianRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Physician, error)
	GetByEmail(ctx context.Context, email string) (*Physician, error)
}

type FavoriteRepository interface {
	ListByPhysician(ctx context.Context, physicianID uuid.UUID) ([]uuid.UUID, error)
	// Toggle flips the pair and reports whether it is now a favourite.
	Toggle(ctx context.Context, physicianID, patientID uuid.UUID) (bool, error)
}
