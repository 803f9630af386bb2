package treatment

import (
	"context"

	"github.com/google/uuid"
)

type ConfigRepository interface {
	// GetByPatient returns apperr NotFound when the patient has no device.
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*DeviceDosageConfig, error)
	Upsert(ctx context.Context, cfg *DeviceDosageConfig) error
}
