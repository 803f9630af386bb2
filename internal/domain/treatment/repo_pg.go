package treatment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/db"
)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository {
	return &configRepoPG{pool: pool}
}

func (r *configRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *configRepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*DeviceDosageConfig, error) {
	const op = "treatment.GetByPatient"
	var cfg DeviceDosageConfig
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, initial_medication, medication_left, schedule, updated_at
		FROM device_dosage_config WHERE patient_id = $1`, patientID).
		Scan(&cfg.PatientID, &cfg.InitialMedication, &cfg.MedicationLeft, &cfg.Schedule, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(op, "no device configured for patient")
	}
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	return &cfg, nil
}

func (r *configRepoPG) Upsert(ctx context.Context, cfg *DeviceDosageConfig) error {
	const op = "treatment.Upsert"
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO device_dosage_config (patient_id, initial_medication, medication_left, schedule, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (patient_id) DO UPDATE SET
			initial_medication = EXCLUDED.initial_medication,
			medication_left = EXCLUDED.medication_left,
			schedule = EXCLUDED.schedule,
			updated_at = NOW()
		RETURNING updated_at`,
		cfg.PatientID, cfg.InitialMedication, cfg.MedicationLeft, cfg.Schedule).Scan(&cfg.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return apperr.NotFound(op, "patient not found")
	}
	if err != nil {
		return apperr.Transport(op, err)
	}
	return nil
}
