package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `patient_id, name, gender, height, weight, birthdate, patient_since, profile_image`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Gender, &p.Height, &p.Weight,
		&p.Birthdate, &p.PatientSince, &p.ProfileImage)
	return &p, err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	const op = "identity.GetPatient"
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(op, "patient not found")
	}
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	return p, nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	const op = "identity.ListPatients"
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, apperr.Transport(op, err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients ORDER BY name, patient_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.Transport(op, err)
	}
	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, apperr.Transport(op, err)
	}
	return patients, total, nil
}

func (r *patientRepoPG) ListAll(ctx context.Context) ([]*Patient, error) {
	const op = "identity.ListAllPatients"
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY patient_since, patient_id`)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	patients, err := collectPatients(rows)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	return patients, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// -- Physician Repository --

type physicianRepoPG struct{ pool *pgxpool.Pool }

func NewPhysicianRepo(pool *pgxpool.Pool) PhysicianRepository {
	return &physicianRepoPG{pool: pool}
}

func (r *physicianRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *physicianRepoPG) scan(op string, row pgx.Row) (*Physician, error) {
	var p Physician
	err := row.Scan(&p.ID, &p.Email, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(op, "physician not found")
	}
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	return &p, nil
}

func (r *physicianRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Physician, error) {
	return r.scan("identity.GetPhysician", r.conn(ctx).QueryRow(ctx,
		`SELECT physician_id, email, name FROM physicians WHERE physician_id = $1`, id))
}

func (r *physicianRepoPG) GetByEmail(ctx context.Context, email string) (*Physician, error) {
	return r.scan("identity.GetPhysicianByEmail", r.conn(ctx).QueryRow(ctx,
		`SELECT physician_id, email, name FROM physicians WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email))))
}

// -- Favorite Repository --

type favoriteRepoPG struct{ pool *pgxpool.Pool }

func NewFavoriteRepo(pool *pgxpool.Pool) FavoriteRepository {
	return &favoriteRepoPG{pool: pool}
}

func (r *favoriteRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *favoriteRepoPG) ListByPhysician(ctx context.Context, physicianID uuid.UUID) ([]uuid.UUID, error) {
	const op = "identity.ListFavorites"
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT patient_id FROM physician_favorites WHERE physician_id = $1`, physicianID)
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, apperr.Transport(op, err)
	}
	return ids, nil
}

// Toggle deletes the pair if present and inserts it otherwise, in one
// statement. A returned row means the insert happened.
func (r *favoriteRepoPG) Toggle(ctx context.Context, physicianID, patientID uuid.UUID) (bool, error) {
	const op = "identity.ToggleFavorite"
	var favorite bool
	err := r.conn(ctx).QueryRow(ctx, `
		WITH removed AS (
			DELETE FROM physician_favorites
			WHERE physician_id = $1 AND patient_id = $2
			RETURNING 1
		)
		INSERT INTO physician_favorites (physician_id, patient_id)
		SELECT $1, $2 WHERE NOT EXISTS (SELECT 1 FROM removed)
		RETURNING true`, physicianID, patientID).Scan(&favorite)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transport(op, err)
	}
	return favorite, nil
}
