package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medpod/medpod/internal/platform/apperr"
)

type Service struct {
	patients   PatientRepository
	physicians PhysicianRepository
	favorites  FavoriteRepository
}

func NewService(patients PatientRepository, physicians PhysicianRepository, favorites FavoriteRepository) *Service {
	return &Service{patients: patients, physicians: physicians, favorites: favorites}
}

// FetchPatient returns NotFound when the store has no such patient.
func (s *Service) FetchPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// FetchAllPatients returns an empty slice, not an error, when there are none.
func (s *Service) FetchAllPatients(ctx context.Context) ([]*Patient, error) {
	patients, err := s.patients.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return patients, nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// ResolvePhysicianByEmail maps a signed-in user's email to a physician.
func (s *Service) ResolvePhysicianByEmail(ctx context.Context, email string) (*Physician, error) {
	if strings.TrimSpace(email) == "" {
		return nil, apperr.Validation("identity.ResolvePhysicianByEmail", "email is required")
	}
	return s.physicians.GetByEmail(ctx, email)
}

func (s *Service) GetPhysician(ctx context.Context, id uuid.UUID) (*Physician, error) {
	return s.physicians.GetByID(ctx, id)
}

// FavoriteIDs returns the set of patients physicianID has marked.
func (s *Service) FavoriteIDs(ctx context.Context, physicianID uuid.UUID) (map[uuid.UUID]bool, error) {
	ids, err := s.favorites.ListByPhysician(ctx, physicianID)
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ToggleFavorite flips the favourite flag and returns the new state.
func (s *Service) ToggleFavorite(ctx context.Context, physicianID, patientID uuid.UUID) (bool, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return false, err
	}
	return s.favorites.Toggle(ctx, physicianID, patientID)
}
