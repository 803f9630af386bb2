package portal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medpod/medpod/internal/domain/identity"
	"github.com/medpod/medpod/internal/domain/messaging"
	"github.com/medpod/medpod/internal/domain/treatment"
	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/auth"
)

// detailMessageLimit caps the messages shown on the detail screen.
const detailMessageLimit = 50

// Directory is implemented by *identity.Service.
type Directory interface {
	FetchPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	FetchAllPatients(ctx context.Context) ([]*identity.Patient, error)
	ResolvePhysicianByEmail(ctx context.Context, email string) (*identity.Physician, error)
	FavoriteIDs(ctx context.Context, physicianID uuid.UUID) (map[uuid.UUID]bool, error)
	ToggleFavorite(ctx context.Context, physicianID, patientID uuid.UUID) (bool, error)
}

// Messages is implemented by *messaging.Service.
type Messages interface {
	ListMessages(ctx context.Context, f messaging.Filter) ([]*messaging.Message, error)
	SendAs(ctx context.Context, caller auth.Identity, recipientID, subject, body string) (*messaging.Message, error)
}

// Plans is implemented by *treatment.Service.
type Plans interface {
	PlanForPatient(ctx context.Context, patientID uuid.UUID) (*treatment.TreatmentPlan, error)
	Now() time.Time
}

type Service struct {
	dir      Directory
	messages Messages
	plans    Plans
	logger   zerolog.Logger
}

func NewService(dir Directory, messages Messages, plans Plans, logger zerolog.Logger) *Service {
	return &Service{
		dir:      dir,
		messages: messages,
		plans:    plans,
		logger:   logger.With().Str("component", "portal").Logger(),
	}
}

// Detail loads the patient, the current treatment plan and the patient's
// messages concurrently. Only a failed patient lookup fails the call; the
// other sections degrade to empty with a warning.
func (s *Service) Detail(ctx context.Context, viewer auth.Identity, patientID uuid.UUID) (*PatientDetail, error) {
	if !auth.CanViewPatient(viewer, patientID) {
		return nil, apperr.NotFound("portal.Detail", "patient not found")
	}

	var (
		patient  *identity.Patient
		plan     *treatment.TreatmentPlan
		msgs     []*messaging.Message
		warnPlan bool
		warnMsgs bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patient, err = s.dir.FetchPatient(gctx, patientID)
		return err
	})
	g.Go(func() error {
		var err error
		plan, err = s.plans.PlanForPatient(gctx, patientID)
		switch {
		case apperr.IsNotFound(err):
			plan = nil
		case err != nil:
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("treatment plan unavailable")
			plan, warnPlan = nil, true
		}
		return nil
	})
	g.Go(func() error {
		var err error
		msgs, err = s.messages.ListMessages(gctx, messaging.Filter{RecipientID: &patientID, Limit: detailMessageLimit})
		if err != nil {
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("messages unavailable")
			msgs, warnMsgs = nil, true
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.plans.Now()
	d := &PatientDetail{
		Patient:       patient,
		Age:           identity.Age(patient.Birthdate, now),
		AgeExact:      identity.ExactAge(patient.Birthdate, now),
		Birthdate:     patient.Birthdate.Format(dateLayout),
		PatientSince:  patient.PatientSince.Format(dateLayout),
		TreatmentPlan: plan,
		StreamPath:    streamPath(patientID),
		Messages:      msgs,
	}
	if d.Messages == nil {
		d.Messages = []*messaging.Message{}
	}
	if warnPlan {
		d.Warnings = append(d.Warnings, "treatment_plan")
	}
	if warnMsgs {
		d.Warnings = append(d.Warnings, "messages")
	}
	return d, nil
}

// List returns the patients whose name contains query, sorted by name, with
// the viewer's favourites marked.
func (s *Service) List(ctx context.Context, viewer auth.Identity, query string, ascending bool) (*PatientList, error) {
	patients, err := s.dir.FetchAllPatients(ctx)
	if err != nil {
		return nil, err
	}
	favorites := s.favoritesOf(ctx, viewer)
	now := s.plans.Now()

	matched := identity.FilterAndSort(patients, query, ascending)
	rows := make([]PatientRow, 0, len(matched))
	for _, p := range matched {
		rows = append(rows, PatientRow{
			PatientID:    p.ID,
			Name:         p.Name,
			Gender:       p.Gender,
			Age:          identity.Age(p.Birthdate, now),
			ProfileImage: p.ProfileImage,
			Favorite:     favorites[p.ID],
			DetailPath:   detailPath(p.ID),
		})
	}
	return &PatientList{Query: query, Ascending: ascending, Patients: rows}, nil
}

// favoritesOf never fails the list; a viewer without a physician record
// simply has no favourites.
func (s *Service) favoritesOf(ctx context.Context, viewer auth.Identity) map[uuid.UUID]bool {
	if viewer.Email == "" {
		return nil
	}
	physician, err := s.dir.ResolvePhysicianByEmail(ctx, viewer.Email)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.logger.Warn().Err(err).Msg("resolve physician for favourites")
		}
		return nil
	}
	favs, err := s.dir.FavoriteIDs(ctx, physician.ID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load favourites")
		return nil
	}
	return favs
}

func (s *Service) ToggleFavorite(ctx context.Context, viewer auth.Identity, patientID uuid.UUID) (*FavoriteState, error) {
	const op = "portal.ToggleFavorite"
	if viewer.Email == "" {
		return nil, apperr.Validation(op, "caller has no email")
	}
	physician, err := s.dir.ResolvePhysicianByEmail(ctx, viewer.Email)
	if apperr.IsNotFound(err) {
		return nil, apperr.Validation(op, "caller is not a registered physician")
	}
	if err != nil {
		return nil, err
	}
	on, err := s.dir.ToggleFavorite(ctx, physician.ID, patientID)
	if err != nil {
		return nil, err
	}
	return &FavoriteState{PatientID: patientID, Favorite: on}, nil
}

// SendMessage sends from the viewer to the patient on the detail screen.
func (s *Service) SendMessage(ctx context.Context, viewer auth.Identity, patientID uuid.UUID, subject, body string) (*messaging.Message, error) {
	return s.messages.SendAs(ctx, viewer, patientID.String(), subject, body)
}
