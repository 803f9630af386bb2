package treatment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medpod/medpod/internal/platform/telemetry"
)

// Clock supplies the current time. Tests freeze it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the process clock.
var SystemClock Clock = ClockFunc(time.Now)

type Service struct {
	configs ConfigRepository
	clock   Clock
	loc     *time.Location
	policy  CompletionPolicy
	metrics *telemetry.Metrics
}

func NewService(configs ConfigRepository, clock Clock, policy CompletionPolicy) *Service {
	if clock == nil {
		clock = SystemClock
	}
	if policy == "" {
		policy = PolicyClock
	}
	return &Service{configs: configs, clock: clock, loc: time.Local, policy: policy}
}

// SetLocation sets the clinic time zone used to read the wall clock.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// SetMetrics attaches optional Prometheus counters.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Now is the current clinic wall-clock time.
func (s *Service) Now() time.Time {
	return s.clock.Now().In(s.loc)
}

func (s *Service) Policy() CompletionPolicy {
	return s.policy
}

func (s *Service) GetConfig(ctx context.Context, patientID uuid.UUID) (*DeviceDosageConfig, error) {
	return s.configs.GetByPatient(ctx, patientID)
}

// UpdateConfig validates cfg and stores it as the patient's device config.
func (s *Service) UpdateConfig(ctx context.Context, cfg *DeviceDosageConfig) error {
	if err := Validate(*cfg); err != nil {
		return err
	}
	return s.configs.Upsert(ctx, cfg)
}

// PlanForPatient projects the patient's stored config at the current time.
func (s *Service) PlanForPatient(ctx context.Context, patientID uuid.UUID) (*TreatmentPlan, error) {
	cfg, err := s.configs.GetByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.Plan(*cfg)
}

// Plan projects cfg at the current time.
func (s *Service) Plan(cfg DeviceDosageConfig) (*TreatmentPlan, error) {
	plan, err := Project(cfg, s.Now(), s.policy)
	if err != nil {
		return nil, err
	}
	s.metrics.ProjectionComputed()
	return plan, nil
}
