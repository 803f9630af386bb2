package treatment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/medpod/medpod/internal/platform/websocket"
)

const (
	topicPrefix   = "treatment-plan:"
	EventPlan     = "treatment-plan"
	EventPlanFail = "treatment-plan-error"
)

// Topic is the stream topic carrying plans for one patient.
func Topic(patientID uuid.UUID) string {
	return topicPrefix + patientID.String()
}

func patientFromTopic(topic string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	return id, err == nil
}

// PlanEvent wraps plan for the stream.
func PlanEvent(plan *TreatmentPlan) (websocket.Event, error) {
	return websocket.NewEvent(EventPlan, Topic(plan.PatientID), plan.ComputedAt, plan)
}

// Refresher recomputes the plan of every patient with an open stream on a
// fixed interval and pushes it to the subscribers.
type Refresher struct {
	svc      *Service
	hub      *websocket.Hub
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewRefresher(svc *Service, hub *websocket.Hub, interval time.Duration, logger zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		svc:      svc,
		hub:      hub,
		interval: interval,
		logger:   logger.With().Str("component", "treatment-refresher").Logger(),
	}
}

func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("treatment refresher already running")
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{r.logger})))
	if _, err := c.AddFunc("@every "+r.interval.String(), r.Tick); err != nil {
		return fmt.Errorf("schedule treatment refresh: %w", err)
	}
	c.Start()

	r.cron = c
	r.running = true
	r.logger.Info().Dur("interval", r.interval).Msg("treatment refresher started")
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	c := r.cron
	r.running = false
	r.mu.Unlock()

	<-c.Stop().Done()
	r.logger.Info().Msg("treatment refresher stopped")
}

func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Tick recomputes and broadcasts once. A failure for one patient is logged
// and does not stop the others.
func (r *Refresher) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	for _, topic := range r.hub.Topics() {
		patientID, ok := patientFromTopic(topic)
		if !ok {
			continue
		}
		plan, err := r.svc.PlanForPatient(ctx, patientID)
		if err != nil {
			r.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("refresh treatment plan")
			if evt, evErr := websocket.NewEvent(EventPlanFail, topic, r.svc.Now(),
				map[string]string{"error": "treatment plan unavailable"}); evErr == nil {
				r.hub.Broadcast(topic, evt)
			}
			continue
		}
		evt, err := PlanEvent(plan)
		if err != nil {
			r.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("encode treatment plan")
			continue
		}
		r.hub.Broadcast(topic, evt)
	}
}

// cronLogger routes cron's own diagnostics into zerolog.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
