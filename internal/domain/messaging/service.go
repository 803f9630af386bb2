package messaging

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medpod/medpod/internal/domain/identity"
	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/auth"
	"github.com/medpod/medpod/internal/platform/telemetry"
)

// Directory resolves the people on either end of a message.
// *identity.Service implements it.
type Directory interface {
	GetPhysician(ctx context.Context, id uuid.UUID) (*identity.Physician, error)
	ResolvePhysicianByEmail(ctx context.Context, email string) (*identity.Physician, error)
	FetchPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

type Service struct {
	gateway Gateway
	dir     Directory
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewService(gateway Gateway, dir Directory, logger zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		dir:     dir,
		logger:  logger.With().Str("component", "messaging").Logger(),
	}
}

// SetMetrics attaches optional Prometheus counters.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

func validateContent(subject, body string) error {
	const op = "messaging.SendMessage"
	if strings.TrimSpace(subject) == "" {
		return apperr.Validation(op, "subject is required")
	}
	if strings.TrimSpace(body) == "" {
		return apperr.Validation(op, "message body is required")
	}
	return nil
}

// SendMessage sends a message from the physician senderID to the patient
// recipientID. Every check runs before the gateway is called; a failed check
// returns a validation error and nothing is sent.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, subject, body string) (*Message, error) {
	const op = "messaging.SendMessage"
	if err := validateContent(subject, body); err != nil {
		s.metrics.MessageOutcome("rejected")
		return nil, err
	}
	if strings.TrimSpace(senderID) == "" {
		s.metrics.MessageOutcome("rejected")
		return nil, apperr.Validation(op, "sender is required")
	}
	if strings.TrimSpace(recipientID) == "" {
		s.metrics.MessageOutcome("rejected")
		return nil, apperr.Validation(op, "recipient is required")
	}

	sender, err := s.resolveSender(ctx, senderID)
	if err != nil {
		s.metrics.MessageOutcome(rejectOrFail(err))
		return nil, err
	}
	recipient, err := s.resolveRecipient(ctx, recipientID)
	if err != nil {
		s.metrics.MessageOutcome(rejectOrFail(err))
		return nil, err
	}

	m := &Message{
		SenderID:    &sender.ID,
		SenderName:  sender.Name,
		RecipientID: &recipient.ID,
		Subject:     strings.TrimSpace(subject),
		Body:        body,
	}
	if err := s.gateway.Send(ctx, m); err != nil {
		s.metrics.MessageOutcome("failed")
		s.metrics.UpstreamError("messages.send")
		s.logger.Error().Err(err).Str("recipient_id", recipientID).Msg("send message")
		return nil, err
	}
	s.metrics.MessageOutcome("sent")
	return m, nil
}

// SendAs sends on behalf of the authenticated caller, who must be a known
// physician.
func (s *Service) SendAs(ctx context.Context, caller auth.Identity, recipientID, subject, body string) (*Message, error) {
	const op = "messaging.SendMessage"
	if err := validateContent(subject, body); err != nil {
		s.metrics.MessageOutcome("rejected")
		return nil, err
	}
	if strings.TrimSpace(caller.Email) == "" {
		s.metrics.MessageOutcome("rejected")
		return nil, apperr.Validation(op, "sender is required")
	}
	physician, err := s.dir.ResolvePhysicianByEmail(ctx, caller.Email)
	if apperr.IsNotFound(err) {
		s.metrics.MessageOutcome("rejected")
		return nil, apperr.Validation(op, "sender is not a registered physician")
	}
	if err != nil {
		s.metrics.MessageOutcome("failed")
		return nil, err
	}
	return s.SendMessage(ctx, physician.ID.String(), recipientID, subject, body)
}

func (s *Service) resolveSender(ctx context.Context, senderID string) (*identity.Physician, error) {
	const op = "messaging.SendMessage"
	id, err := uuid.Parse(senderID)
	if err != nil {
		return nil, apperr.Validation(op, "sender is not a valid id")
	}
	p, err := s.dir.GetPhysician(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, apperr.Validation(op, "sender is not a registered physician")
	}
	return p, err
}

func (s *Service) resolveRecipient(ctx context.Context, recipientID string) (*identity.Patient, error) {
	const op = "messaging.SendMessage"
	id, err := uuid.Parse(recipientID)
	if err != nil {
		return nil, apperr.Validation(op, "recipient is not a valid id")
	}
	p, err := s.dir.FetchPatient(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, apperr.Validation(op, "recipient is not a known patient")
	}
	return p, err
}

// ListMessages returns matching messages, newest first.
func (s *Service) ListMessages(ctx context.Context, f Filter) ([]*Message, error) {
	msgs, err := s.gateway.List(ctx, f)
	if err != nil {
		s.metrics.UpstreamError("messages.list")
		s.logger.Error().Err(err).Msg("list messages")
		return nil, err
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	sortNewestFirst(msgs)
	if f.Limit > 0 && len(msgs) > f.Limit {
		msgs = msgs[:f.Limit]
	}
	return msgs, nil
}

func rejectOrFail(err error) string {
	if apperr.IsValidation(err) {
		return "rejected"
	}
	return "failed"
}

func sortNewestFirst(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Sent.After(msgs[j].Sent)
	})
}
