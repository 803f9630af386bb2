package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/medpod/medpod/internal/platform/apperr"
)

// ErrSendUnsupported is returned by the HTTP gateway, whose endpoint is
// read-only.
var ErrSendUnsupported = errors.New("message endpoint does not accept new messages")

const mockDateLayout = "01/02/2006"

// mockMessage is one element of the GET /messages array.
type mockMessage struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// httpGateway reads messages from the standalone messages endpoint. Calls go
// through a circuit breaker so a dead endpoint fails fast; nothing is retried.
type httpGateway struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]mockMessage]
	logger  zerolog.Logger
}

func NewHTTPGateway(baseURL string, timeout time.Duration, logger zerolog.Logger) Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.With().Str("component", "messages-http").Logger()
	return &httpGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]mockMessage](gobreaker.Settings{
			Name:    "messages-endpoint",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		}),
		logger: log,
	}
}

func (g *httpGateway) Send(context.Context, *Message) error {
	return apperr.Transport("messaging.Send", ErrSendUnsupported)
}

// List fetches every message the endpoint has. The payload carries sender
// names but no ids, so id filters cannot be applied and are logged as
// ignored; Limit is applied.
func (g *httpGateway) List(ctx context.Context, f Filter) ([]*Message, error) {
	const op = "messaging.List"
	if f.SenderID != nil || f.RecipientID != nil {
		ev := g.logger.Warn()
		if f.SenderID != nil {
			ev = ev.Str("sender_id", f.SenderID.String())
		}
		if f.RecipientID != nil {
			ev = ev.Str("recipient_id", f.RecipientID.String())
		}
		ev.Msg("messages endpoint cannot filter by id; returning unfiltered messages")
	}
	raw, err := g.breaker.Execute(func() ([]mockMessage, error) {
		return g.fetch(ctx)
	})
	if err != nil {
		return nil, apperr.Transport(op, err)
	}

	msgs := make([]*Message, 0, len(raw))
	for _, r := range raw {
		sent, err := time.Parse(mockDateLayout, r.Date)
		if err != nil {
			return nil, apperr.Transport(op, fmt.Errorf("message %s: bad date %q", r.ID, r.Date))
		}
		msgs = append(msgs, &Message{
			ID:         r.ID,
			SenderName: r.Sender,
			Subject:    r.Subject,
			Body:       r.Body,
			Sent:       sent,
		})
	}
	sortNewestFirst(msgs)
	if f.Limit > 0 && len(msgs) > f.Limit {
		msgs = msgs[:f.Limit]
	}
	return msgs, nil
}

func (g *httpGateway) fetch(ctx context.Context) ([]mockMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/messages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET /messages returned status %d", resp.StatusCode)
	}

	var out []mockMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode /messages: %w", err)
	}
	return out, nil
}
