package messaging

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/medpod/medpod/internal/platform/apperr"
)

const mockPayload = `[
  {"id":"1","sender":"Dr. Lila Millington","date":"11/02/2023","subject":"Updated Dosage (11/02)"},
  {"id":"2","sender":"Dr. Lila Millington","date":"11/04/2023","subject":"Appointment Summary"},
  {"id":"3","sender":"Dr. Lila Millington","date":"10/19/2023","subject":"Appointment Summary"}
]`

func newMockEndpoint(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/messages" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPGateway_List(t *testing.T) {
	srv, _ := newMockEndpoint(t, http.StatusOK, mockPayload)
	gw := NewHTTPGateway(srv.URL+"/", time.Second, zerolog.Nop())

	msgs, err := gw.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "2" || msgs[2].ID != "3" {
		t.Errorf("expected newest first, got %s, %s, %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	want := time.Date(2023, time.November, 4, 0, 0, 0, 0, time.UTC)
	if !msgs[0].Sent.Equal(want) {
		t.Errorf("sent = %v, want %v", msgs[0].Sent, want)
	}
	if msgs[0].SenderName != "Dr. Lila Millington" || msgs[0].SenderID != nil {
		t.Errorf("unexpected sender fields: %+v", msgs[0])
	}
}

func TestHTTPGateway_ListLimit(t *testing.T) {
	srv, _ := newMockEndpoint(t, http.StatusOK, mockPayload)
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.Nop())
	msgs, err := gw.List(context.Background(), Filter{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "2" {
		t.Errorf("unexpected result %+v", msgs)
	}
}

func TestHTTPGateway_BadDate(t *testing.T) {
	srv, _ := newMockEndpoint(t, http.StatusOK, `[{"id":"1","sender":"x","date":"2023-11-04","subject":"s"}]`)
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.Nop())
	if _, err := gw.List(context.Background(), Filter{}); !apperr.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestHTTPGateway_ServerError(t *testing.T) {
	srv, _ := newMockEndpoint(t, http.StatusInternalServerError, `oops`)
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.Nop())
	if _, err := gw.List(context.Background(), Filter{}); !apperr.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestHTTPGateway_MalformedJSON(t *testing.T) {
	srv, _ := newMockEndpoint(t, http.StatusOK, `{"not":"an array"}`)
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.Nop())
	if _, err := gw.List(context.Background(), Filter{}); !apperr.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestHTTPGateway_BreakerOpensAfterFailures(t *testing.T) {
	srv, hits := newMockEndpoint(t, http.StatusServiceUnavailable, ``)
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.Nop())

	for i := 0; i < 3; i++ {
		gw.List(context.Background(), Filter{})
	}
	before := atomic.LoadInt32(hits)

	_, err := gw.List(context.Background(), Filter{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
	if !apperr.IsTransport(err) {
		t.Errorf("expected transport kind, got %v", err)
	}
	if atomic.LoadInt32(hits) != before {
		t.Error("open breaker must not reach the endpoint")
	}
}

func TestHTTPGateway_SendUnsupported(t *testing.T) {
	srv, hits := newMockEndpoint(t, http.StatusOK, mockPayload)
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.Nop())
	err := gw.Send(context.Background(), &Message{Subject: "Hi", Body: "x"})
	if !errors.Is(err, ErrSendUnsupported) || !apperr.IsTransport(err) {
		t.Errorf("expected unsupported transport error, got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("send must not call the endpoint")
	}
}

func TestHTTPGateway_Unreachable(t *testing.T) {
	gw := NewHTTPGateway("http://127.0.0.1:1", 200*time.Millisecond, zerolog.Nop())
	if _, err := gw.List(context.Background(), Filter{}); !apperr.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestHTTPGateway_WarnsWhenIDFiltersIgnored(t *testing.T) {
	srv, _ := newMockEndpoint(t, http.StatusOK, mockPayload)
	var buf bytes.Buffer
	gw := NewHTTPGateway(srv.URL, time.Second, zerolog.New(&buf))

	if _, err := gw.List(context.Background(), Filter{Limit: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("limit-only list should not warn, got %s", buf.String())
	}

	recipient := uuid.New()
	msgs, err := gw.List(context.Background(), Filter{RecipientID: &recipient})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("expected the unfiltered 3 messages, got %d", len(msgs))
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, recipient.String()) {
		t.Errorf("expected a warning naming the ignored recipient, got %s", out)
	}
}
