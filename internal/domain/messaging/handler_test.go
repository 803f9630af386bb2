package messaging

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockGateway, *mockDirectory, *echo.Echo) {
	svc, gw, dir := newTestService()
	return NewHandler(svc), gw, dir, echo.New()
}

func asPhysician(req *http.Request, email string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{
		Subject: "u1", Email: email, Roles: []string{auth.RolePhysician},
	}))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_SendMessage(t *testing.T) {
	h, gw, dir, e := newTestHandler()
	dir.addPhysician("lila@medpod.local")
	pat := dir.addPatient("Jane")

	body := `{"recipient_id":"` + pat.ID.String() + `","subject":"Appointment Summary","body":"See you Tuesday"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.SendMessage(e.NewContext(asPhysician(req, "lila@medpod.local"), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(gw.sent))
	}
	var m Message
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.Subject != "Appointment Summary" || m.RecipientID == nil || *m.RecipientID != pat.ID {
		t.Errorf("unexpected response %+v", m)
	}
}

func TestHandler_SendMessage_ValidationIs400(t *testing.T) {
	h, gw, dir, e := newTestHandler()
	dir.addPhysician("lila@medpod.local")
	pat := dir.addPatient("Jane")

	body := `{"recipient_id":"` + pat.ID.String() + `","subject":"  ","body":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.SendMessage(e.NewContext(asPhysician(req, "lila@medpod.local"), httptest.NewRecorder()))
	if code := statusOf(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if gw.sendCalls != 0 {
		t.Error("gateway must not be called")
	}
}

func TestHandler_SendMessage_GatewayDownIs502(t *testing.T) {
	h, gw, dir, e := newTestHandler()
	dir.addPhysician("lila@medpod.local")
	pat := dir.addPatient("Jane")
	gw.err = apperr.Transport("mock", errors.New("refused"))

	body := `{"recipient_id":"` + pat.ID.String() + `","subject":"Hi","body":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.SendMessage(e.NewContext(asPhysician(req, "lila@medpod.local"), httptest.NewRecorder()))
	if code := statusOf(t, err); code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", code)
	}
}

func TestHandler_SendMessage_Unauthenticated(t *testing.T) {
	h, _, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if code := statusOf(t, h.SendMessage(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestHandler_ListMessages(t *testing.T) {
	h, gw, _, e := newTestHandler()
	pat := uuid.New()
	other := uuid.New()
	gw.stored = []*Message{
		{ID: "1", RecipientID: &pat, Sent: time.Date(2023, 10, 19, 0, 0, 0, 0, time.UTC)},
		{ID: "2", RecipientID: &pat, Sent: time.Date(2023, 11, 4, 0, 0, 0, 0, time.UTC)},
		{ID: "3", RecipientID: &other, Sent: time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC)},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?recipient_id="+pat.String(), nil)
	if err := h.ListMessages(e.NewContext(asPhysician(req, "lila@medpod.local"), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []Message
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 2 || got[0].ID != "2" {
		t.Errorf("unexpected messages %+v", got)
	}
}

func TestHandler_ListMessages_BadParams(t *testing.T) {
	h, _, _, e := newTestHandler()
	for _, q := range []string{"?sender_id=nope", "?recipient_id=nope", "?limit=-1", "?limit=ten"} {
		req := asPhysician(httptest.NewRequest(http.MethodGet, "/api/v1/messages"+q, nil), "lila@medpod.local")
		if code := statusOf(t, h.ListMessages(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestHandler_PatientsCannotSend(t *testing.T) {
	h, _, _, e := newTestHandler()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := auth.Identity{Subject: uuid.NewString(), Roles: []string{auth.RolePatient}}
			c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for read, got %d", rec.Code)
	}
}

func asPatient(req *http.Request, id uuid.UUID) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{
		Subject: id.String(), Roles: []string{auth.RolePatient},
	}))
}

func TestHandler_ListMessages_PatientSeesOnlyOwnInbox(t *testing.T) {
	h, gw, _, e := newTestHandler()
	self := uuid.New()
	other := uuid.New()
	gw.stored = []*Message{
		{ID: "1", RecipientID: &self, Subject: "Yours", Sent: time.Date(2023, 10, 19, 0, 0, 0, 0, time.UTC)},
		{ID: "2", RecipientID: &other, Subject: "Private", Sent: time.Date(2023, 11, 4, 0, 0, 0, 0, time.UTC)},
	}

	for _, q := range []string{"", "?recipient_id=" + self.String()} {
		rec := httptest.NewRecorder()
		req := asPatient(httptest.NewRequest(http.MethodGet, "/api/v1/messages"+q, nil), self)
		if err := h.ListMessages(e.NewContext(req, rec)); err != nil {
			t.Fatalf("%q: unexpected error: %v", q, err)
		}
		var got []Message
		json.Unmarshal(rec.Body.Bytes(), &got)
		if len(got) != 1 || got[0].ID != "1" {
			t.Errorf("%q: expected only own message, got %+v", q, got)
		}
	}

	req := asPatient(httptest.NewRequest(http.MethodGet, "/api/v1/messages?recipient_id="+other.String(), nil), self)
	if code := statusOf(t, h.ListMessages(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusNotFound {
		t.Errorf("other inbox: expected 404, got %d", code)
	}
}

func TestHandler_ListMessages_PatientWithoutRecord(t *testing.T) {
	h, _, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Subject: "not-a-uuid", Roles: []string{auth.RolePatient}}))
	if code := statusOf(t, h.ListMessages(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListMessages_Unauthenticated(t *testing.T) {
	h, _, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	if code := statusOf(t, h.ListMessages(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}
