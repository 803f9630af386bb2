package treatment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/auth"
	"github.com/medpod/medpod/internal/platform/websocket"
)

func newTestHandler() (*Handler, *mockConfigRepo, *echo.Echo) {
	svc, repo := newTestService()
	h := NewHandler(svc, websocket.NewHub(zerolog.Nop()))
	return h, repo, echo.New()
}

func withIdentity(req *http.Request, id auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), id))
}

func physicianGet() *http.Request {
	return withIdentity(httptest.NewRequest(http.MethodGet, "/", nil),
		auth.Identity{Subject: "u1", Email: "lila@medpod.local", Roles: []string{auth.RolePhysician}})
}

func identityMiddleware(id auth.Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(withIdentity(c.Request(), id))
			return next(c)
		}
	}
}

func expectHTTPStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != want {
		t.Errorf("expected %d, got %d (%v)", want, he.Code, he.Message)
	}
}

func TestGetPlan_Success(t *testing.T) {
	h, repo, e := newTestHandler()
	cfg := sampleConfig()
	repo.store[cfg.PatientID] = &cfg

	req := physicianGet()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(cfg.PatientID.String())
	if err := h.GetPlan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var plan TreatmentPlan
	json.Unmarshal(rec.Body.Bytes(), &plan)
	if len(plan.Events) != 5 || plan.Events[0].RemainingPercent != 83 {
		t.Errorf("unexpected plan: %+v", plan)
	}
}

func TestGetPlan_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(physicianGet(), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPStatus(t, h.GetPlan(c), http.StatusBadRequest)
}

func TestGetPlan_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(physicianGet(), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPStatus(t, h.GetPlan(c), http.StatusNotFound)
}

func TestGetPlan_StoreDown(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.err = apperr.Transport("mock", errors.New("dial tcp: connection refused"))
	c := e.NewContext(physicianGet(), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	err := h.GetPlan(c)
	expectHTTPStatus(t, err, http.StatusBadGateway)
	if strings.Contains(err.Error(), "connection refused") {
		t.Error("store error leaked to the client")
	}
}

func TestGetConfig(t *testing.T) {
	h, repo, e := newTestHandler()
	cfg := sampleConfig()
	repo.store[cfg.PatientID] = &cfg

	rec := httptest.NewRecorder()
	c := e.NewContext(physicianGet(), rec)
	c.SetParamNames("id")
	c.SetParamValues(cfg.PatientID.String())
	if err := h.GetConfig(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got DeviceDosageConfig
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.InitialMedication != 100 || len(got.Schedule) != 5 {
		t.Errorf("unexpected config: %+v", got)
	}
}

func TestPutConfig_Success(t *testing.T) {
	h, repo, e := newTestHandler()
	id := uuid.New()
	body := `{"initial_medication":50,"medication_left":20,"schedule":["08:00","20:00"]}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	if err := h.PutConfig(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if stored, ok := repo.store[id]; !ok || stored.MedicationLeft != 20 {
		t.Errorf("config not stored: %+v", stored)
	}
}

func TestPutConfig_Invalid(t *testing.T) {
	h, repo, e := newTestHandler()
	body := `{"initial_medication":50,"medication_left":20,"schedule":["20:00","08:00"]}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPStatus(t, h.PutConfig(c), http.StatusBadRequest)
	if len(repo.store) != 0 {
		t.Error("invalid config stored")
	}
}

func TestPutConfig_MalformedBody(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"schedule":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPStatus(t, h.PutConfig(c), http.StatusBadRequest)
}

func TestStreamPlan_UnknownPatient(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(physicianGet(), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPStatus(t, h.StreamPlan(c), http.StatusNotFound)
}

func TestStreamPlan_SendsCurrentPlanOnConnect(t *testing.T) {
	h, repo, e := newTestHandler()
	cfg := sampleConfig()
	repo.store[cfg.PatientID] = &cfg
	e.Use(identityMiddleware(auth.Identity{Subject: "u1", Roles: []string{auth.RolePhysician}}))
	e.GET("/patients/:id/treatment-plan/stream", h.StreamPlan)

	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/patients/" + cfg.PatientID.String() + "/treatment-plan/stream"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt websocket.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != EventPlan || evt.Topic != Topic(cfg.PatientID) {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestRegisterRoutes_RequiresPhysicianToWrite(t *testing.T) {
	h, _, e := newTestHandler()
	e.Use(identityMiddleware(auth.Identity{Subject: "p-1", Roles: []string{auth.RolePatient}}))
	h.RegisterRoutes(e.Group("/api/v1"))

	body := `{"initial_medication":50,"medication_left":20,"schedule":["08:00"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/patients/"+uuid.NewString()+"/device-config", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+uuid.NewString()+"/treatment-plan", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a patient without a device, got %d", rec.Code)
	}
}

func TestRegisterRoutes_PatientReadsOnlyOwnRecords(t *testing.T) {
	h, repo, e := newTestHandler()
	self := sampleConfig()
	other := sampleConfig()
	other.PatientID = uuid.New()
	repo.store[self.PatientID] = &self
	repo.store[other.PatientID] = &other

	e.Use(identityMiddleware(auth.Identity{Subject: self.PatientID.String(), Roles: []string{auth.RolePatient}}))
	h.RegisterRoutes(e.Group("/api/v1"))

	get := func(id uuid.UUID, suffix string) int {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+id.String()+suffix, nil))
		return rec.Code
	}
	for _, suffix := range []string{"/treatment-plan", "/device-config", "/treatment-plan/stream"} {
		if code := get(other.PatientID, suffix); code != http.StatusNotFound {
			t.Errorf("other patient's %s: expected 404, got %d", suffix, code)
		}
	}
	for _, suffix := range []string{"/treatment-plan", "/device-config"} {
		if code := get(self.PatientID, suffix); code != http.StatusOK {
			t.Errorf("own %s: expected 200, got %d", suffix, code)
		}
	}
}

func TestGetPlan_Unauthenticated(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	expectHTTPStatus(t, h.GetPlan(c), http.StatusUnauthorized)
}
