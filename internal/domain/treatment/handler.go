package treatment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/auth"
	"github.com/medpod/medpod/internal/platform/websocket"
)

type Handler struct {
	svc *Service
	hub *websocket.Hub
}

func NewHandler(svc *Service, hub *websocket.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RolePatient))
	read.GET("/patients/:id/treatment-plan", h.GetPlan)
	read.GET("/patients/:id/treatment-plan/stream", h.StreamPlan)
	read.GET("/patients/:id/device-config", h.GetConfig)

	write := api.Group("", auth.RequireRole(auth.RolePhysician))
	write.PUT("/patients/:id/device-config", h.PutConfig)
}

// readablePatient parses :id and checks the caller may read that patient.
// Patients asking for someone else get the same 404 as an unknown id.
func readablePatient(c echo.Context) (uuid.UUID, error) {
	caller, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if !auth.CanViewPatient(caller, id) {
		return uuid.Nil, apperr.ToHTTP(apperr.NotFound("treatment.read", "patient not found"))
	}
	return id, nil
}

func (h *Handler) GetPlan(c echo.Context) error {
	id, err := readablePatient(c)
	if err != nil {
		return err
	}
	plan, err := h.svc.PlanForPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *Handler) GetConfig(c echo.Context) error {
	id, err := readablePatient(c)
	if err != nil {
		return err
	}
	cfg, err := h.svc.GetConfig(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

type configRequest struct {
	InitialMedication float64  `json:"initial_medication"`
	MedicationLeft    float64  `json:"medication_left"`
	Schedule          []string `json:"schedule"`
}

func (h *Handler) PutConfig(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req configRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg := &DeviceDosageConfig{
		PatientID:         id,
		InitialMedication: req.InitialMedication,
		MedicationLeft:    req.MedicationLeft,
		Schedule:          req.Schedule,
	}
	if err := h.svc.UpdateConfig(c.Request().Context(), cfg); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// StreamPlan upgrades to a WebSocket that receives the current plan at once
// and a fresh one on every refresher tick.
func (h *Handler) StreamPlan(c echo.Context) error {
	id, err := readablePatient(c)
	if err != nil {
		return err
	}
	plan, err := h.svc.PlanForPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	evt, err := PlanEvent(plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "encode treatment plan")
	}
	return h.hub.Serve(c, Topic(id), &evt)
}
