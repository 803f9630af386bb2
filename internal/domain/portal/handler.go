package portal

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medpod/medpod/internal/platform/apperr"
	"github.com/medpod/medpod/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/portal")

	physician := g.Group("", auth.RequireRole(auth.RolePhysician))
	physician.GET("/patients", h.ListPatients)
	physician.PUT("/patients/:id/favorite", h.ToggleFavorite)
	physician.POST("/patients/:id/messages", h.SendMessage)

	g.GET("/patients/:id", h.GetPatientDetail, auth.RequireRole(auth.RolePhysician, auth.RolePatient))
}

func caller(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func (h *Handler) ListPatients(c echo.Context) error {
	viewer, err := caller(c)
	if err != nil {
		return err
	}
	ascending := true
	switch c.QueryParam("order") {
	case "", "asc":
	case "desc":
		ascending = false
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "order must be asc or desc")
	}
	list, err := h.svc.List(c.Request().Context(), viewer, c.QueryParam("q"), ascending)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetPatientDetail(c echo.Context) error {
	viewer, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Detail(c.Request().Context(), viewer, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ToggleFavorite(c echo.Context) error {
	viewer, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	state, err := h.svc.ToggleFavorite(c.Request().Context(), viewer, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, state)
}

type sendRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	viewer, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.SendMessage(c.Request().Context(), viewer, id, req.Subject, req.Body)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}
