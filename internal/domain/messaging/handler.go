package messaging

import (
	"net/http"
	"strconv"

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
	read := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RolePatient))
	read.GET("/messages", h.ListMessages)

	write := api.Group("", auth.RequireRole(auth.RolePhysician))
	write.POST("/messages", h.SendMessage)
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// ListMessages filters by sender_id, recipient_id and limit. Patients only
// ever see their own inbox: recipient_id is pinned to their subject and any
// other recipient is reported as not found.
func (h *Handler) ListMessages(c echo.Context) error {
	caller, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var f Filter
	var err error
	if f.SenderID, err = optionalUUID(c, "sender_id"); err != nil {
		return err
	}
	if f.RecipientID, err = optionalUUID(c, "recipient_id"); err != nil {
		return err
	}
	if v := c.QueryParam("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	if !caller.HasRole(auth.RolePhysician) {
		self, err := uuid.Parse(caller.Subject)
		if err != nil || (f.RecipientID != nil && *f.RecipientID != self) {
			return apperr.ToHTTP(apperr.NotFound("messaging.ListMessages", "patient not found"))
		}
		f.RecipientID = &self
	}

	msgs, err := h.svc.ListMessages(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, msgs)
}

// SendRequest is the body of a send. The sender is always the caller.
type SendRequest struct {
	RecipientID string `json:"recipient_id"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	caller, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.SendAs(c.Request().Context(), caller, req.RecipientID, req.Subject, req.Body)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}
