package allocation

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/assign-patients", h.AssignPatients)
}

func (h *Handler) AssignPatients(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be {patients: [...], day: n}")
	}
	results, err := h.svc.AssignBatch(c.Request().Context(), req.batch())
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "allocation interrupted, batch not applied")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, newAssignResponse(results))
}
