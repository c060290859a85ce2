package facility

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chu/allocator/pkg/pagination"
)

// Handler exposes read-only views of the registry. Values are diagnostics
// only and may lag concurrent reservations.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/facilities", h.ListFacilities)
	g.GET("/facilities/:id", h.GetFacility)
	g.GET("/facilities/:id/usage", h.GetUsage)
}

func (h *Handler) ListFacilities(c echo.Context) error {
	pg := pagination.FromContext(c)
	all := h.registry.Facilities()
	total := len(all)
	start := pg.Offset
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(all[start:end], total, pg.Limit, pg.Offset))
}

func (h *Handler) GetFacility(c echo.Context) error {
	f, ok := h.registry.Lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) GetUsage(c echo.Context) error {
	day := 0
	if raw := c.QueryParam("day"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid day")
		}
		day = d
	}
	u, err := h.registry.Usage(c.Param("id"), day)
	if errors.Is(err, ErrUnknownFacility) {
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	}
	if errors.Is(err, ErrDayPruned) {
		return echo.NewHTTPError(http.StatusGone, "day is no longer tracked")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, u)
}
