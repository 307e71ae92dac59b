package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/errs"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Audit queries are administrator-only
	g := api.Group("/audit", auth.RequireRole(auth.RoleAdministrator))
	g.GET("/entries", h.SearchEntries)
	g.GET("/entries/:id", h.GetEntry)
	g.GET("/records/:table/:recordId", h.ListByRecord)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListByRecord(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	pg := pagination.FromContext(c)

	entries, total, err := h.svc.ListByRecord(c.Request().Context(), c.Param("table"), recordID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}

func (h *Handler) SearchEntries(c echo.Context) error {
	pg := pagination.FromContext(c)

	params := map[string]string{}
	for _, key := range []string{"user_id", "table", "action", "from", "to"} {
		if v := c.QueryParam(key); v != "" {
			params[key] = v
		}
	}

	entries, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}
