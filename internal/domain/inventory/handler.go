package inventory

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/errs"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc              *Service
	defaultAlertDays int
}

func NewHandler(svc *Service, defaultAlertDays int) *Handler {
	return &Handler{svc: svc, defaultAlertDays: defaultAlertDays}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/inventory", auth.RequireRole(
		auth.RoleAdministrator, auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/consumables", h.ListConsumables)
	read.GET("/consumables/:id/batches", h.ListBatches)
	read.GET("/consumables/:id/valuation", h.GetValuation)
	read.GET("/batches/:id", h.GetBatch)
	read.GET("/batches/:id/usage", h.ListUsageByBatch)
	read.GET("/expiry/alerts", h.ExpiryAlerts)

	// Receiving and allocation are nursing responsibilities
	write := api.Group("/inventory", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	write.POST("/batches", h.ReceiveStock)
	write.POST("/usage", h.RecordUsage)

	admin := api.Group("/inventory", auth.RequireRole(auth.RoleAdministrator))
	admin.POST("/expiry/sweep", h.ExpirySweep)
}

func (h *Handler) ReceiveStock(c echo.Context) error {
	var b StockBatch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	if err := h.svc.ReceiveStock(c.Request().Context(), caller, &b); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) RecordUsage(c echo.Context) error {
	var req UsageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	rec, err := h.svc.RecordUsage(c.Request().Context(), caller, req)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusCreated, rec)
}

type sweepRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

func (h *Handler) ExpirySweep(c echo.Context) error {
	var req sweepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	asOf := time.Time{}
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	expired, err := h.svc.ExpirySweep(c.Request().Context(), caller, asOf)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": expired})
}

func (h *Handler) ExpiryAlerts(c echo.Context) error {
	days := h.defaultAlertDays
	if v := c.QueryParam("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid days")
		}
		days = parsed
	}

	alerts, err := h.svc.ExpiryAlerts(c.Request().Context(), days)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBatch(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBatches(c echo.Context) error {
	consumableID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)

	batches, total, err := h.svc.ListBatches(c.Request().Context(), consumableID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(batches, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListConsumables(c echo.Context) error {
	consumables, err := h.svc.ListConsumables(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, consumables)
}

func (h *Handler) GetValuation(c echo.Context) error {
	consumableID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Valuation(c.Request().Context(), consumableID)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListUsageByBatch(c echo.Context) error {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)

	records, total, err := h.svc.ListUsageByBatch(c.Request().Context(), batchID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}
