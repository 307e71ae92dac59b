package booking

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/errs"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/booking", auth.RequireRole(
		auth.RoleAdministrator, auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/locations", h.ListLocations)
	read.GET("/locations/:id/available", h.ListAvailable)

	clerk := api.Group("/booking", auth.RequireRole(auth.RoleClerk))
	clerk.POST("/locations/:id/slots", h.GenerateSlots)
	clerk.POST("/appointments/book", h.BookAppointment)
	clerk.POST("/appointments/:id/cancel", h.Cancel)
	clerk.POST("/appointments/:id/complete", h.Complete)
	clerk.POST("/appointments/:id/no-show", h.MarkNoShow)
}

// RegisterPublicRoutes exposes the reference lookup without authentication
// so patients can check their booking status.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/bookings/:reference", h.GetByReference)
}

func (h *Handler) GenerateSlots(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	created, err := h.svc.GenerateSlots(c.Request().Context(), caller, id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, map[string]int{"slots_created": created})
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	a, err := h.svc.BookAppointment(c.Request().Context(), caller, req)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, h.svc.Complete)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.transition(c, h.svc.MarkNoShow)
}

func (h *Handler) transition(c echo.Context, fn func(context.Context, auth.Identity, uuid.UUID) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	if err := fn(c.Request().Context(), caller, id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetByReference(c echo.Context) error {
	a, err := h.svc.GetByReference(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	// The public lookup exposes status only, not contact details.
	return c.JSON(http.StatusOK, map[string]interface{}{
		"booking_reference": a.BookingReference,
		"status":            a.Status,
		"appointment_time":  a.AppointmentTime,
	})
}

func (h *Handler) ListAvailable(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appts, err := h.svc.ListAvailable(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) ListLocations(c echo.Context) error {
	var from time.Time
	if v := c.QueryParam("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
		}
		from = parsed
	}
	locs, err := h.svc.ListLocations(c.Request().Context(), from)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, locs)
}
