package visit

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

var allStaff = []string{
	auth.RoleAdministrator, auth.RoleDoctor, auth.RoleNurse,
	auth.RoleClerk, auth.RoleSocialWorker,
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(allStaff...))
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits/:id/workflow", h.ListProgress)
	read.GET("/visits/:id/notes", h.ListNotes)
	read.GET("/patients/:patientId/visits", h.ListVisitsByPatient)

	// Check-in and workflow reset
	intake := api.Group("", auth.RequireRole(auth.RoleClerk, auth.RoleNurse, auth.RoleDoctor))
	intake.POST("/visits", h.CreateVisit)
	intake.POST("/visits/:id/workflow/initialize", h.InitializeVisit)

	// Any staff member may attempt an advance; the service gates on the
	// stage's required role.
	advance := api.Group("", auth.RequireRole(allStaff...))
	advance.POST("/visits/:id/workflow/advance", h.AdvanceStage)

	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleSocialWorker))
	clinical.POST("/visits/:id/notes", h.AddNote)
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var v Visit
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	if err := h.svc.CreateVisit(c.Request().Context(), caller, &v); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisitsByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)

	visits, total, err := h.svc.ListVisitsByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) InitializeVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	if err := h.svc.InitializeVisit(c.Request().Context(), caller, id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "initialized"})
}

type advanceRequest struct {
	StageID       uuid.UUID              `json:"stage_id"`
	Notes         string                 `json:"notes"`
	CollectedData map[string]interface{} `json:"collected_data"`
}

func (h *Handler) AdvanceStage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var req advanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StageID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "stage_id is required")
	}

	caller := auth.IdentityFromContext(c.Request().Context())
	result, err := h.svc.AdvanceStage(c.Request().Context(), caller, id, req.StageID, req.Notes, req.CollectedData)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListProgress(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	details, err := h.svc.ListProgress(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) AddNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var n ClinicalNote
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.VisitID = id

	caller := auth.IdentityFromContext(c.Request().Context())
	if err := h.svc.AddNote(c.Request().Context(), caller, &n); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)

	notes, total, err := h.svc.ListNotes(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), errs.Message(err))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(notes, total, pg.Limit, pg.Offset))
}
