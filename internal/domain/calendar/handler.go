package calendar

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/practicehub/calendar/internal/platform/auth"
	"github.com/practicehub/calendar/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: admin, clinician, scheduler, billing
	readGroup := api.Group("", auth.RequireRole("admin", "clinician", "scheduler", "billing"))
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.GET("/appointments/:id/series", h.GetSeries)
	readGroup.GET("/appointments/:id/series.ics", h.ExportSeries)
	readGroup.GET("/appointments/:id/tags", h.GetTags)

	// Write endpoints: admin, clinician, scheduler
	writeGroup := api.Group("", auth.RequireRole("admin", "clinician", "scheduler"))
	writeGroup.POST("/appointments", h.CreateAppointment)
	writeGroup.PUT("/appointments/:id", h.UpdateAppointment)
	writeGroup.DELETE("/appointments/:id", h.DeleteAppointment)
}

// errorResponse maps engine errors onto HTTP errors. Store failures keep a
// generic message.
func errorResponse(err error) *echo.HTTPError {
	var (
		ve *ValidationError
		nf *NotFoundError
		le *LimitExceededError
		se *StructuralIntegrityError
	)
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "validation failed",
			"fields":  ve.Fields,
		})
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	case errors.As(err, &le):
		return echo.NewHTTPError(http.StatusConflict, le.Error())
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusConflict, "appointment series is inconsistent")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "operation failed")
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CreatedBy == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			req.CreatedBy = uid
		}
	}
	res, err := h.svc.Create(c.Request().Context(), &req)
	if err != nil {
		return errorResponse(err)
	}
	if res.Recurring {
		return c.JSON(http.StatusCreated, res.Appointments)
	}
	return c.JSON(http.StatusCreated, res.Master())
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{{"clinician_id", &f.ClinicianID}, {"client_group_id", &f.ClientGroupID}} {
		if v := c.QueryParam(p.name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name)
			}
			*p.dst = &id
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.QueryParam(p.name); v != "" {
			t, msg := parseInstant(v)
			if msg != "" {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name)
			}
			*p.dst = &t
		}
	}
	f.Status = c.QueryParam("status")

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSeries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Series(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) ExportSeries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	body, err := h.svc.ExportSeries(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

func (h *Handler) GetTags(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	tags, err := h.svc.Tags(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": tags})
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	scope, err := ParseUpdateScope(c.QueryParam("scope"))
	if err != nil {
		return errorResponse(err)
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Update(c.Request().Context(), id, &req, scope)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": res.Message,
		"scope":   res.Scope.String(),
		"data":    res.Appointments,
	})
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	scope, err := ParseDeleteScope(c.QueryParam("scope"))
	if err != nil {
		return errorResponse(err)
	}
	res, err := h.svc.Delete(c.Request().Context(), id, scope)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":              res.Message,
		"scope":                res.Scope.String(),
		"count":                len(res.DeletedIDs),
		"deleted_ids":          res.DeletedIDs,
		"retained_invoice_ids": res.RetainedInvoiceIDs,
	})
}
