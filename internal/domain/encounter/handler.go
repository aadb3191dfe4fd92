package encounter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cdr/cdr/internal/platform/apperrors"
	"github.com/cdr/cdr/internal/platform/auth"
	"github.com/cdr/cdr/internal/platform/validation"
	"github.com/cdr/cdr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")

	read := api.Group("", role)
	read.GET("/encounters", h.ListEncounters)
	read.GET("/encounters/:id", h.GetEncounter)
	read.GET("/people/:id/encounters", h.ListPersonEncounters)

	write := api.Group("", role)
	write.POST("/encounters", h.CreateEncounter)
	write.PUT("/encounters/:id", h.UpdateEncounter)
	write.DELETE("/encounters/:id", h.DeleteEncounter, auth.RequireRole("admin"))
}

type encounterRequest struct {
	PersonID          int64      `json:"person_id" validate:"required,gt=0"`
	EncounterType     string     `json:"encounter_type" validate:"required"`
	EncounterDatetime *time.Time `json:"encounter_datetime"`
	LocationID        *int64     `json:"location_id"`
	Notes             *string    `json:"notes"`
}

func (r *encounterRequest) toEncounter() *Encounter {
	e := &Encounter{
		PersonID:      r.PersonID,
		EncounterType: r.EncounterType,
		LocationID:    r.LocationID,
		Notes:         r.Notes,
	}
	if r.EncounterDatetime != nil {
		e.EncounterDatetime = *r.EncounterDatetime
	}
	return e
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var req encounterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	e := req.toEncounter()
	if err := h.svc.CreateEncounter(c.Request().Context(), e); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	e, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req encounterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	e := req.toEncounter()
	e.ID = id
	updated, err := h.svc.UpdateEncounter(c.Request().Context(), e)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteEncounter(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEncounter(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)
	list, total, err := h.svc.ListEncounters(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPersonEncounters(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	list, err := h.svc.ListPersonEncounters(c.Request().Context(), personID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func httpError(err error) error {
	ae := apperrors.From(err)
	if ae == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if len(ae.Details) > 0 {
		return echo.NewHTTPError(apperrors.StatusCode(err), map[string]interface{}{
			"message": ae.Message,
			"details": ae.Details,
		})
	}
	return echo.NewHTTPError(apperrors.StatusCode(err), ae.Message)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
