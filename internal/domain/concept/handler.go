package concept

import (
	"net/http"
	"strconv"

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
	read.GET("/concepts", h.ListConcepts)
	read.GET("/concepts/search", h.SearchConcepts)
	read.GET("/concepts/:id", h.GetConcept)

	// Dictionary changes are an administrative act.
	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/concepts", h.CreateConcept)
	write.PUT("/concepts/:id", h.UpdateConcept)
	write.PATCH("/concepts/:id/retire", h.RetireConcept)
	write.PATCH("/concepts/:id/unretire", h.UnretireConcept)
}

type conceptRequest struct {
	Name        string  `json:"name" validate:"required"`
	Datatype    string  `json:"datatype" validate:"required,oneof=coded numeric text complex n/a"`
	Description *string `json:"description"`
}

type retireRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) CreateConcept(c echo.Context) error {
	var req conceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	dt, _ := ParseDatatype(req.Datatype)
	concept := &Concept{Name: req.Name, Datatype: dt, Description: req.Description}
	if err := h.svc.CreateConcept(c.Request().Context(), concept); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, concept)
}

func (h *Handler) GetConcept(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	concept, err := h.svc.GetConcept(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, concept)
}

func (h *Handler) UpdateConcept(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req conceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	dt, _ := ParseDatatype(req.Datatype)
	concept := &Concept{ID: id, Name: req.Name, Datatype: dt, Description: req.Description}
	updated, err := h.svc.UpdateConcept(c.Request().Context(), concept)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) RetireConcept(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req retireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	concept, err := h.svc.RetireConcept(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, concept)
}

func (h *Handler) UnretireConcept(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	concept, err := h.svc.UnretireConcept(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, concept)
}

func (h *Handler) ListConcepts(c echo.Context) error {
	pg := pagination.FromContext(c)
	includeRetired, _ := strconv.ParseBool(c.QueryParam("include_retired"))

	list, total, err := h.svc.ListConcepts(c.Request().Context(), includeRetired, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg.Limit, pg.Offset))
}

func (h *Handler) SearchConcepts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	list, err := h.svc.SearchConcepts(c.Request().Context(), c.QueryParam("q"), limit)
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
