package person

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
	read.GET("/people", h.ListPersons)
	read.GET("/people/:id", h.GetPerson)
	read.GET("/people/identifier/:identifier", h.GetPersonByIdentifier)

	write := api.Group("", role)
	write.POST("/people", h.CreatePerson)
	write.PUT("/people/:id", h.UpdatePerson)

	// Deleting a person cascades to their observations; admins only.
	write.DELETE("/people/:id", h.DeletePerson, auth.RequireRole("admin"))
}

type personRequest struct {
	Identifier string     `json:"identifier" validate:"required"`
	NameGiven  *string    `json:"name_given"`
	NameFamily *string    `json:"name_family"`
	Gender     *string    `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	BirthDate  *time.Time `json:"birth_date"`
	IsPatient  bool       `json:"is_patient"`
	IsUser     bool       `json:"is_user"`
	Active     *bool      `json:"active"`
}

func (r *personRequest) toPerson() *Person {
	p := &Person{
		Identifier: r.Identifier,
		NameGiven:  r.NameGiven,
		NameFamily: r.NameFamily,
		Gender:     r.Gender,
		BirthDate:  r.BirthDate,
		IsPatient:  r.IsPatient,
		IsUser:     r.IsUser,
		Active:     true,
	}
	if r.Active != nil {
		p.Active = *r.Active
	}
	return p
}

func (h *Handler) CreatePerson(c echo.Context) error {
	var req personRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	p := req.toPerson()
	if err := h.svc.CreatePerson(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPerson(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPerson(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPersonByIdentifier(c echo.Context) error {
	p, err := h.svc.GetPersonByIdentifier(c.Request().Context(), c.Param("identifier"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePerson(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req personRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	p := req.toPerson()
	p.ID = id
	updated, err := h.svc.UpdatePerson(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeletePerson(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePerson(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListPersons serves the registry listing; with q= it searches identifiers
// and names instead.
func (h *Handler) ListPersons(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		list  []*Person
		total int
		err   error
	)
	if q := c.QueryParam("q"); q != "" {
		list, total, err = h.svc.SearchPersons(ctx, q, pg.Limit, pg.Offset)
	} else {
		list, total, err = h.svc.ListPersons(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg.Limit, pg.Offset))
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
