package obs

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cdr/cdr/internal/platform/apperrors"
	"github.com/cdr/cdr/internal/platform/auth"
	"github.com/cdr/cdr/internal/platform/metrics"
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
	read.GET("/observations", h.ListObs)
	read.GET("/observations/numeric", h.NumericAnswers)
	read.GET("/observations/voided", h.ListVoided)
	read.GET("/observations/search", h.SearchObs)
	read.GET("/observations/values", h.DistinctValues)
	read.GET("/observations/:id", h.GetObs)
	read.GET("/observations/:id/value", h.GetComplexValue)
	read.GET("/observation-groups/:id", h.GetObsGroup)
	read.GET("/people/:id/observations", h.ListPersonObs)
	read.GET("/encounters/:id/observations", h.ListEncounterObs)
	read.GET("/mime-types", h.ListMimeTypes)
	read.GET("/mime-types/:id", h.GetMimeType)

	write := api.Group("", role)
	write.POST("/observations", h.CreateObs)
	write.POST("/observation-groups", h.CreateObsGroup)
	write.PUT("/observations/:id", h.UpdateObs)
	write.PATCH("/observations/:id/void", h.VoidObs)
	write.PATCH("/observations/:id/unvoid", h.UnvoidObs)
	write.PUT("/observations/:id/value", h.PutComplexValue)
	write.POST("/people/:id/observations/evaluate", h.EvaluateObs)

	// Hard delete destroys the row; voiding is the normal retirement path.
	write.DELETE("/observations/:id", h.DeleteObs, auth.RequireCapability(auth.CapAdminObs))
}

// obsRequest is the write payload for single observations and group members.
type obsRequest struct {
	PersonID     int64      `json:"person_id" validate:"required,gt=0"`
	ConceptID    int64      `json:"concept_id" validate:"required,gt=0"`
	EncounterID  *int64     `json:"encounter_id"`
	LocationID   *int64     `json:"location_id"`
	ObsDatetime  *time.Time `json:"obs_datetime"`
	GroupID      *int64     `json:"group_id"`
	ValueCoded   *int64     `json:"value_coded"`
	ValueNumeric *float64   `json:"value_numeric"`
	ValueText    *string    `json:"value_text"`
	ValueComplex *string    `json:"value_complex"`
	MimeTypeID   *int64     `json:"mime_type_id"`
	Comment      *string    `json:"comment"`
}

func (r *obsRequest) toObs() *Obs {
	o := &Obs{
		PersonID:     r.PersonID,
		ConceptID:    r.ConceptID,
		EncounterID:  r.EncounterID,
		LocationID:   r.LocationID,
		GroupID:      r.GroupID,
		ValueCoded:   r.ValueCoded,
		ValueNumeric: r.ValueNumeric,
		ValueText:    r.ValueText,
		ValueComplex: r.ValueComplex,
		MimeTypeID:   r.MimeTypeID,
		Comment:      r.Comment,
	}
	if r.ObsDatetime != nil {
		o.ObsDatetime = *r.ObsDatetime
	}
	return o
}

type groupRequest struct {
	Members []obsRequest `json:"members" validate:"required,min=1,dive"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type evaluateRequest struct {
	ConceptID     int64      `json:"concept_id" validate:"required,gt=0"`
	Function      string     `json:"function" validate:"omitempty,oneof=all latest earliest min max"`
	N             int        `json:"n" validate:"omitempty,gte=1"`
	MinValue      *float64   `json:"min_value"`
	MaxValue      *float64   `json:"max_value"`
	Since         *time.Time `json:"since"`
	Until         *time.Time `json:"until"`
	IncludeVoided bool       `json:"include_voided"`
}

func (h *Handler) CreateObs(c echo.Context) error {
	var req obsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	o := req.toObs()
	err := h.svc.CreateObs(c.Request().Context(), o)
	recordOp("create", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) CreateObsGroup(c echo.Context) error {
	var req groupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	members := make([]*Obs, len(req.Members))
	for i := range req.Members {
		members[i] = req.Members[i].toObs()
	}

	groupID, err := h.svc.CreateObsGroup(c.Request().Context(), members)
	recordOp("create_group", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"group_id": groupID,
		"members":  members,
	})
}

func (h *Handler) GetObs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.svc.GetObs(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateObs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req obsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	o := req.toObs()
	o.ID = id
	updated, err := h.svc.UpdateObs(c.Request().Context(), o)
	recordOp("update", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) VoidObs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req voidRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	o, err := h.svc.VoidObs(c.Request().Context(), id, req.Reason)
	recordOp("void", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UnvoidObs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.svc.UnvoidObs(c.Request().Context(), id)
	recordOp("unvoid", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteObs(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	err = h.svc.DeleteObs(c.Request().Context(), id)
	recordOp("delete", err)
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListPersonObs serves a person's observations. With last=n it returns the
// n most recent for the concept; otherwise the full active set, optionally
// scoped by concept_id.
func (h *Handler) ListPersonObs(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	conceptID, err := queryID(c, "concept_id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if last := c.QueryParam("last"); last != "" {
		n, convErr := strconv.Atoi(last)
		if convErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "last must be an integer")
		}
		list, err := h.svc.LastPersonObs(ctx, personID, conceptID, n)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, list)
	}

	list, err := h.svc.ListPersonObs(ctx, personID, conceptID)
	if err != nil {
		return httpError(err)
	}
	return paginated(c, list)
}

// ListObs serves the concept-scoped queries: by concept (with optional
// location, sort and subject-kind mask), or by coded answer via answered_by.
func (h *Handler) ListObs(c echo.Context) error {
	kinds, err := queryKinds(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if answeredBy := c.QueryParam("answered_by"); answeredBy != "" {
		answerID, convErr := strconv.ParseInt(answeredBy, 10, 64)
		if convErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "answered_by must be an integer")
		}
		list, err := h.svc.ListByAnswer(ctx, answerID, kinds)
		if err != nil {
			return httpError(err)
		}
		return paginated(c, list)
	}

	conceptID, err := queryID(c, "concept_id")
	if err != nil {
		return err
	}
	locationID, err := queryID(c, "location_id")
	if err != nil {
		return err
	}
	sort, sortErr := ParseSortKey(c.QueryParam("sort"))
	if sortErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, sortErr.Error())
	}

	list, err := h.svc.ListObs(ctx, conceptID, locationID, sort, kinds)
	if err != nil {
		return httpError(err)
	}
	return paginated(c, list)
}

func (h *Handler) NumericAnswers(c echo.Context) error {
	conceptID, err := queryID(c, "concept_id")
	if err != nil {
		return err
	}
	kinds, err := queryKinds(c)
	if err != nil {
		return err
	}
	byValue := parseBool(c.QueryParam("by_value"))

	answers, err := h.svc.NumericAnswers(c.Request().Context(), conceptID, byValue, kinds)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, answers)
}

func (h *Handler) ListEncounterObs(c echo.Context) error {
	encounterID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	list, err := h.svc.ListEncounterObs(c.Request().Context(), encounterID)
	if err != nil {
		return httpError(err)
	}
	return paginated(c, list)
}

func (h *Handler) ListVoided(c echo.Context) error {
	list, err := h.svc.ListVoided(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return paginated(c, list)
}

func (h *Handler) SearchObs(c echo.Context) error {
	kinds, err := queryKinds(c)
	if err != nil {
		return err
	}
	includeVoided := parseBool(c.QueryParam("include_voided"))

	list, err := h.svc.SearchObs(c.Request().Context(), c.QueryParam("q"), includeVoided, kinds)
	if err != nil {
		return httpError(err)
	}
	return paginated(c, list)
}

func (h *Handler) DistinctValues(c echo.Context) error {
	conceptID, err := queryID(c, "concept_id")
	if err != nil {
		return err
	}
	kinds, err := queryKinds(c)
	if err != nil {
		return err
	}

	values, err := h.svc.DistinctValues(c.Request().Context(), conceptID, kinds)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, values)
}

func (h *Handler) GetObsGroup(c echo.Context) error {
	groupID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	list, err := h.svc.GetObsGroup(c.Request().Context(), groupID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) EvaluateObs(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(&req); err != nil {
		return httpError(err)
	}

	agg := Aggregation{Function: req.Function, N: req.N}
	cons := Constraint{
		MinValue:      req.MinValue,
		MaxValue:      req.MaxValue,
		Since:         req.Since,
		Until:         req.Until,
		IncludeVoided: req.IncludeVoided,
	}

	list, err := h.svc.EvaluateObs(c.Request().Context(), personID, req.ConceptID, agg, cons)
	recordOp("evaluate", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// PutComplexValue uploads the raw payload of a complex observation. The
// mime type is passed as a query parameter because the body is the payload
// itself.
func (h *Handler) PutComplexValue(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	mimeTypeID, convErr := strconv.ParseInt(c.QueryParam("mime_type_id"), 10, 64)
	if convErr != nil || mimeTypeID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "mime_type_id is required")
	}

	data, readErr := io.ReadAll(c.Request().Body)
	if readErr != nil {
		return readErr
	}

	o, err := h.svc.PutComplexValue(c.Request().Context(), id, data, mimeTypeID)
	recordOp("put_complex_value", err)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) GetComplexValue(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	data, contentType, err := h.svc.GetComplexValue(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, contentType, data)
}

func (h *Handler) ListMimeTypes(c echo.Context) error {
	list, err := h.svc.ListMimeTypes(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetMimeType(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	mt, err := h.svc.GetMimeType(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mt)
}

// httpError translates a service error into the HTTP response, keeping
// field details when the error carries them.
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

func recordOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if ae := apperrors.From(err); ae != nil {
			outcome = string(ae.Kind)
		}
	}
	metrics.RecordObsOperation(op, outcome)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// queryID reads an optional int64 query parameter, 0 when absent.
func queryID(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return id, nil
}

func queryKinds(c echo.Context) (PersonKind, error) {
	kinds, err := ParseKinds(c.QueryParam("kinds"))
	if err != nil {
		return KindAny, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return kinds, nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func paginated(c echo.Context, list []*Obs) error {
	pg := pagination.FromContext(c)
	window := pagination.Window(list, pg)
	return c.JSON(http.StatusOK, pagination.NewResponse(window, len(list), pg.Limit, pg.Offset))
}
