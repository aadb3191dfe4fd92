package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cdr/cdr/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	repo := newMockRepo()
	repo.addSubject(1, "MRN-1001", KindPerson|KindPatient)
	svc := NewService(repo, newMockMimeTypes())
	svc.SetValueStore(newMockValueStore())
	svc.SetAuthorizer(&mockAuthorizer{granted: map[string]bool{CapabilityViewPerson: true}})
	h := NewHandler(svc)
	e := echo.New()
	return h, e
}

func seedObs(t *testing.T, h *Handler, o *Obs) *Obs {
	t.Helper()
	if err := h.svc.CreateObs(context.Background(), o); err != nil {
		t.Fatalf("seed obs: %v", err)
	}
	return o
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpErrCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

type obsPage struct {
	Data    []*Obs `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
}

func TestHandler_CreateObs(t *testing.T) {
	h, e := newTestHandler()

	body := `{"person_id":1,"concept_id":100,"value_numeric":98.6,"comment":"oral"}`
	req := jsonRequest(http.MethodPost, "/api/v1/observations", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateObs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var o Obs
	json.Unmarshal(rec.Body.Bytes(), &o)
	if o.ID == 0 {
		t.Error("expected assigned id in response")
	}
	if o.ValueNumeric == nil || *o.ValueNumeric != 98.6 {
		t.Errorf("expected value echoed back, got %+v", o.ValueNumeric)
	}
}

func TestHandler_CreateObs_MalformedJSON(t *testing.T) {
	h, e := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/observations", `{"person_id":`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateObs(c)
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateObs_ValidationDetails(t *testing.T) {
	h, e := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/observations", `{"concept_id":100,"value_numeric":1}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateObs(c)
	if err == nil {
		t.Fatal("expected validation error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
	payload, ok := he.Message.(map[string]interface{})
	if !ok {
		t.Fatalf("expected detail payload, got %T", he.Message)
	}
	details, ok := payload["details"].(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", payload["details"])
	}
	if _, found := details["person_id"]; !found {
		t.Errorf("expected person_id detail, got %v", details)
	}
}

func TestHandler_CreateObs_NoValue(t *testing.T) {
	h, e := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/observations", `{"person_id":1,"concept_id":100}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateObs(c)
	if err == nil {
		t.Fatal("expected error for valueless obs")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateObsGroup(t *testing.T) {
	h, e := newTestHandler()

	body := `{"members":[
		{"person_id":1,"concept_id":100,"value_numeric":120},
		{"person_id":1,"concept_id":101,"value_numeric":80}
	]}`
	req := jsonRequest(http.MethodPost, "/api/v1/observation-groups", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateObsGroup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var resp struct {
		GroupID int64  `json:"group_id"`
		Members []*Obs `json:"members"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.GroupID == 0 {
		t.Error("expected allocated group id")
	}
	if len(resp.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(resp.Members))
	}
	for i, m := range resp.Members {
		if m.GroupID == nil || *m.GroupID != resp.GroupID {
			t.Errorf("member %d missing group id", i)
		}
	}
}

func TestHandler_CreateObsGroup_Empty(t *testing.T) {
	h, e := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/observation-groups", `{"members":[]}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateObsGroup(c)
	if err == nil {
		t.Fatal("expected error for empty group")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetObs(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 98.6, baseTime))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.GetObs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetObs_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("404")

	err := h.GetObs(c)
	if err == nil {
		t.Fatal("expected error for missing obs")
	}
	if code := httpErrCode(t, err); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetObs_BadID(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	err := h.GetObs(c)
	if err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_UpdateObs(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 98.6, baseTime))

	body := `{"person_id":1,"concept_id":100,"value_numeric":99.1}`
	req := jsonRequest(http.MethodPut, "/", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.UpdateObs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var updated Obs
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.ValueNumeric == nil || *updated.ValueNumeric != 99.1 {
		t.Errorf("expected updated value, got %+v", updated.ValueNumeric)
	}
}

func TestHandler_VoidAndUnvoid(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	req := jsonRequest(http.MethodPatch, "/", `{"reason":"entered on wrong patient"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.VoidObs(c); err != nil {
		t.Fatalf("void: %v", err)
	}
	var voided Obs
	json.Unmarshal(rec.Body.Bytes(), &voided)
	if !voided.Voided {
		t.Error("expected voided obs in response")
	}

	req = httptest.NewRequest(http.MethodPatch, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.UnvoidObs(c); err != nil {
		t.Fatalf("unvoid: %v", err)
	}
	var restored Obs
	json.Unmarshal(rec.Body.Bytes(), &restored)
	if restored.Voided {
		t.Error("expected restored obs in response")
	}
}

func TestHandler_VoidObs_MissingReason(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	req := jsonRequest(http.MethodPatch, "/", `{}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	err := h.VoidObs(c)
	if err == nil {
		t.Fatal("expected error for missing reason")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_DeleteObs(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.DeleteObs(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	// Row is gone.
	req = httptest.NewRequest(http.MethodDelete, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	err := h.DeleteObs(c)
	if err == nil {
		t.Fatal("expected error on double delete")
	}
	if code := httpErrCode(t, err); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListPersonObs_Paginated(t *testing.T) {
	h, e := newTestHandler()
	for i := 0; i < 3; i++ {
		seedObs(t, h, numericObs(1, 100, float64(i), baseTime.Add(time.Duration(i)*time.Hour)))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people/1/observations?limit=2&offset=0", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.ListPersonObs(c); err != nil {
		t.Fatalf("list: %v", err)
	}

	var page obsPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Data) != 2 {
		t.Errorf("expected 2 obs in page, got %d", len(page.Data))
	}
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
	if !page.HasMore {
		t.Error("expected has_more")
	}
}

func TestHandler_ListPersonObs_LastN(t *testing.T) {
	h, e := newTestHandler()
	seedObs(t, h, numericObs(1, 100, 1, baseTime))
	seedObs(t, h, numericObs(1, 100, 2, baseTime.Add(time.Hour)))
	latest := seedObs(t, h, numericObs(1, 100, 3, baseTime.Add(2*time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people/1/observations?concept_id=100&last=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.ListPersonObs(c); err != nil {
		t.Fatalf("last: %v", err)
	}

	// last=n responses are a bare array, newest first.
	var list []*Obs
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("expected bare array, got %s", rec.Body.String())
	}
	if len(list) != 2 || list[0].ID != latest.ID {
		t.Errorf("expected 2 obs newest first, got %+v", list)
	}
}

func TestHandler_ListObs_ByConcept(t *testing.T) {
	h, e := newTestHandler()
	seedObs(t, h, numericObs(1, 100, 1, baseTime))
	seedObs(t, h, numericObs(1, 200, 2, baseTime))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations?concept_id=100", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListObs(c); err != nil {
		t.Fatalf("list: %v", err)
	}

	var page obsPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Data) != 1 || page.Data[0].ConceptID != 100 {
		t.Errorf("expected concept-scoped page, got %+v", page.Data)
	}
}

func TestHandler_ListObs_AnsweredBy(t *testing.T) {
	h, e := newTestHandler()
	coded := &Obs{PersonID: 1, ConceptID: 100, ValueCoded: iptr(500), ObsDatetime: baseTime}
	seedObs(t, h, coded)
	seedObs(t, h, numericObs(1, 100, 1, baseTime))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations?answered_by=500", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListObs(c); err != nil {
		t.Fatalf("list: %v", err)
	}

	var page obsPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Data) != 1 || page.Data[0].ID != coded.ID {
		t.Errorf("expected coded answer match, got %+v", page.Data)
	}
}

func TestHandler_ListObs_BadKinds(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations?concept_id=100&kinds=robot", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListObs(c)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_NumericAnswers(t *testing.T) {
	h, e := newTestHandler()
	seedObs(t, h, numericObs(1, 100, 3, baseTime))
	seedObs(t, h, numericObs(1, 100, 1, baseTime.Add(time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations/numeric?concept_id=100&by_value=true", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.NumericAnswers(c); err != nil {
		t.Fatalf("numeric: %v", err)
	}

	var answers []NumericAnswer
	json.Unmarshal(rec.Body.Bytes(), &answers)
	if len(answers) != 2 || answers[0].Value != 1 {
		t.Errorf("expected value-sorted answers, got %+v", answers)
	}
}

func TestHandler_SearchObs(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations/search?q=mrn-10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SearchObs(c); err != nil {
		t.Fatalf("search: %v", err)
	}

	var page obsPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Data) != 1 || page.Data[0].ID != o.ID {
		t.Errorf("expected identifier prefix hit, got %+v", page.Data)
	}
}

func TestHandler_DistinctValues(t *testing.T) {
	h, e := newTestHandler()
	seedObs(t, h, &Obs{PersonID: 1, ConceptID: 100, ValueText: sptr("positive"), ObsDatetime: baseTime})
	seedObs(t, h, &Obs{PersonID: 1, ConceptID: 100, ValueText: sptr("negative"), ObsDatetime: baseTime})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations/values?concept_id=100", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.DistinctValues(c); err != nil {
		t.Fatalf("distinct: %v", err)
	}

	var values []string
	json.Unmarshal(rec.Body.Bytes(), &values)
	if len(values) != 2 {
		t.Errorf("expected 2 values, got %v", values)
	}
}

func TestHandler_GetObsGroup(t *testing.T) {
	h, e := newTestHandler()
	members := []*Obs{
		numericObs(1, 100, 120, baseTime),
		numericObs(1, 101, 80, baseTime),
	}
	groupID, err := h.svc.CreateObsGroup(context.Background(), members)
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(groupID))

	if err := h.GetObsGroup(c); err != nil {
		t.Fatalf("get group: %v", err)
	}

	var list []*Obs
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Errorf("expected 2 members, got %d", len(list))
	}
}

func TestHandler_EvaluateObs(t *testing.T) {
	h, e := newTestHandler()
	seedObs(t, h, numericObs(1, 100, 1, baseTime))
	latest := seedObs(t, h, numericObs(1, 100, 2, baseTime.Add(time.Hour)))

	body := `{"concept_id":100,"function":"latest","n":1}`
	req := jsonRequest(http.MethodPost, "/", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.EvaluateObs(c); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var list []*Obs
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != latest.ID {
		t.Errorf("expected latest obs, got %+v", list)
	}
}

func TestHandler_EvaluateObs_UnknownFunction(t *testing.T) {
	h, e := newTestHandler()

	body := `{"concept_id":100,"function":"median"}`
	req := jsonRequest(http.MethodPost, "/", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	err := h.EvaluateObs(c)
	if err == nil {
		t.Fatal("expected error for unknown function")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ComplexValue_PutAndGet(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/observations/0/value?mime_type_id=2", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.PutComplexValue(c); err != nil {
		t.Fatalf("put value: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	if err := h.GetComplexValue(c); err != nil {
		t.Fatalf("get value: %v", err)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "image/png" {
		t.Errorf("expected image/png, got %s", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("payload mismatch")
	}
}

func TestHandler_PutComplexValue_MissingMimeType(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("data"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(o.ID))

	err := h.PutComplexValue(c)
	if err == nil {
		t.Fatal("expected error without mime_type_id")
	}
	if code := httpErrCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_MimeTypes(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mime-types", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListMimeTypes(c); err != nil {
		t.Fatalf("list mime types: %v", err)
	}
	var list []*MimeType
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Errorf("expected 2 mime types, got %d", len(list))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("99")

	err := h.GetMimeType(c)
	if err == nil {
		t.Fatal("expected error for unknown mime type")
	}
	if code := httpErrCode(t, err); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1")

	h.RegisterRoutes(api)

	routePaths := make(map[string]bool)
	for _, r := range e.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}

	expected := []string{
		"POST:/api/v1/observations",
		"GET:/api/v1/observations",
		"GET:/api/v1/observations/numeric",
		"GET:/api/v1/observations/voided",
		"GET:/api/v1/observations/search",
		"GET:/api/v1/observations/values",
		"GET:/api/v1/observations/:id",
		"PUT:/api/v1/observations/:id",
		"PATCH:/api/v1/observations/:id/void",
		"PATCH:/api/v1/observations/:id/unvoid",
		"DELETE:/api/v1/observations/:id",
		"GET:/api/v1/observations/:id/value",
		"PUT:/api/v1/observations/:id/value",
		"POST:/api/v1/observation-groups",
		"GET:/api/v1/observation-groups/:id",
		"GET:/api/v1/people/:id/observations",
		"POST:/api/v1/people/:id/observations/evaluate",
		"GET:/api/v1/encounters/:id/observations",
		"GET:/api/v1/mime-types",
		"GET:/api/v1/mime-types/:id",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing expected route: %s", path)
		}
	}
}

func TestHandler_DeleteRequiresAdminCapability(t *testing.T) {
	h, e := newTestHandler()
	o := seedObs(t, h, numericObs(1, 100, 1, baseTime))

	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	target := fmt.Sprintf("/api/v1/observations/%d", o.ID)

	// A physician without the grant cannot hard delete.
	physician := &auth.Principal{Subject: "u1", Role: "physician", Capabilities: []string{auth.CapViewPerson}}
	req := httptest.NewRequest(http.MethodDelete, target, nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), physician))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without grant, got %d", rec.Code)
	}

	// The same role with the grant can.
	admin := &auth.Principal{Subject: "u2", Role: "physician", Capabilities: []string{auth.CapAdminObs}}
	req = httptest.NewRequest(http.MethodDelete, target, nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), admin))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 with grant, got %d", rec.Code)
	}
}

func TestHandler_RoleGate(t *testing.T) {
	h, e := newTestHandler()
	seedObs(t, h, numericObs(1, 100, 1, baseTime))

	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	// No principal at all.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/observations?concept_id=100", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without principal, got %d", rec.Code)
	}

	// A role outside the clinical set.
	outsider := &auth.Principal{Subject: "u3", Role: "billing"}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/observations?concept_id=100", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), outsider))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for outside role, got %d", rec.Code)
	}

	// A nurse can read.
	nurse := &auth.Principal{Subject: "u4", Role: "nurse"}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/observations?concept_id=100", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), nurse))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for nurse, got %d", rec.Code)
	}
}
