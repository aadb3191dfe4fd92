package person

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	h := NewHandler(newTestService())
	e := echo.New()
	return h, e
}

func TestHandler_CreatePerson(t *testing.T) {
	h, e := newTestHandler()

	body := `{"identifier":"MRN-1001","name_given":"Ada","is_patient":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/people", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePerson(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var p Person
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID == 0 || p.Identifier != "MRN-1001" {
		t.Errorf("unexpected response: %+v", p)
	}
	if !p.Active {
		t.Error("expected active to default to true")
	}
}

func TestHandler_CreatePerson_MissingIdentifier(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/people", strings.NewReader(`{"name_given":"Ada"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreatePerson(c)
	if err == nil {
		t.Fatal("expected validation error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandler_CreatePerson_Duplicate(t *testing.T) {
	h, e := newTestHandler()
	h.svc.CreatePerson(context.Background(), &Person{Identifier: "MRN-1001"})

	body := `{"identifier":"MRN-1001"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/people", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreatePerson(c)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_GetPerson(t *testing.T) {
	h, e := newTestHandler()
	p := &Person{Identifier: "MRN-1001"}
	h.svc.CreatePerson(context.Background(), p)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(p.ID))

	if err := h.GetPerson(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPerson_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("404")

	err := h.GetPerson(c)
	if err == nil {
		t.Fatal("expected error for missing person")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_GetPersonByIdentifier(t *testing.T) {
	h, e := newTestHandler()
	p := &Person{Identifier: "MRN-1001"}
	h.svc.CreatePerson(context.Background(), p)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("identifier")
	c.SetParamValues("mrn-1001")

	if err := h.GetPersonByIdentifier(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got Person
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != p.ID {
		t.Errorf("expected person %d, got %d", p.ID, got.ID)
	}
}

func TestHandler_UpdatePerson(t *testing.T) {
	h, e := newTestHandler()
	p := &Person{Identifier: "MRN-1001"}
	h.svc.CreatePerson(context.Background(), p)

	body := `{"identifier":"MRN-1001","name_family":"Lovelace","is_user":true}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(p.ID))

	if err := h.UpdatePerson(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var updated Person
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.NameFamily == nil || *updated.NameFamily != "Lovelace" {
		t.Errorf("expected updated name, got %+v", updated)
	}
	if !updated.IsUser {
		t.Error("expected user flag")
	}
}

func TestHandler_DeletePerson(t *testing.T) {
	h, e := newTestHandler()
	p := &Person{Identifier: "MRN-1001"}
	h.svc.CreatePerson(context.Background(), p)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(p.ID))

	if err := h.DeletePerson(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ListPersons(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	h.svc.CreatePerson(ctx, &Person{Identifier: "MRN-1", NameGiven: strPtr("Ada")})
	h.svc.CreatePerson(ctx, &Person{Identifier: "MRN-2", NameGiven: strPtr("Grace")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPersons(c); err != nil {
		t.Fatalf("list: %v", err)
	}

	var page struct {
		Data    []*Person `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestHandler_ListPersons_Search(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	h.svc.CreatePerson(ctx, &Person{Identifier: "MRN-1001", NameFamily: strPtr("Lovelace")})
	h.svc.CreatePerson(ctx, &Person{Identifier: "MRN-2002", NameFamily: strPtr("Hopper")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people?q=lovelace", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPersons(c); err != nil {
		t.Fatalf("search: %v", err)
	}

	var page struct {
		Data []*Person `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Data) != 1 || page.Data[0].Identifier != "MRN-1001" {
		t.Errorf("expected name hit, got %+v", page.Data)
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
		"POST:/api/v1/people",
		"GET:/api/v1/people",
		"GET:/api/v1/people/:id",
		"GET:/api/v1/people/identifier/:identifier",
		"PUT:/api/v1/people/:id",
		"DELETE:/api/v1/people/:id",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing expected route: %s", path)
		}
	}
}
