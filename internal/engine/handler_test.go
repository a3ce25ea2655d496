package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/routeplane/internal/model"
)

func TestHandlerForwards(t *testing.T) {
	e := New(staticTables{referenceTable(t)})
	var got *Decision
	h := e.Handler(httpKey, "http", ForwarderFunc(func(w http.ResponseWriter, d *Decision) {
		got = d
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "http://api.example.com/products/9", nil))

	if rec.Code != http.StatusOK || got == nil {
		t.Fatalf("expected forward, got %d", rec.Code)
	}
	if got.State != Forwarded || got.Address() != "10.10.1.10:8081" {
		t.Errorf("unexpected decision %v %s", got.State, got.Address())
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("expected request id header")
	}
}

func TestHandlerNotFound(t *testing.T) {
	e := New(staticTables{referenceTable(t)})
	h := e.Handler(httpKey, "http", ForwarderFunc(func(http.ResponseWriter, *Decision) {
		t.Fatal("must not forward")
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://unknown.example.com/", nil)
	r.Header.Set(HeaderRequestID, "req-1")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["kind"] != "NoMatchingRoute" || body["request_id"] != "req-1" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandlerTerminalFilters(t *testing.T) {
	tests := []struct {
		name     string
		filter   model.Filter
		code     int
		location string
		body     string
	}{
		{
			name:   "static",
			filter: model.Filter{Type: model.FilterStaticResponse, StaticResponse: &model.StaticResponse{StatusCode: 503, Body: "maintenance"}},
			code:   503,
			body:   "maintenance",
		},
		{
			name:     "redirect",
			filter:   model.Filter{Type: model.FilterRequestRedirect, RequestRedirect: &model.Redirect{Scheme: strp("https"), StatusCode: 301}},
			code:     301,
			location: "https://example.com/old?q=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(staticTables{singleRuleTable(1, "r", []model.Filter{tt.filter}, nil)})
			h := e.Handler(httpKey, "http", ForwarderFunc(func(http.ResponseWriter, *Decision) {
				t.Fatal("must not forward")
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "http://example.com/old?q=1", nil))
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tt.location {
				t.Errorf("Location = %q, want %q", got, tt.location)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}
