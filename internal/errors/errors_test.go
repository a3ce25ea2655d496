package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	e := New(KindFilterError, 500, "redirect target invalid")
	if e.Kind != KindFilterError {
		t.Errorf("Kind = %s, want %s", e.Kind, KindFilterError)
	}
	if e.Code != 500 {
		t.Errorf("Code = %d, want 500", e.Code)
	}
	if e.Error() != "redirect target invalid" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("parse %q: invalid port", "http://h:x")
	e := Wrap(ErrFilter, inner)

	if e.Kind != KindFilterError || e.Code != 500 {
		t.Errorf("got kind=%s code=%d", e.Kind, e.Code)
	}
	if e.Error() != "Internal Server Error: parse \"http://h:x\": invalid port" {
		t.Errorf("Error() = %q", e.Error())
	}
	if !stderrors.Is(e, inner) {
		t.Error("wrapped error should unwrap to inner")
	}
	if ErrFilter.Unwrap() != nil {
		t.Error("Wrap must not mutate the base error")
	}
}

func TestIsMatchesKind(t *testing.T) {
	e := ErrBackendUnresolved.WithDetails("backend svc-a has no endpoints")
	if !stderrors.Is(e, ErrBackendUnresolved) {
		t.Error("errors.Is should match by kind")
	}
	if stderrors.Is(e, ErrNoMatchingRoute) {
		t.Error("errors.Is should not match a different kind")
	}

	wrapped := fmt.Errorf("evaluate: %w", e)
	if KindOf(wrapped) != KindBackendUnresolved {
		t.Errorf("KindOf = %s, want %s", KindOf(wrapped), KindBackendUnresolved)
	}
	if KindOf(fmt.Errorf("plain")) != KindInternal {
		t.Error("foreign errors should classify as Internal")
	}
}

func TestAs(t *testing.T) {
	t.Run("RouteError", func(t *testing.T) {
		re, ok := As(fmt.Errorf("x: %w", ErrCanceled))
		if !ok {
			t.Fatal("As should find RouteError in chain")
		}
		if re.Code != StatusClientClosedRequest {
			t.Errorf("Code = %d, want %d", re.Code, StatusClientClosedRequest)
		}
	})

	t.Run("regular error", func(t *testing.T) {
		if _, ok := As(fmt.Errorf("regular error")); ok {
			t.Error("As should return false for regular error")
		}
	})

	t.Run("nil", func(t *testing.T) {
		if _, ok := As(nil); ok {
			t.Error("As should return false for nil")
		}
	})
}

func TestWithRequestID(t *testing.T) {
	e := ErrNoMatchingRoute.WithRequestID("req-1")
	if e.RequestID != "req-1" {
		t.Errorf("RequestID = %q", e.RequestID)
	}
	if ErrNoMatchingRoute.RequestID != "" {
		t.Error("WithRequestID must not mutate the base error")
	}
}

func TestWriteJSON_PreSerialized(t *testing.T) {
	for _, e := range []*RouteError{ErrNoMatchingRoute, ErrBackendUnresolved, ErrFilter, ErrCanceled, ErrInternal, ErrBadGateway} {
		t.Run(string(e.Kind)+"/"+e.Message, func(t *testing.T) {
			w := httptest.NewRecorder()
			e.WriteJSON(w)

			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			if w.Code != e.Code {
				t.Errorf("status = %d, want %d", w.Code, e.Code)
			}

			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["kind"] != string(e.Kind) {
				t.Errorf("body kind = %v, want %s", body["kind"], e.Kind)
			}
			if int(body["code"].(float64)) != e.Code {
				t.Errorf("body code = %v, want %d", body["code"], e.Code)
			}
		})
	}
}

func TestWriteJSON_WithDetails(t *testing.T) {
	e := ErrNoMatchingRoute.WithDetails("no route for host unknown.example.com").WithRequestID("req-abc")

	w := httptest.NewRecorder()
	e.WriteJSON(w)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["details"] != "no route for host unknown.example.com" {
		t.Errorf("body details = %v", body["details"])
	}
	if body["request_id"] != "req-abc" {
		t.Errorf("body request_id = %v, want %q", body["request_id"], "req-abc")
	}
}

func TestKindCodes(t *testing.T) {
	tests := []struct {
		err      *RouteError
		wantCode int
	}{
		{ErrNoMatchingRoute, 404},
		{ErrBackendUnresolved, 503},
		{ErrFilter, 500},
		{ErrCanceled, 499},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestPreSerializedCount(t *testing.T) {
	if len(preSerialized) != len(bases) {
		t.Errorf("preSerialized has %d entries, want %d", len(preSerialized), len(bases))
	}
	for _, e := range bases {
		if _, ok := preSerialized[e]; !ok {
			t.Errorf("base error %d %q is not pre-serialized", e.Code, e.Message)
		}
	}
	for _, e := range []*RouteError{ErrBadGateway, ErrGatewayTimeout} {
		if _, ok := preSerialized[e]; !ok {
			t.Errorf("upstream error %d must be pre-serialized", e.Code)
		}
	}
}
