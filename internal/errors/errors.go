package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies request-time failures.
type Kind string

const (
	KindNoMatchingRoute   Kind = "NoMatchingRoute"
	KindBackendUnresolved Kind = "BackendUnresolved"
	KindFilterError       Kind = "FilterError"
	KindCanceled          Kind = "Canceled"
	KindInternal          Kind = "Internal"
)

// StatusClientClosedRequest is the non-standard status recorded when the
// client went away before a decision was made.
const StatusClientClosedRequest = 499

// RouteError is a request-time failure that maps to an HTTP response.
// It never represents a crash of the matching engine.
type RouteError struct {
	Kind       Kind   `json:"kind"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *RouteError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *RouteError) Unwrap() error {
	return e.underlying
}

// Is matches RouteErrors of the same kind so callers can write
// errors.Is(err, ErrNoMatchingRoute).
func (e *RouteError) Is(target error) bool {
	t, ok := target.(*RouteError)
	return ok && t.Kind == e.Kind
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no details/requestID), uses pre-serialized JSON to avoid allocations.
func (e *RouteError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		_, _ = w.Write(pre)
		return
	}
	_ = json.NewEncoder(w).Encode(e)
}

// Base errors, one per kind.
var (
	ErrNoMatchingRoute = &RouteError{
		Kind:    KindNoMatchingRoute,
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrBackendUnresolved = &RouteError{
		Kind:    KindBackendUnresolved,
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}

	ErrFilter = &RouteError{
		Kind:    KindFilterError,
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}

	ErrCanceled = &RouteError{
		Kind:    KindCanceled,
		Code:    StatusClientClosedRequest,
		Message: "Client Closed Request",
	}

	ErrInternal = &RouteError{
		Kind:    KindInternal,
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}

	ErrBadGateway = &RouteError{
		Kind:    KindInternal,
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrGatewayTimeout = &RouteError{
		Kind:    KindInternal,
		Code:    http.StatusGatewayTimeout,
		Message: "Gateway Timeout",
	}
)

// bases are the error singletons whose bodies are encoded once.
var bases = []*RouteError{
	ErrNoMatchingRoute, ErrBackendUnresolved, ErrFilter, ErrCanceled, ErrInternal, ErrBadGateway, ErrGatewayTimeout,
}

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*RouteError][]byte

func init() {
	preSerialized = make(map[*RouteError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a RouteError of the given kind.
func New(kind Kind, code int, message string) *RouteError {
	return &RouteError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Wrap derives a RouteError from a base error, keeping err as the cause.
func Wrap(base *RouteError, err error) *RouteError {
	return &RouteError{
		Kind:       base.Kind,
		Code:       base.Code,
		Message:    base.Message,
		Details:    base.Details,
		RequestID:  base.RequestID,
		underlying: err,
	}
}

// WithDetails adds details to the error
func (e *RouteError) WithDetails(details string) *RouteError {
	return &RouteError{
		Kind:       e.Kind,
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		underlying: e.underlying,
	}
}

// WithRequestID adds a request ID to the error
func (e *RouteError) WithRequestID(requestID string) *RouteError {
	return &RouteError{
		Kind:       e.Kind,
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		underlying: e.underlying,
	}
}

// As extracts a RouteError from an error chain.
func As(err error) (*RouteError, bool) {
	var re *RouteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if re, ok := As(err); ok {
		return re.Kind
	}
	return KindInternal
}
