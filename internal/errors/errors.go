// Package errors defines the client-facing error taxonomy for Apex's request
// path, per spec §7. ConfigError is distinct: it never reaches a client and
// is only ever logged.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a client-facing error. It carries the HTTP status to write,
// a stable machine-readable code, and an optional request ID for correlation.
type APIError struct {
	Status     int    `json:"-"`
	Code       string `json:"error"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"-"` // seconds; 0 means no Retry-After header
	underlying error
}

func (e *APIError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.underlying)
	}
	return e.Code
}

func (e *APIError) Unwrap() error {
	return e.underlying
}

// WriteJSON renders the error to w as the standard Apex error envelope.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

// Singletons for the stateless error kinds. Call WithDetails/WithRequestID to
// attach per-request context without mutating the shared value.
var (
	ErrBadRequest         = &APIError{Status: http.StatusBadRequest, Code: "bad_request"}
	ErrUnauthorized       = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized"}
	ErrForbidden          = &APIError{Status: http.StatusForbidden, Code: "forbidden"}
	ErrNotFound           = &APIError{Status: http.StatusNotFound, Code: "not_found"}
	ErrNoRouteForModel    = &APIError{Status: http.StatusNotFound, Code: "no_route_for_model"}
	ErrPayloadTooLarge    = &APIError{Status: http.StatusRequestEntityTooLarge, Code: "payload_too_large"}
	ErrRateLimited        = &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited"}
	ErrUpstream           = &APIError{Status: http.StatusBadGateway, Code: "upstream_error"}
	ErrGatewayTimeout     = &APIError{Status: http.StatusGatewayTimeout, Code: "gateway_timeout"}
	ErrInternal           = &APIError{Status: http.StatusInternalServerError, Code: "internal_error"}
)

// New builds a fresh APIError with the given status and code.
func New(status int, code string) *APIError {
	return &APIError{Status: status, Code: code}
}

// Wrap attaches an underlying cause for logging; the client never sees it.
func Wrap(err error, status int, code string) *APIError {
	return &APIError{Status: status, Code: code, underlying: err}
}

// WithDetails returns a copy of e with Details set.
func (e *APIError) WithDetails(details string) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithRequestID returns a copy of e with RequestID set.
func (e *APIError) WithRequestID(id string) *APIError {
	cp := *e
	cp.RequestID = id
	return &cp
}

// WithRetryAfter returns a copy of e with a Retry-After value in seconds.
func (e *APIError) WithRetryAfter(seconds int) *APIError {
	cp := *e
	cp.RetryAfter = seconds
	return &cp
}

// As reports whether err is an *APIError and returns it.
func As(err error) (*APIError, bool) {
	ae, ok := err.(*APIError)
	return ae, ok
}

// ConfigError describes a failed parse/validate/compile of a configuration
// file. It is internal-only: reload() logs it at ERROR and keeps the
// previous snapshot live (spec §4.1); it is never written to an HTTP client.
type ConfigError struct {
	Path    string // dotted location, e.g. "routers[1].rules[0].channels[2]"
	Message string
	err     error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.err }

// NewConfigError builds a located ConfigError.
func NewConfigError(path, message string) *ConfigError {
	return &ConfigError{Path: path, Message: message}
}

// WrapConfigError builds a located ConfigError around an underlying cause.
func WrapConfigError(err error, path, message string) *ConfigError {
	return &ConfigError{Path: path, Message: message, err: err}
}
