// Package httpapi is the HTTP boundary of the decision service: routing,
// request validation, response shaping, and the admin surface. The core
// never sees invalid input; the boundary never makes decisions.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// APIError is the structured error envelope returned for every non-2xx
// response that carries a body.
type APIError struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Param   string       `json:"param,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Status  int          `json:"-"`
}

// FieldError reports a validation failure for a single field.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// WithFields returns a copy of the error carrying field-level detail.
func (e *APIError) WithFields(fields []FieldError) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Errors = fields
	return &dup
}

// Predefined sentinel errors.
var (
	ErrBadRequest  = &APIError{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrValidation  = &APIError{Type: "validation_error", Code: "unprocessable", Message: "Validation failed", Status: http.StatusBadRequest}
	ErrNotFound    = &APIError{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrRateLimited = &APIError{Type: "rate_limit_error", Code: "limit_exceeded", Message: "Rate limit exceeded", Status: http.StatusTooManyRequests}
	ErrInternal    = &APIError{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
)

func writeError(w http.ResponseWriter, apiErr *APIError) {
	writeJSON(w, apiErr.Status, errorResponse{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
