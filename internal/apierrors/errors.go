// Package apierrors provides a standardized error shape for the
// orchestrator: one AppError type carrying a machine-readable code,
// an HTTP/WS status mapping and optional structured details.
package apierrors

import (
	"fmt"
	"net/http"
)

// Error codes, per the control plane's error-handling design.
const (
	CodeValidation         = "VALIDATION"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeInvalidState       = "INVALID_STATE"
	CodeUnknownType        = "UNKNOWN_TYPE"
)

// AppError is the single error type crossing component and wire boundaries.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"-"`
}

func (e *AppError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

// ErrorResponse is the JSON shape sent over HTTP or as a WS error frame.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToResponse converts an AppError to its wire representation.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Code: e.Code, Message: e.Message, Details: e.Details}
}

func statusFor(code string) int {
	switch code {
	case CodeValidation, CodeUnknownType:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState:
		return http.StatusConflict
	case CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func new(code, message string, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusFor(code)}
}

func NewValidation(message string, details map[string]any) *AppError {
	return new(CodeValidation, message, details)
}

func NewConflict(message string) *AppError {
	return new(CodeConflict, message, nil)
}

func NewNotFound(resource, id string) *AppError {
	return new(CodeNotFound, fmt.Sprintf("%s %q not found", resource, id), nil)
}

func NewForbidden(message string) *AppError {
	return new(CodeForbidden, message, nil)
}

func NewBackendUnavailable(backend string, err error) *AppError {
	details := map[string]any{}
	if err != nil {
		details["cause"] = err.Error()
	}
	return new(CodeBackendUnavailable, fmt.Sprintf("%s is unavailable", backend), details)
}

func NewInvalidState(message string) *AppError {
	return new(CodeInvalidState, message, nil)
}

func NewUnknownType(messageType string) *AppError {
	return new(CodeUnknownType, fmt.Sprintf("unknown message type %q", messageType), nil)
}

// As reports whether err is an *AppError and returns it.
func As(err error) (*AppError, bool) {
	ae, ok := err.(*AppError)
	return ae, ok
}
