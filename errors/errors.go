package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Standard sentinel errors for common failure cases.
var (
	ErrValidation       = errors.New("validation failed")
	ErrAuthentication   = errors.New("authentication failed")
	ErrSessionExpired   = errors.New("session expired")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("resource not found")
	ErrConflict         = errors.New("conflict")
	ErrNetwork          = errors.New("network failure")
	ErrServer           = errors.New("server error")
)

// AppError represents a structured client error with the originating HTTP status.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates an error for rejected input.
func Validation(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrValidation,
	}
}

// Authentication creates an error for rejected credentials.
func Authentication(message string) *AppError {
	return &AppError{
		Code:    "AUTHENTICATION_FAILED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrAuthentication,
	}
}

// SessionExpired creates an error for a session that can no longer be refreshed.
func SessionExpired(message string) *AppError {
	return &AppError{
		Code:    "SESSION_EXPIRED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrSessionExpired,
	}
}

// NotAuthenticated creates an error for an operation that requires a login.
func NotAuthenticated(operation string) *AppError {
	return &AppError{
		Code:    "NOT_AUTHENTICATED",
		Message: fmt.Sprintf("%s requires authentication", operation),
		Status:  http.StatusUnauthorized,
		Err:     ErrNotAuthenticated,
	}
}

// NotFound creates an error for a missing resource.
func NotFound(resource, detail string) *AppError {
	msg := detail
	if msg == "" {
		msg = fmt.Sprintf("%s not found", resource)
	}
	return &AppError{
		Code:    "NOT_FOUND",
		Message: msg,
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// Conflict creates an error for a resource that already exists.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Network wraps a transport-level failure.
func Network(err error) *AppError {
	return &AppError{
		Code:    "NETWORK_FAILURE",
		Message: "request could not be completed",
		Err:     fmt.Errorf("%w: %w", ErrNetwork, err),
	}
}

// Server creates an error for a 5xx or otherwise unexpected response.
func Server(status int, message string) *AppError {
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}
	return &AppError{
		Code:    "SERVER_ERROR",
		Message: message,
		Status:  status,
		Err:     ErrServer,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// detailResponse mirrors the API's error body shape.
type detailResponse struct {
	Detail string `json:"detail"`
}

// Detail extracts the server-provided detail message from a non-2xx response
// body. Returns the empty string when the body is absent or unstructured.
// The response body is fully consumed and closed.
func Detail(resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return ""
	}

	var body detailResponse
	if json.Unmarshal(bodyBytes, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(bodyBytes))
}

// FromResponse translates a non-2xx HTTP response into an AppError, preserving
// the server's detail message when present. The caller should only invoke this
// when resp.StatusCode indicates an error. The response body is fully consumed
// and closed.
func FromResponse(resp *http.Response) error {
	detail := Detail(resp)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return Validation(orDefault(detail, "invalid input"))
	case resp.StatusCode == http.StatusUnauthorized:
		return Authentication(orDefault(detail, "unauthorized"))
	case resp.StatusCode == http.StatusNotFound:
		return NotFound("resource", detail)
	case resp.StatusCode == http.StatusConflict:
		return Conflict(orDefault(detail, "resource already exists"))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Validation(orDefault(detail, "request could not be processed"))
	case resp.StatusCode >= 500:
		return Server(resp.StatusCode, detail)
	default:
		return &AppError{
			Code:    "UNEXPECTED_STATUS",
			Message: orDefault(detail, fmt.Sprintf("unexpected status %d", resp.StatusCode)),
			Status:  resp.StatusCode,
		}
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// IsSessionExpired reports whether err indicates the session cannot continue.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsNotAuthenticated reports whether err indicates a missing login.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}

// IsNotFound reports whether err indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNetwork reports whether err indicates a transport failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
