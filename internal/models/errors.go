package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth        = "AUTH_ERROR"
	ErrCodeForbidden   = "FORBIDDEN"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeState       = "STATE_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
	ErrCodeBadRequest  = "BAD_REQUEST"
)

// Sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrTokenExpired     = errors.New("token expired")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidRange     = errors.New("invalid stats range")
	ErrInvalidState     = errors.New("invalid step state")
	ErrRateLimited      = errors.New("rate limited")
	ErrBackendOffline   = errors.New("backend not connected")
)

// APIError represents an error from the fitness backend.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Is lets 401/403 responses match ErrNotAuthenticated and 429 match ErrRateLimited.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotAuthenticated:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return ErrCodeAuth
	case status == http.StatusForbidden:
		return ErrCodeForbidden
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeBadRequest
	}
}

// SyncError provides detailed push failure information.
type SyncError struct {
	Code   string
	Phase  string
	UserID string
	Date   string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Date != "" {
		return fmt.Sprintf("sync %s [%s]: user %s: %s: %v", e.Phase, e.Code, e.UserID, e.Date, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: user %s: %v", e.Phase, e.Code, e.UserID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
