package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCode identifies the kind of failure in a dashboard error response
type ErrorCode string

const (
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrCodeExternalAPI        ErrorCode = "EXTERNAL_API_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeBadRequest:         "The request is invalid or malformed",
	ErrCodeValidation:         "Request validation failed",
	ErrCodeUnauthorized:       "The messaging API rejected the session token",
	ErrCodeNotFound:           "The requested job or import was not found",
	ErrCodeConflict:           "The job is already being monitored",
	ErrCodeRateLimited:        "Rate limit exceeded. Please try again later",
	ErrCodeInternalError:      "An internal server error occurred",
	ErrCodeExternalAPI:        "Failed to communicate with the messaging API",
	ErrCodeServiceUnavailable: "The messaging API did not answer in time",
}

// APIError is the body of every dashboard error response
type APIError struct {
	Error     ErrorCode `json:"error"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// Message returns the user-facing text of code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "An unknown error occurred"
}

// ErrorHandler logs err and writes it as a structured error response.
// Client errors log at warn, server and upstream errors at error.
func ErrorHandler(w http.ResponseWriter, err error, code ErrorCode, statusCode int, requestID string) {
	apiErr := APIError{
		Error:     code,
		Message:   code.Message(),
		Details:   err.Error(),
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	logger := Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{
		"error_code":  code,
		"status_code": statusCode,
		"request_id":  requestID,
		"error":       err.Error(),
	})
	if statusCode >= http.StatusInternalServerError {
		entry.Error("API error occurred")
	} else {
		entry.Warn("API request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

func RespondBadRequest(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeBadRequest, http.StatusBadRequest, requestID)
}

func RespondValidationError(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeValidation, http.StatusBadRequest, requestID)
}

func RespondUnauthorized(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeUnauthorized, http.StatusUnauthorized, requestID)
}

func RespondNotFound(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeNotFound, http.StatusNotFound, requestID)
}

// RespondConflict is used when a monitor already exists for the job
func RespondConflict(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeConflict, http.StatusConflict, requestID)
}

func RespondRateLimited(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeRateLimited, http.StatusTooManyRequests, requestID)
}

func RespondInternalError(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeInternalError, http.StatusInternalServerError, requestID)
}

// RespondExternalAPIError reports a messaging API failure as 502
func RespondExternalAPIError(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeExternalAPI, http.StatusBadGateway, requestID)
}

// RespondServiceUnavailable reports a messaging API timeout as 503
func RespondServiceUnavailable(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeServiceUnavailable, http.StatusServiceUnavailable, requestID)
}
