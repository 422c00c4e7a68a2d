package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTimeout        = "SCRAPE_TIMEOUT"
	ErrCodeTransientFetch = "TRANSIENT_FETCH"
	ErrCodeNavigation     = "NAVIGATION_FAILED"
	ErrCodePermanentFetch = "PERMANENT_FETCH"
	ErrCodeExtraction     = "EXTRACTION_FAILED"
	ErrCodeDelivery       = "DELIVERY_FAILED"
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"

	// LLM-related error codes, reported on the ai_extraction category.
	ErrCodeLLMFailure     = "LLM_FAILURE"
	ErrCodeLLMAuthFailure = "LLM_AUTH_FAILURE"
	ErrCodeLLMRateLimited = "LLM_RATE_LIMITED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Attempts is the number of fetch attempts made before giving up.
	Attempts int `json:"attempts,omitempty"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying cannot change the outcome.
func (e *ScrapeError) Permanent() bool {
	switch e.Code {
	case ErrCodeInvalidInput, ErrCodePermanentFetch, ErrCodeNavigation, ErrCodeUnauthorized:
		return true
	}
	return false
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Permanent is always true: a malformed request never becomes valid.
func (e *ValidationError) Permanent() bool { return true }

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DetailFromError maps any error to an ErrorDetail, keeping the code of the
// first ScrapeError or ValidationError in the chain.
func DetailFromError(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ErrorDetail{Code: ErrCodeInvalidInput, Message: ve.Error()}
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.ToDetail()
	}
	return &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}
}
