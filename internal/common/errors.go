package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	CodeConfig             = "CONFIG_ERROR"
	CodeTierTimeout        = "TIER_TIMEOUT"
	CodeTierService        = "TIER_SERVICE"
	CodeTierEmpty          = "TIER_EMPTY"
	CodeValidation         = "VALIDATION"
	CodeAllTiersExhausted  = "ALL_TIERS_EXHAUSTED"
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeMalformedResponse  = "MALFORMED_RESPONSE"
	CodeTranscriptFailure  = "TRANSCRIPT_ERROR"
	CodeProfileDefinition  = "PROFILE_ERROR"
	CodeOutcomePersistence = "OUTCOME_STORE_ERROR"
)

// Common application errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
	ErrDatabase          = errors.New("database error")
	ErrValidation        = errors.New("validation failed")
	ErrTierTimeout       = errors.New("tier timed out")
	ErrTierService       = errors.New("tier service error")
	ErrTierEmpty         = errors.New("tier produced no line items")
	ErrAllTiersExhausted = errors.New("all extraction tiers exhausted")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// NewValidationError builds the non-recoverable error raised for malformed output rows.
func NewValidationError(message string, cause error) *AppError {
	if cause == nil {
		cause = ErrValidation
	} else {
		cause = fmt.Errorf("%w: %w", ErrValidation, cause)
	}
	return NewAppError(CodeValidation, message, cause)
}

// IsDeadline reports whether err means a time budget ran out, either locally
// (context deadline) or on the remote side (gRPC DeadlineExceeded).
func IsDeadline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTierTimeout) {
		return true
	}
	return StatusCode(err) == codes.DeadlineExceeded
}

// StatusCode extracts a gRPC status code from err, unwrapping as needed.
func StatusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Code()
	}
	return status.Code(err)
}

// ServiceErrorf wraps a remote failure as a tier service error with its status code.
func ServiceErrorf(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if code := StatusCode(err); code != codes.OK && code != codes.Unknown {
		msg = fmt.Sprintf("%s (%s)", msg, code)
	}
	return NewAppError(CodeTierService, msg, fmt.Errorf("%w: %w", ErrTierService, err))
}
