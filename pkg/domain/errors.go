package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error with a code and message
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeMalformedEvent   = "MALFORMED_EVENT"
)

// Error constructors

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) error {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(msg string) error {
	return &DomainError{
		Code:    ErrCodeConflict,
		Message: msg,
	}
}

// NewInvalidSignatureError wraps a webhook signature verification failure
func NewInvalidSignatureError(err error) error {
	return &DomainError{
		Code:    ErrCodeInvalidSignature,
		Message: "webhook signature verification failed",
		Err:     err,
	}
}

// NewMalformedEventError reports a recognized event missing a required field
func NewMalformedEventError(msg string) error {
	return &DomainError{
		Code:    ErrCodeMalformedEvent,
		Message: msg,
	}
}

// Helper functions to check error types

func hasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsInvalidSignature checks if the error is a webhook signature failure
func IsInvalidSignature(err error) bool {
	return hasCode(err, ErrCodeInvalidSignature)
}

// IsMalformedEvent checks if the error is a malformed event error
func IsMalformedEvent(err error) bool {
	return hasCode(err, ErrCodeMalformedEvent)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternal
}

// GetErrorMessage returns the client-safe message of a domain error
func GetErrorMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
