package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError with the same code and message, so wrapped
// sentinels compare equal with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrCodePersistence      = "PERSISTENCE_ERROR"
	ErrCodeStoreCorrupted   = "STORE_CORRUPTED"
)

// Input errors
var (
	ErrInvalidInput      = NewDomainError(ErrCodeInvalidInput, "invalid input")
	ErrEmptyText         = NewDomainError(ErrCodeInvalidInput, "text cannot be empty")
	ErrDimensionMismatch = NewDomainError(ErrCodeInvalidInput, "embedding dimension does not match knowledge base")
)

// Not found / already exists errors
var (
	ErrIncidentNotFound      = NewDomainError(ErrCodeNotFound, "incident not found")
	ErrIncidentAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "incident already exists")
)

// Infrastructure errors
var (
	ErrModelUnavailable = NewDomainError(ErrCodeModelUnavailable, "embedding model unavailable")
	ErrPersistence      = NewDomainError(ErrCodePersistence, "knowledge base could not be persisted")
	ErrStoreCorrupted   = NewDomainError(ErrCodeStoreCorrupted, "persisted knowledge base is corrupted")
)

// InvalidInput wraps a validation failure as an INVALID_INPUT domain error
func InvalidInput(err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeInvalidInput, ErrInvalidInput.Message, err)
}

// ModelUnavailable wraps an encoder failure as a MODEL_UNAVAILABLE domain error
func ModelUnavailable(err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeModelUnavailable, ErrModelUnavailable.Message, err)
}

// PersistenceFailed wraps a write failure for the given operation and incident
func PersistenceFailed(op, incidentID string, err error) *DomainError {
	if incidentID != "" {
		err = fmt.Errorf("%s %s: %w", op, incidentID, err)
	} else {
		err = fmt.Errorf("%s: %w", op, err)
	}
	return NewDomainErrorWithCause(ErrCodePersistence, ErrPersistence.Message, err)
}

// StoreCorrupted wraps a schema validation failure found while loading
func StoreCorrupted(err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStoreCorrupted, ErrStoreCorrupted.Message, err)
}

// IsCode reports whether err carries a DomainError with the given code
func IsCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// DuplicateError is the structured rejection returned when an incident is
// semantically identical to one already stored. It is not a failure of the
// store; callers decide whether to skip, merge or force-insert.
type DuplicateError struct {
	ID         string
	Similarity float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of incident %s (similarity %.4f)", e.ID, e.Similarity)
}

// AsDuplicate extracts a DuplicateError from err
func AsDuplicate(err error) (*DuplicateError, bool) {
	var de *DuplicateError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
