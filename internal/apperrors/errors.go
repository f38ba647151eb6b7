package apperrors

import (
	"fmt"
	"strings"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func (e *IntegrityError) Error() string {
	parts := make([]string, 0, len(e.FailedParts))
	for _, p := range e.FailedParts {
		parts = append(parts, fmt.Sprintf("%d", p))
	}
	return fmt.Sprintf("%s: parts %s", e.Message, strings.Join(parts, ", "))
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewStorageError creates a new StorageError
func NewStorageError(message string, cause error) *StorageError {
	return &StorageError{Message: message, Cause: cause}
}

// NewIntegrityError creates a new IntegrityError
func NewIntegrityError(message string, failedParts []int) *IntegrityError {
	return &IntegrityError{Message: message, FailedParts: failedParts}
}

// NewProcessingError creates a new ProcessingError
func NewProcessingError(message string, cause error) *ProcessingError {
	return &ProcessingError{Message: message, Cause: cause}
}
