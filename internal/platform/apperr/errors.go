// Package apperr defines the error taxonomy shared by the reconciliation
// passes: input errors abort before any read, data errors become skipped
// plan items, storage errors abort the apply phase and carry the progress
// made before the failure.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is matched by every InputError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidData is matched by every DataError.
	ErrInvalidData = errors.New("invalid data")

	// ErrStorage is matched by every StorageError.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// InputError reports an operator mistake detected before any storage access.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid input: %s", e.Message)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// NewInputError creates a new InputError.
func NewInputError(field, message string) *InputError {
	return &InputError{Field: field, Message: message}
}

// DataError describes a stored row the engine refuses to touch.
type DataError struct {
	RangeID string
	Reason  string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("range %s: %s", e.RangeID, e.Reason)
}

func (e *DataError) Is(target error) bool { return target == ErrInvalidData }

// NewDataError creates a new DataError.
func NewDataError(rangeID, reason string) *DataError {
	return &DataError{RangeID: rangeID, Reason: reason}
}

// StorageError wraps a failure raised while reading or mutating storage.
// Applied is the number of mutations that were committed before Err.
type StorageError struct {
	Op      string
	Applied int
	Err     error
}

func (e *StorageError) Error() string {
	if e.Applied > 0 {
		return fmt.Sprintf("%s failed after %d applied change(s): %v", e.Op, e.Applied, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError creates a new StorageError.
func NewStorageError(op string, applied int, err error) *StorageError {
	return &StorageError{Op: op, Applied: applied, Err: err}
}

// IsInput reports whether err is an input error.
func IsInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }
