package ledger

import (
	"errors"
	"fmt"

	"github.com/dennisdiepolder/echo/backend/internal/storage"
)

// ValidationError reports a missing or malformed input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that does not exist
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StorageError wraps a persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrorKind names the error category for logs and metrics
func ErrorKind(err error) string {
	var validation *ValidationError
	var notFound *NotFoundError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &notFound):
		return "not_found"
	default:
		return "storage"
	}
}

// TranslateStoreError maps a store error onto the ledger taxonomy
func TranslateStoreError(op string, userID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Kind: "user", ID: userID}
	}
	return &StorageError{Op: op, Err: err}
}
