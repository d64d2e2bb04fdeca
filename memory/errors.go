package memory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/storage"
)

// Sentinel errors for memory operations.
var (
	// ErrInvalidConfig indicates an invalid threshold, scope or missing collaborator.
	ErrInvalidConfig = errors.New("invalid memory configuration")

	// ErrInvalidKey indicates an empty record key.
	ErrInvalidKey = errors.New("record key is required")

	// ErrStorage indicates a record store operation failed.
	ErrStorage = errors.New("storage operation failed")

	// ErrSummarization indicates the injected observe or reflect function failed.
	ErrSummarization = errors.New("summarization failed")

	// ErrReflectionConflict indicates an observation committed while a
	// reflection was running, so the reflection result was discarded.
	ErrReflectionConflict = errors.New("reflection superseded by a newer observation")
)

// Error provides structured error context for memory operations.
type Error struct {
	// Op is the operation that failed (e.g., "Observe", "Reflect", "GetRecord")
	Op string

	// Scope and Key address the record.
	Scope storage.Scope
	Key   string

	// RecordID is the record ID if known
	RecordID uuid.UUID

	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any
}

// Error returns a formatted error message.
func (e *Error) Error() string {
	msg := fmt.Sprintf("memory %s failed", e.Op)
	if e.Key != "" {
		msg += fmt.Sprintf(" for %s %q", e.Scope, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:      op,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithRecord sets the record address on the error and returns the error for chaining.
func (e *Error) WithRecord(scope storage.Scope, key string, id uuid.UUID) *Error {
	e.Scope = scope
	e.Key = key
	e.RecordID = id
	return e
}

// WithContext adds a key-value pair to the error context and returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// storageError wraps a store failure so it matches both ErrStorage and the
// store's own sentinel.
func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// summarizationError wraps a failure of an injected summarization function.
func summarizationError(err error) error {
	return fmt.Errorf("%w: %w", ErrSummarization, err)
}
