package session

import (
	"fmt"

	"github.com/goodtune/deepwork/internal/storage"
)

// ValidationError reports malformed input. Nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InvalidTransitionError reports an operation attempted from a status that does not allow it.
type InvalidTransitionError struct {
	Operation Operation
	Status    storage.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s session with status: %s", e.Operation, e.Status)
}

// NotFoundError reports a session ID that does not resolve to a stored session.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %d not found", e.ID)
}

// Is lets errors.Is(err, storage.ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == storage.ErrNotFound
}
