package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for unconfigured pipeline backends.
var (
	ErrDeployQueueNotConfigured   = errors.New("deploy queue not configured")
	ErrSmokeQueueNotConfigured    = errors.New("smoke-test queue not configured")
	ErrRollbackQueueNotConfigured = errors.New("rollback queue not configured")
	ErrDeploymentNotFound         = errors.New("deployment not found")
)

// ValidationError is a fatal caller mistake; never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// NewValidationError creates a validation error.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// QueueDispatchError is a fatal task-dispatch failure. The pipeline does not
// retry dispatches; the queue implementation owns any deadline enforcement.
type QueueDispatchError struct {
	Queue string
	Err   error
}

func (e *QueueDispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s queue failed: %v", e.Queue, e.Err)
}

func (e *QueueDispatchError) Unwrap() error {
	return e.Err
}

// StatusStoreError is a fatal status-store failure.
type StatusStoreError struct {
	Op  string
	Err error
}

func (e *StatusStoreError) Error() string {
	return fmt.Sprintf("status store %s failed: %v", e.Op, e.Err)
}

func (e *StatusStoreError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError reports an attempted illegal phase transition.
type InvalidTransitionError struct {
	DeploymentID string
	From         Phase
	To           Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("deployment %s: cannot transition from %s to %s", e.DeploymentID, e.From, e.To)
}
