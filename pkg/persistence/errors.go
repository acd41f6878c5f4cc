package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInstanceNotFound indicates a workflow instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrDelegationNotFound indicates a delegation was not found by the given identifier.
	ErrDelegationNotFound = errors.New("delegation not found")

	// ErrVersionConflict indicates a conditional update lost against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")

	// ErrActiveInstanceExists indicates a non-terminal instance already exists for the resource.
	ErrActiveInstanceExists = errors.New("active workflow instance already exists for resource")

	// ErrDelegationRevoked indicates the delegation was already revoked.
	ErrDelegationRevoked = errors.New("delegation already revoked")

	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidID        = errors.New("invalid identifier")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Update")
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsDelegationNotFound checks if an error indicates a delegation was not found.
func IsDelegationNotFound(err error) bool {
	return errors.Is(err, ErrDelegationNotFound)
}

// IsVersionConflict checks if an error indicates a lost conditional update.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsActiveInstanceExists checks if an error indicates a duplicate active instance.
func IsActiveInstanceExists(err error) bool {
	return errors.Is(err, ErrActiveInstanceExists)
}
