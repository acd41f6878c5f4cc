// Package services provides the error taxonomy and the template, delegation and query services.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/signoff/pkg/persistence"
)

// Kind is the machine-distinguishable error category returned to callers.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNoApproversResolved Kind = "no_approvers_resolved"
	KindInternal            Kind = "internal"
)

// Sentinels for each kind. Every ServiceError matches exactly one of them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrValidation          = errors.New("validation failed")
	ErrUnauthorized        = errors.New("not an approver")
	ErrForbidden           = errors.New("permission denied")
	ErrNoApproversResolved = errors.New("no approvers resolved")
)

var kindSentinels = map[Kind]error{
	KindNotFound:            ErrNotFound,
	KindConflict:            ErrConflict,
	KindValidation:          ErrValidation,
	KindUnauthorized:        ErrUnauthorized,
	KindForbidden:           ErrForbidden,
	KindNoApproversResolved: ErrNoApproversResolved,
}

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Kind    Kind   // Error kind for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel as well as the wrapped error chain.
func (e *ServiceError) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}

	return errors.Is(e.Err, target)
}

func newError(kind Kind, op, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Kind: kind, Message: message, Err: err}
}

// NotFound creates a not-found error.
func NotFound(op, message string, err error) *ServiceError {
	return newError(KindNotFound, op, message, err)
}

// Conflict creates a conflict error.
func Conflict(op, message string, err error) *ServiceError {
	return newError(KindConflict, op, message, err)
}

// Validation creates a validation error.
func Validation(op, message string, err error) *ServiceError {
	return newError(KindValidation, op, message, err)
}

// Unauthorized creates an error for a user outside the approver set.
func Unauthorized(op, message string) *ServiceError {
	return newError(KindUnauthorized, op, message, nil)
}

// Forbidden creates an error for a user lacking a capability.
func Forbidden(op, message string) *ServiceError {
	return newError(KindForbidden, op, message, nil)
}

// NoApprovers creates an error for a step that resolved to an empty approver set.
func NoApprovers(op, message string, err error) *ServiceError {
	return newError(KindNoApproversResolved, op, message, err)
}

// KindOf classifies any error returned by the engine or services. Persistence
// sentinels are mapped onto their kinds; anything unknown is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}

	switch {
	case persistence.IsInstanceNotFound(err),
		persistence.IsTemplateNotFound(err),
		persistence.IsDelegationNotFound(err):
		return KindNotFound
	case persistence.IsVersionConflict(err),
		persistence.IsActiveInstanceExists(err),
		errors.Is(err, persistence.ErrDelegationRevoked):
		return KindConflict
	case errors.Is(err, persistence.ErrInvalidSortField),
		errors.Is(err, persistence.ErrInvalidSortOrder):
		return KindValidation
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	return KindInternal
}

// FromPersistence maps a repository error onto the taxonomy, keeping the cause.
func FromPersistence(op string, err error) error {
	if err == nil {
		return nil
	}

	switch KindOf(err) {
	case KindNotFound:
		return NotFound(op, "", err)
	case KindConflict:
		return Conflict(op, "", err)
	case KindValidation:
		return Validation(op, "", err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func IsNotFound(err error) bool            { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool            { return KindOf(err) == KindConflict }
func IsValidation(err error) bool          { return KindOf(err) == KindValidation }
func IsUnauthorized(err error) bool        { return KindOf(err) == KindUnauthorized }
func IsForbidden(err error) bool           { return KindOf(err) == KindForbidden }
func IsNoApproversResolved(err error) bool { return KindOf(err) == KindNoApproversResolved }
