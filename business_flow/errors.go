// Package businessflow contains the routing engine and the assignment use cases
package businessflow

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrNoRoute           = errors.New("no applicable rule")
	ErrTransient         = errors.New("infrastructure unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
)

// kindedError is a sentinel that belongs to one error kind
type kindedError struct {
	msg  string
	kind error
}

func (e *kindedError) Error() string { return e.msg }
func (e *kindedError) Unwrap() error { return e.kind }

func newKinded(kind error, msg string) error {
	return &kindedError{msg: msg, kind: kind}
}

// Business flow error constants
var (
	// Input errors
	ErrClaimMalformed       = newKinded(ErrValidation, "claim message is malformed")
	ErrInvalidRequest       = newKinded(ErrValidation, "invalid request")
	ErrInvalidRule          = newKinded(ErrValidation, "rule fields are inconsistent with its type")
	ErrRuleNameRequired     = newKinded(ErrValidation, "rule name is required")
	ErrRuleRolesRequired    = newKinded(ErrValidation, "rule must authorize at least one role")
	ErrRuleRoleNotFound     = newKinded(ErrValidation, "rule references an unknown role")
	ErrUserNotEligible      = newKinded(ErrValidation, "user is inactive or archived")
	ErrReassignmentEmpty    = newKinded(ErrValidation, "at least one reassignment item is required")
	ErrUnknownSelectionMode = newKinded(ErrValidation, "unknown user selection policy")

	// Lookup errors
	ErrCompanyNotFound    = newKinded(ErrNotFound, "company not found")
	ErrCompanyInactive    = newKinded(ErrNotFound, "company is inactive")
	ErrAssignmentNotFound = newKinded(ErrNotFound, "assignment not found")
	ErrRuleNotFound       = newKinded(ErrNotFound, "rule not found")
	ErrUserNotFound       = newKinded(ErrNotFound, "user not found")

	// Concurrency errors
	ErrAssignmentConflict = newKinded(ErrConflict, "assignment was modified concurrently")
	ErrSupervisorBusy     = newKinded(ErrConflict, "ingestion service is changing state")

	// Infrastructure errors
	ErrLockUnavailable  = newKinded(ErrTransient, "could not acquire natural key lock")
	ErrQueueUnavailable = newKinded(ErrTransient, "claim queue unavailable")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// transientError marks an unclassified infrastructure failure as retryable.
// Errors that already carry a kind pass through unchanged.
func transientError(code, message string, err error) error {
	if err == nil {
		return nil
	}
	if ErrorKind(err) != KindInternal {
		return err
	}
	return NewBusinessError(code, message, fmt.Errorf("%w: %w", ErrTransient, err))
}

// Kind names used in logs, metrics and API error codes
const (
	KindValidation        = "validation"
	KindNotFound          = "not_found"
	KindConflict          = "conflict"
	KindNoRoute           = "no_route"
	KindTransient         = "transient"
	KindInvalidTransition = "invalid_transition"
	KindInternal          = "internal"
)

// ErrorKind returns the kind an error belongs to
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNoRoute):
		return KindNoRoute
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}

// ErrorCode returns the BusinessError code carried by err, if any
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsNoRoute(err error) bool {
	return errors.Is(err, ErrNoRoute)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsAssignmentNotFound(err error) bool {
	return errors.Is(err, ErrAssignmentNotFound)
}

func IsCompanyNotFound(err error) bool {
	return errors.Is(err, ErrCompanyNotFound) || errors.Is(err, ErrCompanyInactive)
}

func IsRuleNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}

func IsAssignmentConflict(err error) bool {
	return errors.Is(err, ErrAssignmentConflict)
}
