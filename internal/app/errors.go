package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

var (
	ErrNotFound = ports.ErrNotFound
	ErrConflict = ports.ErrConflict

	ErrInvalidRequest        = errors.New("invalid request")
	ErrScheduleLocked        = errors.New("schedule is locked")
	ErrScheduleHasViolations = errors.New("schedule has violations")
	ErrInvalidState          = errors.New("invalid schedule state")
	ErrOptimizationFailed    = errors.New("optimization failed")
	ErrResourceUnavailable   = errors.New("resource unavailable")
)

// Coded est implémentée par toutes les erreurs métier; le code est stable et
// sert de discriminant côté transport.
//
// Codes: invalid_request, schedule_not_found, job_not_found, schedule_locked,
// publish_blocked, invalid_state, optimization_failed, resource_unavailable.
type Coded interface {
	error
	Code() string
}

// ErrorCode renvoie le code d'une erreur métier, vide sinon.
func ErrorCode(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// CodedError est l'erreur générique à code; les types ci-dessous la
// spécialisent avec l'identifiant concerné.
type CodedError struct {
	ErrCode string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

func (e *CodedError) Code() string { return e.ErrCode }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }
func (e *ValidationError) Code() string  { return "invalid_request" }

type ScheduleNotFoundError struct {
	ScheduleID string
}

func (e *ScheduleNotFoundError) Error() string { return fmt.Sprintf("schedule %s not found", e.ScheduleID) }
func (e *ScheduleNotFoundError) Unwrap() error { return ErrNotFound }
func (e *ScheduleNotFoundError) Code() string  { return "schedule_not_found" }

type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string { return fmt.Sprintf("job %s not found", e.JobID) }
func (e *JobNotFoundError) Unwrap() error { return ErrNotFound }
func (e *JobNotFoundError) Code() string  { return "job_not_found" }

// ScheduleModificationError: modification d'un planning qui n'est plus DRAFT.
type ScheduleModificationError struct {
	ScheduleID string
	Status     domain.ScheduleStatus
}

func (e *ScheduleModificationError) Error() string {
	return fmt.Sprintf("schedule %s is %s and can no longer be modified", e.ScheduleID, e.Status)
}
func (e *ScheduleModificationError) Unwrap() error { return ErrScheduleLocked }
func (e *ScheduleModificationError) Code() string  { return "schedule_locked" }

type PublishError struct {
	ScheduleID string
	Violations []string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("schedule %s cannot be published with %d violation(s): %s",
		e.ScheduleID, len(e.Violations), strings.Join(e.Violations, "; "))
}
func (e *PublishError) Unwrap() error { return ErrScheduleHasViolations }
func (e *PublishError) Code() string  { return "publish_blocked" }

type InvalidStateError struct {
	ScheduleID string
	From       domain.ScheduleStatus
	Action     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s schedule %s in status %s", e.Action, e.ScheduleID, e.From)
}
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
func (e *InvalidStateError) Code() string  { return "invalid_state" }

type OptimizationError struct {
	Reason string
	Err    error
}

func (e *OptimizationError) Error() string {
	if e.Err == nil {
		return "optimization failed: " + e.Reason
	}
	return "optimization failed: " + e.Reason + ": " + e.Err.Error()
}

func (e *OptimizationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOptimizationFailed}
	}
	return []error{ErrOptimizationFailed, e.Err}
}
func (e *OptimizationError) Code() string { return "optimization_failed" }

// scheduleNotFound traduit un ErrNotFound de dépôt en erreur typée; les autres
// erreurs passent inchangées.
func scheduleNotFound(id string, err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return &ScheduleNotFoundError{ScheduleID: id}
	}
	return err
}

func jobNotFound(id string, err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return &JobNotFoundError{JobID: id}
	}
	return err
}

func resourceUnavailable(err error) error {
	return &CodedError{ErrCode: "resource_unavailable", Message: "resource unavailable", Err: errors.Join(ErrResourceUnavailable, err)}
}
