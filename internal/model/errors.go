package model

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable denial or failure code.
type Reason string

const (
	ReasonUnknownCapability            Reason = "UnknownCapability"
	ReasonMissingArgument              Reason = "MissingArgument"
	ReasonInvalidArgument              Reason = "InvalidArgument"
	ReasonPathNotWhitelisted           Reason = "PathNotWhitelisted"
	ReasonPathProtected                Reason = "PathProtected"
	ReasonExtensionBlocked             Reason = "ExtensionBlocked"
	ReasonCommandBlocked               Reason = "CommandBlocked"
	ReasonDestructiveRequiresPrivilege Reason = "DestructiveActionRequiresPrivilege"
	ReasonRateLimitExceeded            Reason = "RateLimitExceeded"
	ReasonHandlerExecutionFailure      Reason = "HandlerExecutionFailure"
	ReasonUndoAlreadyConsumed          Reason = "UndoAlreadyConsumed"
	ReasonUndoNotFound                 Reason = "UndoNotFound"
	ReasonUndoInProgress               Reason = "UndoInProgress"
	ReasonDuplicateCapability          Reason = "DuplicateCapabilityRegistration"

	// ReasonCancelled means the caller gave up before execution started.
	ReasonCancelled Reason = "Cancelled"
)

// Error carries a Reason through normal error returns.
// errors.Is matches any two Errors with the same Reason, so callers can
// compare against the sentinels below regardless of the message.
type Error struct {
	Reason Reason
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

// Is reports whether target is an *Error with the same Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// Errorf builds an *Error with a formatted message.
func Errorf(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrUnknownCapability   = &Error{Reason: ReasonUnknownCapability}
	ErrMissingArgument     = &Error{Reason: ReasonMissingArgument}
	ErrInvalidArgument     = &Error{Reason: ReasonInvalidArgument}
	ErrHandlerFailure      = &Error{Reason: ReasonHandlerExecutionFailure}
	ErrUndoAlreadyConsumed = &Error{Reason: ReasonUndoAlreadyConsumed}
	ErrUndoNotFound        = &Error{Reason: ReasonUndoNotFound}
	ErrUndoInProgress      = &Error{Reason: ReasonUndoInProgress}
	ErrDuplicateCapability = &Error{Reason: ReasonDuplicateCapability}
)

// ReasonOf extracts the Reason from err, or "" if err carries none.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
