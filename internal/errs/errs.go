// Package errs defines the settlement error taxonomy. Every sentinel's
// message doubles as its wire code.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient_funds")
	ErrCurrencyMismatch       = errors.New("currency_mismatch")
	ErrIdempotencyConflict    = errors.New("idempotency_conflict")
	ErrOperationInProgress    = errors.New("operation_in_progress")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrUnknownSession         = errors.New("unknown_session")
	ErrAmountMismatch         = errors.New("amount_mismatch")
	ErrNotFound               = errors.New("not_found")

	ErrInvalidRequest        = errors.New("invalid_request")
	ErrRobotInactive         = errors.New("robot_inactive")
	ErrMissingIdempotencyKey = errors.New("missing_idempotency_key")
)

// ErrAlreadyRolledBack is returned when a second, distinct rollback targets an
// entry that already has one. It matches ErrInvalidStateTransition.
var ErrAlreadyRolledBack = &codedError{code: "already_rolled_back", parent: ErrInvalidStateTransition}

type codedError struct {
	code   string
	parent error
}

func (e *codedError) Error() string { return e.code }

func (e *codedError) Unwrap() error { return e.parent }

var byCode = map[string]error{}

func init() {
	for _, err := range []error{
		ErrInsufficientFunds,
		ErrCurrencyMismatch,
		ErrIdempotencyConflict,
		ErrOperationInProgress,
		ErrInvalidStateTransition,
		ErrUnknownSession,
		ErrAmountMismatch,
		ErrNotFound,
		ErrInvalidRequest,
		ErrRobotInactive,
		ErrMissingIdempotencyKey,
		ErrAlreadyRolledBack,
	} {
		byCode[err.Error()] = err
	}
}

// Code returns the wire code of the most specific taxonomy error wrapped by
// err, or "internal_error".
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAlreadyRolledBack) {
		return ErrAlreadyRolledBack.Error()
	}
	for code, sentinel := range byCode {
		if sentinel == ErrAlreadyRolledBack {
			continue
		}
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal_error"
}

// FromCode maps a stored wire code back to its sentinel.
func FromCode(code string) error {
	if err, ok := byCode[code]; ok {
		return err
	}
	return fmt.Errorf("stored failure: %s", code)
}

// Terminal reports whether err is a business outcome that stays the same on
// retry. Infrastructure failures and OperationInProgress are not terminal.
func Terminal(err error) bool {
	if err == nil || errors.Is(err, ErrOperationInProgress) {
		return false
	}
	_, ok := byCode[Code(err)]
	return ok
}

// Retriable reports whether the caller may retry err with the same key.
func Retriable(err error) bool {
	return err != nil && !Terminal(err)
}
