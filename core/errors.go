package core

import "errors"

var (
	// ErrDuplicateRequest signals an idempotency hit. It is a no-op success, not a failure.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrUnknownActionType rejects actions missing from the reward table.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrInvalidNegativeSpend rejects a negative energy spend.
	ErrInvalidNegativeSpend = errors.New("energy spent cannot be negative")
	// ErrTransientStorage marks retryable storage failures such as write conflicts.
	ErrTransientStorage = errors.New("transient storage failure")
	// ErrEmptyUserID rejects blank user identifiers.
	ErrEmptyUserID = errors.New("empty user id")
)
