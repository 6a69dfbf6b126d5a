package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrUnavailable       = errors.New("service temporarily unavailable")
	ErrNotConfigured     = errors.New("service not configured")
	ErrQueueFull         = errors.New("queue limit exceeded")
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBatchRunning      = errors.New("batch already running")
	ErrNothingToSubmit   = errors.New("nothing to submit")
	ErrPersistence       = errors.New("persistence failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
