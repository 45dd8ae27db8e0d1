package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationRejected is matched by every rule or constraint rejection.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrDeadlock is returned to the lock request that would close a wait-for cycle.
	ErrDeadlock = errors.New("deadlock detected")
	// ErrLockTimeout is returned when a lock is not granted before the caller's deadline.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrStoreUnavailable wraps failures of the backing persistent store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is matched by every missing-entity error.
	ErrNotFound = errors.New("not found")
	// ErrTxClosed is returned when a committed or aborted transaction is reused.
	ErrTxClosed = errors.New("transaction closed")
	// ErrFollowUpFailed is matched when a transaction committed but one of the
	// derived-state transactions it spawned did not.
	ErrFollowUpFailed = errors.New("follow-up transaction failed")
)

// RuleViolationError is returned when a blocking violation rejects a mutation.
type RuleViolationError struct {
	Violation Violation
}

func (e RuleViolationError) Error() string {
	v := e.Violation
	return fmt.Sprintf("%s: rule %s on %s %d: %s", ErrValidationRejected, v.Rule, v.Entity, v.EntityID, v.Message)
}

// Is lets errors.Is match ErrValidationRejected.
func (e RuleViolationError) Is(target error) bool {
	return target == ErrValidationRejected
}

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is lets errors.Is match ErrNotFound.
func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StoreError reports a failed operation against the persistent backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// FollowUpError reports a spawned transaction that failed after its parent
// committed. The parent's changes stay visible.
type FollowUpError struct {
	Hook   string
	Parent string
	Err    error
}

func (e *FollowUpError) Error() string {
	return fmt.Sprintf("%s: %s after %s: %v", ErrFollowUpFailed, e.Hook, e.Parent, e.Err)
}

func (e *FollowUpError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrFollowUpFailed.
func (e *FollowUpError) Is(target error) bool {
	return target == ErrFollowUpFailed
}

// IsRetryable reports whether err leaves the caller free to retry the whole
// transaction with fresh locks. A failed follow-up is never retryable since
// its parent already committed.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrFollowUpFailed) {
		return false
	}
	return errors.Is(err, ErrDeadlock) || errors.Is(err, ErrLockTimeout)
}
