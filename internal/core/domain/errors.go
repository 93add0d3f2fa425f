package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrActionNotFound means the action id is not in the store. Recoverable.
	ErrActionNotFound = errors.New("action not found")
	// ErrDuplicateActionID means an insert collided with an existing id.
	ErrDuplicateActionID = errors.New("duplicate action id")
	// ErrUnknownAccount means no connector owns the account named in the params.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrAgentNotConfigured means the action's owning agent is not registered.
	ErrAgentNotConfigured = errors.New("agent not configured")
)

// InvalidTransitionError reports an approve/execute attempt from the wrong
// state. The current status is carried so callers can report it verbatim.
type InvalidTransitionError struct {
	ID     ActionID
	Status ActionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s is not pending (status: %s)", e.ID, e.Status)
}

// ProviderError wraps a connector failure during authenticate/search/execute.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CorruptionError means a stored action could not be decoded. It is fatal for
// that record and must be surfaced, never swallowed.
type CorruptionError struct {
	ID  ActionID
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt stored action %s: %v", e.ID, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }
