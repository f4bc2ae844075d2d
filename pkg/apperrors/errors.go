// Package apperrors defines the sentinel error taxonomy shared by every
// component, per the propagation policy: collaborators wrap failures at
// their boundary into one of these kinds with %w, and only the Orchestrator
// decides what status transition follows.
package apperrors

import "errors"

var (
	// ErrValidation indicates invalid user input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition indicates the state machine rejected a transition.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrInvariantViolation indicates persisted data is inconsistent with a
	// documented invariant (e.g. a dependency edge pointing at a missing story).
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrCycle indicates inserting a dependency edge would create a cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrRepo indicates a repository/worktree operation failed.
	ErrRepo = errors.New("repository operation failed")

	// ErrPlanner indicates the planner's response was structurally invalid
	// (bad story-type code, out-of-range dependency index).
	ErrPlanner = errors.New("planner response invalid")

	// ErrExternal indicates a transport/timeout failure calling an external
	// collaborator (the planner's LLM endpoint).
	ErrExternal = errors.New("external call failed")

	// ErrParse indicates the planner's response could not be parsed as JSON
	// even after tolerant extraction.
	ErrParse = errors.New("response parse failed")

	// ErrExecutor indicates the coding-agent subprocess failed to start.
	ErrExecutor = errors.New("executor failed")

	// ErrTimeout indicates an operation exceeded its configured deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled by its caller.
	ErrCancelled = errors.New("operation cancelled")

	// ErrConfig indicates a required credential or endpoint is missing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidOperation indicates a disallowed operation against the store,
	// such as nesting transactions.
	ErrInvalidOperation = errors.New("invalid operation")
)
