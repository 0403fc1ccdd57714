// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

// ErrEmptyObservation signals that perception got nothing useful from the
// page. Non-fatal: the cycle continues with no new observation records.
var ErrEmptyObservation = errors.New("observation payload was empty")

// ErrTaskComplete is returned by the planning stage when it judges the
// intent satisfied. It is a terminal condition, not a failure.
var ErrTaskComplete = errors.New("task complete")

// ErrResourceExhausted marks a step or simulated-time budget overrun. Fatal
// to the session and never retried.
var ErrResourceExhausted = errors.New("resource budget exhausted")

// StageFailure wraps an unusable external collaborator result (LLM error or
// schema-invalid output) after the bounded retry was spent. The orchestrator
// recovers by logging a diagnostic memory and moving on; only a streak of
// these terminates the session.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// ActionExecutionError reports that the browser collaborator rejected a
// dispatched command. Surfaced on the action_taken record; the orchestrator
// answers with an extra perception pass to resync state.
type ActionExecutionError struct {
	Command string
	Reason  string
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %q failed: %s", e.Command, e.Reason)
}
