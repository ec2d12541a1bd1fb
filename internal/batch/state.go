package batch

import (
	"context"
	"fmt"
	"time"

	"stockmetrics/internal/model"
)

// Mode selects how rows reach the sink.
type Mode string

const (
	// ModeAppend adds one row per symbol after the last written row.
	ModeAppend Mode = "append"
	// ModeRefresh overwrites each symbol's row in place by position.
	ModeRefresh Mode = "refresh"
)

// State is the controller's lifecycle state for one invocation.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// RunState is reconstructed from the sink at the start of every invocation.
type RunState struct {
	Mode   Mode
	Cursor int
}

// DeriveRunState picks the write mode and resume cursor. Refresh applies only
// when enabled and the sink carries a valid last-update stamp; it always
// starts from the first symbol. Append resumes after the rows already
// written, clamped to the symbol count.
func DeriveRunState(refreshEnabled, lastUpdatedValid bool, dataRows, totalSymbols int) RunState {
	if refreshEnabled && lastUpdatedValid {
		return RunState{Mode: ModeRefresh, Cursor: 0}
	}
	cursor := dataRows
	if cursor < 0 {
		cursor = 0
	}
	if cursor > totalSymbols {
		cursor = totalSymbols
	}
	return RunState{Mode: ModeAppend, Cursor: cursor}
}

// ContinuationDecision tells the caller whether to register a re-invocation.
// The zero value means no continuation.
type ContinuationDecision struct {
	Schedule bool
	After    time.Duration
}

// NoContinuation is the None decision.
func NoContinuation() ContinuationDecision { return ContinuationDecision{} }

// ScheduleAfter asks for one re-invocation after d.
func ScheduleAfter(d time.Duration) ContinuationDecision {
	return ContinuationDecision{Schedule: true, After: d}
}

func (d ContinuationDecision) String() string {
	if !d.Schedule {
		return "none"
	}
	return "schedule after " + d.After.String()
}

// Decide returns the continuation for an invocation that stopped early.
// Only an append-mode run with symbols left and auto-continue on resumes.
func Decide(mode Mode, exhausted bool, remaining int, autoContinue bool, after time.Duration) ContinuationDecision {
	if !exhausted || remaining <= 0 || mode != ModeAppend || !autoContinue {
		return NoContinuation()
	}
	return ScheduleAfter(after)
}

// ApplyContinuation clears every pending schedule for job and registers the
// decided one, leaving at most one outstanding.
func ApplyContinuation(ctx context.Context, s model.Scheduler, job string, d ContinuationDecision) error {
	if !d.Schedule {
		return nil
	}
	if s == nil {
		return fmt.Errorf("%w: no scheduler for continuation of %q", model.ErrConfiguration, job)
	}
	if err := s.CancelAllFor(ctx, job); err != nil {
		return fmt.Errorf("cancel stale schedules for %q: %w", job, err)
	}
	if err := s.ScheduleOnce(ctx, job, d.After); err != nil {
		return fmt.Errorf("schedule %q after %s: %w", job, d.After, err)
	}
	return nil
}
