// internal/agent/models.go

// Package agent runs the perception-action loop: capture, observe, ask the
// oracle, act, repeat, bounded by a step budget and a cooperative stop flag.
package agent

import "github.com/webpilot-ai/webpilot/api/schemas"

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// StepRecord captures one completed perception-action cycle. Cycles the loop
// never reached (budget, cancellation) leave no record.
type StepRecord struct {
	Index    int              `json:"index"`
	Decision schemas.Decision `json:"decision"`
	Action   *schemas.Action  `json:"action,omitempty"`
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
}

// RunResult is the structured outcome of a run. It is always returned, never
// thrown: every failure mode of the loop lands here.
type RunResult struct {
	RunID   string       `json:"run_id"`
	Query   string       `json:"query"`
	Status  RunStatus    `json:"status"`
	Success bool         `json:"success"`
	Summary string       `json:"summary,omitempty"`
	Error   string       `json:"error,omitempty"`
	Steps   []StepRecord `json:"steps"`
}
