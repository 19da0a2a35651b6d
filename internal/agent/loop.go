// internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// ControlPlane is the loop's view of the session tree: the intent surface
// plus the active tab's URL for the go_back trail.
type ControlPlane interface {
	Handle(ctx context.Context, intent schemas.Intent) schemas.IntentResult
	CurrentURL(ctx context.Context) (string, error)
}

// Loop drives the capture-observe-decide-act cycle for one query at a time.
type Loop struct {
	plane  ControlPlane
	oracle schemas.Oracle
	cfg    config.AgentConfig
	logger *zap.Logger

	stopped atomic.Bool
}

func NewLoop(plane ControlPlane, oracle schemas.Oracle, cfg config.AgentConfig, logger *zap.Logger) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.StepSettle == 0 {
		cfg.StepSettle = 2 * time.Second
	}
	return &Loop{
		plane:  plane,
		oracle: oracle,
		cfg:    cfg,
		logger: logger.Named("agent"),
	}
}

// Stop requests a cooperative halt. The current cycle finishes; the check
// happens at the top of the next one.
func (l *Loop) Stop() {
	l.stopped.Store(true)
}

func (l *Loop) cancelled(ctx context.Context) bool {
	return l.stopped.Load() || ctx.Err() != nil
}

// Run executes the loop for a single query. It always returns a RunResult;
// oracle failures, empty pages, protocol errors, panics, and cancellation all
// land in the result rather than escaping.
func (l *Loop) Run(ctx context.Context, query string) (result *RunResult) {
	result = &RunResult{
		RunID:  uuid.NewString(),
		Query:  query,
		Status: StatusFailed,
	}
	log := l.logger.With(zap.String("run_id", result.RunID))

	// Whatever way the run ends, leftover marker overlays get a best-effort
	// cleanup. Detached from ctx so a cancelled run still gets its sweep.
	defer func() {
		l.plane.Handle(context.WithoutCancel(ctx), schemas.Intent{Type: schemas.IntentClearMarkers})
	}()

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Success = false
			result.Error = fmt.Sprintf("internal panic: %v", r)
			log.Error("Run panicked.", zap.Any("panic", r))
		}
	}()

	log.Info("Run starting.", zap.String("query", query), zap.Int("max_steps", l.cfg.MaxSteps))

	var (
		history  []string
		urlTrail []string
	)
	if url, err := l.plane.CurrentURL(ctx); err == nil && url != "" {
		urlTrail = append(urlTrail, url)
	}

	for step := 0; step < l.cfg.MaxSteps; step++ {
		if l.cancelled(ctx) {
			result.Status = StatusCancelled
			result.Error = schemas.ErrCancelled.Error()
			log.Info("Run cancelled.", zap.Int("completed_steps", len(result.Steps)))
			return result
		}

		shot, elements, err := l.observe(ctx)
		if err != nil {
			result.Error = err.Error()
			log.Warn("Observation failed; run over.", zap.Error(err))
			return result
		}
		if len(elements) == 0 {
			result.Error = schemas.ErrNoInteractiveElements.Error()
			log.Warn("Nothing automatable on page; run over.")
			return result
		}

		decision, err := l.oracle.Decide(ctx, shot, elements, query, history)
		if err != nil {
			result.Error = err.Error()
			log.Warn("Oracle failed; run over.", zap.Error(err))
			return result
		}

		if decision.Kind == schemas.DecisionAnswer {
			result.Status = StatusSucceeded
			result.Success = true
			result.Summary = answerText(decision)
			result.Steps = append(result.Steps, StepRecord{
				Index: step, Decision: decision, Success: true,
			})
			log.Info("Run answered.", zap.Int("steps", len(result.Steps)))
			return result
		}

		action, terminal := MapDecision(decision, previousURL(urlTrail))
		if terminal {
			// Unrecognized decision kind: end the run instead of guessing.
			result.Error = fmt.Sprintf("oracle returned no actionable decision (%q)", decision.Kind)
			result.Steps = append(result.Steps, StepRecord{Index: step, Decision: decision})
			log.Warn("Unintelligible oracle decision; run over.", zap.String("kind", string(decision.Kind)))
			return result
		}

		stepErr := l.act(ctx, action, elements)
		record := StepRecord{Index: step, Decision: decision, Action: &action, Success: stepErr == nil}
		if stepErr != nil {
			record.Error = stepErr.Error()
			log.Warn("Step failed.", zap.Int("step", step), zap.Error(stepErr))
		}
		result.Steps = append(result.Steps, record)
		history = append(history, describeStep(decision, stepErr))

		// Markers are repainted by the next observation anyway; cleanup is
		// cosmetic and must never sink a run.
		l.plane.Handle(ctx, schemas.Intent{Type: schemas.IntentClearMarkers})

		if url, err := l.plane.CurrentURL(ctx); err == nil && url != "" && url != latestURL(urlTrail) {
			urlTrail = append(urlTrail, url)
		}

		if err := l.settle(ctx); err != nil {
			result.Status = StatusCancelled
			result.Error = schemas.ErrCancelled.Error()
			return result
		}
	}

	// Budget exhausted: call the run a success if anything worked at all.
	anySucceeded := false
	for _, s := range result.Steps {
		if s.Success {
			anySucceeded = true
			break
		}
	}
	if anySucceeded {
		result.Status = StatusSucceeded
		result.Success = true
	}
	result.Summary = fmt.Sprintf("step budget of %d exhausted", l.cfg.MaxSteps)
	log.Info("Run hit step budget.", zap.Bool("success", result.Success))
	return result
}

// observe captures the screenshot and runs the element-marking pass.
func (l *Loop) observe(ctx context.Context) (schemas.Screenshot, []schemas.ElementDescriptor, error) {
	res := l.plane.Handle(ctx, schemas.Intent{Type: schemas.IntentCaptureScreenshot})
	if !res.Success {
		return schemas.Screenshot{}, nil, fmt.Errorf("capture screenshot: %s", res.Error)
	}
	shot, ok := res.Data.(schemas.Screenshot)
	if !ok {
		return schemas.Screenshot{}, nil, errors.New("capture screenshot: unexpected payload")
	}

	res = l.plane.Handle(ctx, schemas.Intent{Type: schemas.IntentMarkElements})
	if !res.Success {
		return schemas.Screenshot{}, nil, fmt.Errorf("mark elements: %s", res.Error)
	}
	elements, ok := res.Data.([]schemas.ElementDescriptor)
	if !ok {
		return schemas.Screenshot{}, nil, errors.New("mark elements: unexpected payload")
	}
	return shot, elements, nil
}

// act executes one mapped action against the snapshot it was decided on.
func (l *Loop) act(ctx context.Context, action schemas.Action, elements []schemas.ElementDescriptor) error {
	res := l.plane.Handle(ctx, schemas.Intent{
		Type:     schemas.IntentExecuteAction,
		Action:   &action,
		Elements: elements,
	})
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

// settle pauses between cycles so the page can react to the last action.
func (l *Loop) settle(ctx context.Context) error {
	t := time.NewTimer(l.cfg.StepSettle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func previousURL(trail []string) string {
	if len(trail) < 2 {
		return ""
	}
	return trail[len(trail)-2]
}

func latestURL(trail []string) string {
	if len(trail) == 0 {
		return ""
	}
	return trail[len(trail)-1]
}

// answerText renders the user-facing answer out of an answer decision. The
// rationale rides along with the answer text when both are present.
func answerText(d schemas.Decision) string {
	switch {
	case d.Text == "":
		return d.Rationale
	case d.Rationale == "" || d.Rationale == d.Text:
		return d.Text
	default:
		return d.Text + " (" + d.Rationale + ")"
	}
}
