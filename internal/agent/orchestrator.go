// internal/agent/orchestrator.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
)

// Orchestrator owns one session's lifecycle: it seeds the memory stream,
// drives the Perception->Planning->Action fast loop, schedules the slow loop
// every K cycles, and decides termination. Every termination lands as a
// recorded, inspectable state; no fault escapes the session boundary.
type Orchestrator struct {
	cfg    config.AgentConfig
	logger *zap.Logger

	sess    *Session
	browser schemas.BrowserSession
	sink    schemas.TraceSink

	perception *PerceptionStage
	planning   *PlanningStage
	action     *ActionStage
	reflection *ReflectionStage
	wonder     *WonderStage

	commands   []schemas.ActionCommand
	slowCycles int
	slowWG     sync.WaitGroup

	// stageFailures counts consecutive StageFailure recoveries; a streak at
	// the configured limit aborts the session.
	stageFailures int
	// recentOutcomes holds the success flags of the last few dispatched
	// actions for the stuckness check.
	recentOutcomes []bool
	// reobserve requests an extra perception emphasis after a failed
	// execution; the next cycle observes anyway, so this only drives logging.
	reobserve bool
}

// NewOrchestrator wires the five stages around one session.
func NewOrchestrator(
	cfg config.AgentConfig,
	sess *Session,
	llm schemas.LLMClient,
	browser schemas.BrowserSession,
	sink schemas.TraceSink,
	logger *zap.Logger,
) *Orchestrator {
	logger = logger.Named("orchestrator").With(zap.String("session_id", sess.ID))
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		sess:       sess,
		browser:    browser,
		sink:       sink,
		perception: NewPerceptionStage(llm, cfg, logger),
		planning:   NewPlanningStage(llm, cfg, logger),
		action:     NewActionStage(llm, cfg, logger),
		reflection: NewReflectionStage(llm, cfg, logger),
		wonder:     NewWonderStage(llm, cfg, logger),
	}
}

// Run drives the session to a terminal state and hands the finished trace to
// the sink. The returned trace is complete even when the session aborts; the
// error reflects infrastructure problems only (a failed trace save), never a
// terminated-but-recorded session.
func (o *Orchestrator) Run(ctx context.Context) (*schemas.SessionTrace, error) {
	o.emit(ctx, schemas.SessionRunning, "initializing", 0, "")

	if err := o.seedStream(ctx); err != nil {
		return o.finish(ctx, schemas.SessionFailed, schemas.TerminatedAborted, 0,
			fmt.Sprintf("seeding memory stream: %v", err))
	}
	if err := o.browser.Navigate(ctx, o.sess.TargetURL); err != nil {
		return o.finish(ctx, schemas.SessionFailed, schemas.TerminatedAborted, 0,
			fmt.Sprintf("initial navigation failed: %v", err))
	}

	cycle := 0
	for cycle < o.cfg.MaxSteps {
		if ctx.Err() != nil {
			return o.finish(ctx, schemas.SessionAborted, schemas.TerminatedAborted, cycle, "cancelled externally")
		}
		if o.cfg.MaxSimulatedTicks > 0 && o.sess.Stream.Now() >= int64(o.cfg.MaxSimulatedTicks) {
			return o.finish(ctx, schemas.SessionFailed, schemas.TerminatedExhausted, cycle,
				ErrResourceExhausted.Error())
		}

		cycle++
		o.emit(ctx, schemas.SessionRunning, "fast_cycle", cycle, "")

		state, reason, detail, done := o.fastCycle(ctx, cycle)
		if done {
			return o.finish(ctx, state, reason, cycle, detail)
		}

		if o.cfg.SlowLoopEvery > 0 && cycle%o.cfg.SlowLoopEvery == 0 {
			o.startSlowCycle(ctx, cycle)
		}
	}

	return o.finish(ctx, schemas.SessionFailed, schemas.TerminatedExhausted, cycle,
		fmt.Sprintf("step budget of %d exceeded", o.cfg.MaxSteps))
}

// fastCycle runs Perception -> Planning -> Action once. It reports a
// terminal decision via done; otherwise the orchestrator continues looping.
func (o *Orchestrator) fastCycle(ctx context.Context, cycle int) (schemas.SessionState, schemas.TerminationReason, string, bool) {
	obs, err := o.browser.Observe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return schemas.SessionAborted, schemas.TerminatedAborted, "cancelled externally", true
		}
		o.recordDiagnostic(ctx, fmt.Sprintf("Could not observe the page: %v", err))
		if o.noteStageFailure() {
			return schemas.SessionAborted, schemas.TerminatedAborted, "observation failure streak", true
		}
		return "", "", "", false
	}
	if o.reobserve {
		o.logger.Debug("Re-synchronized page state after a failed action", zap.Int("cycle", cycle))
		o.reobserve = false
	}

	_, err = o.perception.Perceive(ctx, obs, o.sess)
	switch {
	case err == nil:
		o.stageFailures = 0
	case errors.Is(err, ErrEmptyObservation):
		// A blank page is a valid, if uninteresting, state.
		o.logger.Debug("Perception found nothing on the page", zap.Int("cycle", cycle))
	case ctx.Err() != nil:
		return schemas.SessionAborted, schemas.TerminatedAborted, "cancelled externally", true
	default:
		o.recordDiagnostic(ctx, fmt.Sprintf("Perception failed: %v", err))
		if o.noteStageFailure() {
			return schemas.SessionAborted, schemas.TerminatedAborted, "stage failure streak", true
		}
	}

	// Reflections from slow cycle N feed planning from cycle N+1 onward, so
	// an in-flight slow loop is joined here, after perception and before the
	// planning read.
	o.slowWG.Wait()

	_, err = o.planning.Plan(ctx, o.sess)
	switch {
	case err == nil:
		o.stageFailures = 0
	case errors.Is(err, ErrTaskComplete):
		return schemas.SessionCompleted, schemas.TerminatedCompleted, "intent satisfied", true
	case ctx.Err() != nil:
		return schemas.SessionAborted, schemas.TerminatedAborted, "cancelled externally", true
	default:
		o.recordDiagnostic(ctx, fmt.Sprintf("Planning failed: %v", err))
		if o.noteStageFailure() {
			return schemas.SessionAborted, schemas.TerminatedAborted, "stage failure streak", true
		}
		// Without a fresh step there is nothing to act on; fall back to the
		// previous plan's step when one survives, otherwise skip the action.
		if o.sess.Plan.NextStep == "" {
			return "", "", "", false
		}
	}

	commands, err := o.action.Act(ctx, o.sess.Plan.NextStep, obs, o.sess)
	switch {
	case err == nil:
		o.stageFailures = 0
	case ctx.Err() != nil:
		return schemas.SessionAborted, schemas.TerminatedAborted, "cancelled externally", true
	default:
		o.recordDiagnostic(ctx, fmt.Sprintf("Action selection failed: %v", err))
		if o.noteStageFailure() {
			return schemas.SessionAborted, schemas.TerminatedAborted, "stage failure streak", true
		}
		return "", "", "", false
	}

	for _, cmd := range commands {
		o.commands = append(o.commands, cmd)
		if cmd.Type == schemas.ActionError {
			o.noteOutcome(false)
			continue
		}

		result := o.browser.Execute(ctx, cmd)
		o.noteOutcome(result.Success)
		if !result.Success {
			execErr := &ActionExecutionError{Command: cmd.Describe(), Reason: result.Error}
			o.recordActionFailure(ctx, execErr)
			o.reobserve = true
		}
	}

	if o.isStuck() {
		return schemas.SessionAborted, schemas.TerminatedAborted, "repeated action failures", true
	}
	return "", "", "", false
}

// startSlowCycle launches Reflection then Wonder without blocking the next
// cycle's perception. The counter advances here so the cadence stays
// deterministic regardless of goroutine timing.
func (o *Orchestrator) startSlowCycle(ctx context.Context, cycle int) {
	o.slowCycles++
	o.emit(ctx, schemas.SessionRunning, "slow_cycle", cycle, "")

	o.slowWG.Add(1)
	go func() {
		defer o.slowWG.Done()
		if _, err := o.reflection.Generate(ctx, o.sess); err != nil && ctx.Err() == nil {
			o.logger.Warn("Reflection stage failed", zap.Error(err))
		}
		if _, err := o.wonder.Generate(ctx, o.sess); err != nil && ctx.Err() == nil {
			o.logger.Warn("Wonder stage failed", zap.Error(err))
		}
	}()
}

// seedStream writes the intent and persona facts the stages prompt against.
func (o *Orchestrator) seedStream(ctx context.Context) error {
	_, err := o.sess.Stream.Append(ctx, schemas.MemoryRecord{
		Kind:        schemas.MemoryIntent,
		Content:     o.sess.Intent,
		SourceStage: "orchestrator",
		Importance:  1.0,
	})
	if err != nil {
		return err
	}
	for _, fact := range o.sess.Persona.Facts() {
		_, err := o.sess.Stream.Append(ctx, schemas.MemoryRecord{
			Kind:        schemas.MemoryPersonaFact,
			Content:     fact,
			SourceStage: "orchestrator",
			Importance:  0.7,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// recordDiagnostic logs a cycle's failure into the stream itself so the gap
// is visible to downstream stages and reviewers instead of silently lost.
func (o *Orchestrator) recordDiagnostic(ctx context.Context, detail string) {
	_, err := o.sess.Stream.Append(ctx, schemas.MemoryRecord{
		Kind:        schemas.MemoryObservation,
		Content:     detail,
		SourceStage: "orchestrator",
		Importance:  0.6,
	})
	if err != nil && ctx.Err() == nil {
		o.logger.Warn("Failed to record diagnostic memory", zap.Error(err))
	}
}

func (o *Orchestrator) recordActionFailure(ctx context.Context, execErr *ActionExecutionError) {
	_, err := o.sess.Stream.Append(ctx, schemas.MemoryRecord{
		Kind:        schemas.MemoryActionTaken,
		Content:     "Action failed: " + execErr.Error(),
		SourceStage: "action",
		Importance:  0.9,
	})
	if err != nil && ctx.Err() == nil {
		o.logger.Warn("Failed to record action failure", zap.Error(err))
	}
}

func (o *Orchestrator) noteStageFailure() bool {
	o.stageFailures++
	return o.cfg.FailureStreakLimit > 0 && o.stageFailures >= o.cfg.FailureStreakLimit
}

func (o *Orchestrator) noteOutcome(success bool) {
	o.recentOutcomes = append(o.recentOutcomes, success)
	if len(o.recentOutcomes) > 3 {
		o.recentOutcomes = o.recentOutcomes[len(o.recentOutcomes)-3:]
	}
}

// isStuck reports whether at least two of the last three dispatched actions
// failed, the classic sign the agent is hammering a dead end.
func (o *Orchestrator) isStuck() bool {
	if len(o.recentOutcomes) < 3 {
		return false
	}
	failures := 0
	for _, ok := range o.recentOutcomes {
		if !ok {
			failures++
		}
	}
	return failures >= 2
}

// finish joins the slow loop, marks the terminal state, pushes the final
// event and hands the immutable trace to the sink.
func (o *Orchestrator) finish(ctx context.Context, state schemas.SessionState, reason schemas.TerminationReason, cycles int, detail string) (*schemas.SessionTrace, error) {
	o.slowWG.Wait()

	o.sess.State = state
	o.logger.Info("Session terminated",
		zap.String("state", string(state)),
		zap.String("reason", string(reason)),
		zap.Int("cycles", cycles),
		zap.Int("slow_cycles", o.slowCycles),
		zap.String("detail", detail))
	o.emit(ctx, state, "terminated", cycles, detail)

	trace := &schemas.SessionTrace{
		SessionID:  o.sess.ID,
		Persona:    o.sess.Persona,
		Intent:     o.sess.Intent,
		TargetURL:  o.sess.TargetURL,
		State:      state,
		Reason:     reason,
		Cycles:     cycles,
		SlowCycles: o.slowCycles,
		Records:    o.sess.Stream.Snapshot(),
		Commands:   o.commands,
	}

	// The trace must survive even an external cancellation.
	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.WithoutCancel(ctx)
	}
	if err := o.sink.SaveTrace(saveCtx, trace); err != nil {
		o.logger.Error("Failed to persist session trace", zap.Error(err))
		return trace, fmt.Errorf("saving trace for session %s: %w", o.sess.ID, err)
	}
	return trace, nil
}

// emit pushes a state transition to the sink. Sink trouble is advisory and
// never interrupts the session.
func (o *Orchestrator) emit(ctx context.Context, state schemas.SessionState, phase string, cycle int, detail string) {
	ev := schemas.SessionEvent{
		SessionID: o.sess.ID,
		State:     state,
		Phase:     phase,
		Cycle:     cycle,
		Detail:    detail,
	}
	evCtx := ctx
	if ctx.Err() != nil {
		evCtx = context.WithoutCancel(ctx)
	}
	if err := o.sink.OnTransition(evCtx, ev); err != nil {
		o.logger.Warn("Trace sink rejected transition event", zap.Error(err))
	}
}
