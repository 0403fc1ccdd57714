// internal/orchestrator/runner.go
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/agent"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/memory"
)

// BrowserFactory opens one isolated browser session per simulated persona.
// The persona is passed through so the factory can pace the session to it.
type BrowserFactory func(sessionID string, p schemas.Persona) (schemas.BrowserSession, error)

// PersonaBatcher produces a batch of distinct personas for one run.
// *persona.Generator satisfies it.
type PersonaBatcher interface {
	GenerateBatch(ctx context.Context, count int, constraints schemas.PersonaConstraints) ([]schemas.Persona, error)
}

// SessionOutcome summarizes one finished session for the run report.
type SessionOutcome struct {
	SessionID string                    `json:"session_id"`
	Persona   string                    `json:"persona"`
	State     schemas.SessionState      `json:"state"`
	Reason    schemas.TerminationReason `json:"reason,omitempty"`
	Cycles    int                       `json:"cycles"`
	Err       string                    `json:"error,omitempty"`
}

// Report aggregates the outcomes of a whole simulation run.
type Report struct {
	TargetURL string           `json:"target_url"`
	Intent    string           `json:"intent"`
	Sessions  []SessionOutcome `json:"sessions"`
	Completed int              `json:"completed"`
	Aborted   int              `json:"aborted"`
	Exhausted int              `json:"exhausted"`
	Errors    int              `json:"errors"`
}

// Runner fans a simulation out over N personas against the same target and
// intent. Sessions share nothing but the injected collaborators; each gets
// its own memory stream, browser session and orchestrator.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	llm      schemas.LLMClient
	embedder schemas.Embedder
	personas PersonaBatcher
	browsers BrowserFactory
	sink     schemas.TraceSink
}

func NewRunner(
	cfg *config.Config,
	llm schemas.LLMClient,
	embedder schemas.Embedder,
	personas PersonaBatcher,
	browsers BrowserFactory,
	sink schemas.TraceSink,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger.Named("runner"),
		llm:      llm,
		embedder: embedder,
		personas: personas,
		browsers: browsers,
		sink:     sink,
	}
}

// Run simulates cfg.Simulation.Sessions personas with bounded concurrency
// and returns the aggregated report. A single session's failure never stops
// the others; only persona generation or an external cancellation can fail
// the run as a whole.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	sim := r.cfg.Simulation
	count := sim.Sessions
	if count <= 0 {
		count = 1
	}

	personas, err := r.personas.GenerateBatch(ctx, count, sim.Constraints)
	if err != nil {
		return nil, fmt.Errorf("generating %d personas: %w", count, err)
	}

	r.logger.Info("Starting simulation run",
		zap.String("target_url", sim.TargetURL),
		zap.String("intent", sim.Intent),
		zap.Int("sessions", len(personas)),
		zap.Int("concurrency", sim.Concurrency))

	var (
		mu       sync.Mutex
		outcomes = make([]SessionOutcome, 0, len(personas))
	)

	g, gctx := errgroup.WithContext(ctx)
	if sim.Concurrency > 0 {
		g.SetLimit(sim.Concurrency)
	}

	for _, p := range personas {
		g.Go(func() error {
			outcome := r.runOne(gctx, p, sim)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// Partial outcomes are still worth reporting on cancellation.
		r.logger.Warn("Simulation run cancelled", zap.Int("finished", len(outcomes)))
	}

	report := &Report{
		TargetURL: sim.TargetURL,
		Intent:    sim.Intent,
		Sessions:  outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.State == schemas.SessionCompleted:
			report.Completed++
		case o.Reason == schemas.TerminatedExhausted:
			report.Exhausted++
		case o.State == schemas.SessionAborted:
			report.Aborted++
		default:
			report.Errors++
		}
	}

	r.logger.Info("Simulation run finished",
		zap.Int("completed", report.Completed),
		zap.Int("aborted", report.Aborted),
		zap.Int("exhausted", report.Exhausted),
		zap.Int("errors", report.Errors))
	return report, nil
}

// runOne drives a single persona's session from browser creation to trace.
// All failure modes collapse into the outcome; nothing propagates.
func (r *Runner) runOne(ctx context.Context, p schemas.Persona, sim config.SimulationConfig) SessionOutcome {
	stream := memory.NewStream(r.logger, r.embedder)
	sess := agent.NewSession(p, sim.Intent, sim.TargetURL, stream)
	outcome := SessionOutcome{SessionID: sess.ID, Persona: p.Name}

	logger := r.logger.With(zap.String("session_id", sess.ID), zap.String("persona", p.Name))

	tab, err := r.browsers(sess.ID, p)
	if err != nil {
		logger.Error("Could not open a browser session", zap.Error(err))
		outcome.State = schemas.SessionFailed
		outcome.Err = err.Error()
		return outcome
	}
	defer func() {
		if err := tab.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Browser session close failed", zap.Error(err))
		}
	}()

	orch := agent.NewOrchestrator(r.cfg.Agent, sess, r.llm, tab, r.sink, r.logger)
	trace, err := orch.Run(ctx)
	if err != nil {
		outcome.Err = err.Error()
	}
	if trace != nil {
		outcome.State = trace.State
		outcome.Reason = trace.Reason
		outcome.Cycles = trace.Cycles
	} else {
		outcome.State = schemas.SessionFailed
	}
	return outcome
}
