// internal/orchestrator/runner_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedLLM serves canned stage responses; planning completes immediately
// unless completePlanning is false, which lets sessions run to exhaustion.
type scriptedLLM struct {
	completePlanning bool
	delay            time.Duration
	inFlight         atomic.Int64
	maxInFlight      atomic.Int64
}

func (s *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if cur <= prev || s.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	switch {
	case strings.Contains(req.UserPrompt, "PERCEIVE module"):
		return `{"observations": ["The landing page shows a search box"]}`, nil
	case strings.Contains(req.UserPrompt, "PLANNING module"):
		if s.completePlanning {
			return `{"rationale": "Done", "steps": [], "next_step": "", "task_complete": true}`, nil
		}
		return `{"rationale": "Keep looking", "steps": ["Search"], "next_step": "use the search box", "task_complete": false}`, nil
	case strings.Contains(req.UserPrompt, "ACTION module"):
		return `{"actions": [{"type": "input", "target_name": "form/input/search", "value": "blue jacket", "description": "Search"}]}`, nil
	case strings.Contains(req.UserPrompt, "REFLECTION module"):
		return `{"insights": []}`, nil
	case strings.Contains(req.UserPrompt, "WONDER module"):
		return `{"thoughts": []}`, nil
	}
	return "", errors.New("unrecognized prompt")
}

func (s *scriptedLLM) Close() error { return nil }

type stubBatcher struct {
	err error
}

func (b *stubBatcher) GenerateBatch(_ context.Context, count int, _ schemas.PersonaConstraints) ([]schemas.Persona, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]schemas.Persona, count)
	for i := range out {
		out[i] = schemas.Persona{
			ID:           fmt.Sprintf("p-%d", i),
			Name:         fmt.Sprintf("Persona %d", i),
			Age:          30 + i,
			Occupation:   "Analyst",
			TechLiteracy: "intermediate",
		}
	}
	return out, nil
}

type stubTab struct {
	closed atomic.Bool
}

func (t *stubTab) Navigate(context.Context, string) error { return nil }

func (t *stubTab) Observe(context.Context) (*schemas.PageObservation, error) {
	return &schemas.PageObservation{
		URL:    "https://shop.example.com",
		Title:  "Example Shop",
		Inputs: []schemas.PageElement{{Name: "form/input/search", Description: "Search"}},
	}, nil
}

func (t *stubTab) Execute(context.Context, schemas.ActionCommand) schemas.ExecutionResult {
	return schemas.ExecutionResult{Success: true}
}

func (t *stubTab) Close(context.Context) error {
	t.closed.Store(true)
	return nil
}

type tabFactory struct {
	mu       sync.Mutex
	tabs     []*stubTab
	personas []schemas.Persona
	failAt   int // 1-based call index that errors; 0 disables
	callN    int
}

func (f *tabFactory) new(_ string, p schemas.Persona) (schemas.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callN++
	if f.failAt > 0 && f.callN == f.failAt {
		return nil, errors.New("chrome allocator exhausted")
	}
	f.personas = append(f.personas, p)
	tab := &stubTab{}
	f.tabs = append(f.tabs, tab)
	return tab, nil
}

type countingSink struct {
	mu     sync.Mutex
	traces []*schemas.SessionTrace
}

func (s *countingSink) OnTransition(context.Context, schemas.SessionEvent) error { return nil }

func (s *countingSink) SaveTrace(_ context.Context, trace *schemas.SessionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, trace)
	return nil
}

func testConfig(sessions, concurrency int) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Simulation.TargetURL = "https://shop.example.com"
	cfg.Simulation.Intent = "find a blue jacket"
	cfg.Simulation.Sessions = sessions
	cfg.Simulation.Concurrency = concurrency
	return cfg
}

func newTestRunner(t *testing.T, cfg *config.Config, llm *scriptedLLM, factory *tabFactory, sink *countingSink) *Runner {
	t.Helper()
	return NewRunner(cfg, llm, nil, &stubBatcher{}, factory.new, sink, zaptest.NewLogger(t))
}

func TestRunAllSessionsComplete(t *testing.T) {
	llm := &scriptedLLM{completePlanning: true}
	factory := &tabFactory{}
	sink := &countingSink{}
	runner := newTestRunner(t, testConfig(4, 2), llm, factory, sink)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Completed)
	assert.Zero(t, report.Aborted)
	assert.Zero(t, report.Exhausted)
	assert.Zero(t, report.Errors)
	require.Len(t, report.Sessions, 4)
	for _, o := range report.Sessions {
		assert.Equal(t, schemas.SessionCompleted, o.State)
		assert.Equal(t, schemas.TerminatedCompleted, o.Reason)
		assert.NotEmpty(t, o.SessionID)
	}

	assert.Len(t, sink.traces, 4)
	require.Len(t, factory.tabs, 4)
	for _, tab := range factory.tabs {
		assert.True(t, tab.closed.Load())
	}
}

func TestRunCountsExhaustedSessions(t *testing.T) {
	llm := &scriptedLLM{completePlanning: false}
	factory := &tabFactory{}
	sink := &countingSink{}
	cfg := testConfig(2, 2)
	cfg.Agent.MaxSteps = 3
	runner := newTestRunner(t, cfg, llm, factory, sink)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Exhausted)
	assert.Zero(t, report.Completed)
	for _, o := range report.Sessions {
		assert.Equal(t, 3, o.Cycles)
	}
}

func TestRunPersonaGenerationFailureFailsTheRun(t *testing.T) {
	runner := NewRunner(testConfig(3, 1), &scriptedLLM{}, nil,
		&stubBatcher{err: errors.New("quota exceeded")},
		(&tabFactory{}).new, &countingSink{}, zaptest.NewLogger(t))

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generating 3 personas")
}

func TestRunIsolatesBrowserFailures(t *testing.T) {
	llm := &scriptedLLM{completePlanning: true}
	factory := &tabFactory{failAt: 2}
	sink := &countingSink{}
	// Serial execution keeps the failing call index deterministic.
	runner := newTestRunner(t, testConfig(3, 1), llm, factory, sink)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Errors)

	var failed *SessionOutcome
	for i := range report.Sessions {
		if report.Sessions[i].Err != "" {
			failed = &report.Sessions[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, schemas.SessionFailed, failed.State)
	assert.Zero(t, failed.Cycles)
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	llm := &scriptedLLM{completePlanning: true, delay: 5 * time.Millisecond}
	factory := &tabFactory{}
	sink := &countingSink{}
	runner := newTestRunner(t, testConfig(8, 2), llm, factory, sink)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, report.Completed)
	// Stage calls are serial within a session, so concurrent LLM calls
	// track concurrent sessions.
	assert.LessOrEqual(t, llm.maxInFlight.Load(), int64(2))
}

func TestRunDefaultsToOneSession(t *testing.T) {
	llm := &scriptedLLM{completePlanning: true}
	factory := &tabFactory{}
	sink := &countingSink{}
	cfg := testConfig(0, 1)
	runner := newTestRunner(t, cfg, llm, factory, sink)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Sessions, 1)
}

func TestRunHandsPersonaToBrowserFactory(t *testing.T) {
	llm := &scriptedLLM{completePlanning: true}
	factory := &tabFactory{}
	sink := &countingSink{}
	runner := newTestRunner(t, testConfig(3, 1), llm, factory, sink)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, factory.personas, 3)
	var names []string
	for _, p := range factory.personas {
		names = append(names, p.Name)
		assert.Equal(t, "intermediate", p.TechLiteracy)
	}
	assert.ElementsMatch(t, []string{"Persona 0", "Persona 1", "Persona 2"}, names)
}
