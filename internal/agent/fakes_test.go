// internal/agent/fakes_test.go
package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
	"github.com/xkilldash9x/usersim-cli/internal/memory"
)

// responder produces the canned response for the nth call of one stage.
type responder func(call int) (string, error)

func fixed(resp string) responder {
	return func(int) (string, error) { return resp, nil }
}

func failing(msg string) responder {
	return func(int) (string, error) { return "", errors.New(msg) }
}

const (
	defaultPerceptionResp = `{"observations": ["There is a search box labeled Search near the top", "A navigation menu lists product categories"]}`
	defaultPlanningResp   = `{"rationale": "Searching is the fastest route", "steps": ["Use the search box", "Review the results"], "next_step": "type blue jacket into the search box", "task_complete": false}`
	defaultActionResp     = `{"actions": [{"type": "input", "target_name": "form/input/search", "value": "blue jacket", "description": "Search for the jacket"}]}`
	defaultReflectionResp = `{"insights": ["The search feature was easy to find"]}`
	defaultWonderResp     = `{"thoughts": []}`
	completeResp          = `{"rationale": "Done", "steps": [], "next_step": "", "task_complete": true}`
)

// routedLLM dispatches by the stage banner in the prompt, so one fake serves
// all five stages.
type routedLLM struct {
	mu      sync.Mutex
	routes  map[string]responder
	counts  map[string]int
	prompts map[string]string
}

func newRoutedLLM() *routedLLM {
	return &routedLLM{
		routes: map[string]responder{
			"perception": fixed(defaultPerceptionResp),
			"planning":   fixed(defaultPlanningResp),
			"action":     fixed(defaultActionResp),
			"reflection": fixed(defaultReflectionResp),
			"wonder":     fixed(defaultWonderResp),
		},
		counts:  make(map[string]int),
		prompts: make(map[string]string),
	}
}

func (f *routedLLM) set(stage string, r responder) { f.routes[stage] = r }

func (f *routedLLM) calls(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[stage]
}

func (f *routedLLM) lastPrompt(stage string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[stage]
}

func stageOf(prompt string) string {
	switch {
	case strings.Contains(prompt, "PERCEIVE module"):
		return "perception"
	case strings.Contains(prompt, "PLANNING module"):
		return "planning"
	case strings.Contains(prompt, "ACTION module"):
		return "action"
	case strings.Contains(prompt, "REFLECTION module"):
		return "reflection"
	case strings.Contains(prompt, "WONDER module"):
		return "wonder"
	}
	return "unknown"
}

func (f *routedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	stage := stageOf(req.UserPrompt)
	f.mu.Lock()
	call := f.counts[stage]
	f.counts[stage]++
	f.prompts[stage] = req.UserPrompt
	r := f.routes[stage]
	f.mu.Unlock()
	if r == nil {
		return "", errors.New("no responder for stage " + stage)
	}
	return r(call)
}

func (f *routedLLM) Close() error { return nil }

// fakeBrowser serves a fixed observation and scripted execution outcomes.
type fakeBrowser struct {
	mu          sync.Mutex
	observation *schemas.PageObservation
	observeErr  error
	navigateErr error
	execResults []schemas.ExecutionResult
	executed    []schemas.ActionCommand
	navigated   []string
}

func defaultObservation() *schemas.PageObservation {
	return &schemas.PageObservation{
		URL:   "https://shop.example.com",
		Title: "Example Shop",
		Clickables: []schemas.PageElement{
			{Name: "header/link_or_button/cart", Description: "Cart"},
		},
		Inputs: []schemas.PageElement{
			{Name: "form/input/search", Description: "Search (text)"},
		},
		TextBlocks: []schemas.TextBlock{
			{Type: "heading", Text: "Welcome to the Example Shop"},
		},
	}
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.navigateErr != nil {
		return b.navigateErr
	}
	b.navigated = append(b.navigated, url)
	return nil
}

func (b *fakeBrowser) Observe(_ context.Context) (*schemas.PageObservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.observeErr != nil {
		return nil, b.observeErr
	}
	if b.observation == nil {
		return defaultObservation(), nil
	}
	return b.observation, nil
}

func (b *fakeBrowser) Execute(_ context.Context, cmd schemas.ActionCommand) schemas.ExecutionResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executed = append(b.executed, cmd)
	if len(b.execResults) > 0 {
		res := b.execResults[0]
		if len(b.execResults) > 1 {
			b.execResults = b.execResults[1:]
		}
		return res
	}
	return schemas.ExecutionResult{Success: true}
}

func (b *fakeBrowser) Close(context.Context) error { return nil }

// fakeSink records every event and trace it receives.
type fakeSink struct {
	mu      sync.Mutex
	events  []schemas.SessionEvent
	traces  []*schemas.SessionTrace
	saveErr error
}

func (s *fakeSink) OnTransition(_ context.Context, ev schemas.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) SaveTrace(_ context.Context, trace *schemas.SessionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.traces = append(s.traces, trace)
	return nil
}

func (s *fakeSink) phases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Phase
	}
	return out
}

func (s *fakeSink) countPhase(phase string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Phase == phase {
			n++
		}
	}
	return n
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:                 50,
		SlowLoopEvery:            3,
		FailureStreakLimit:       3,
		RecencyDecay:             1.0,
		ReflectionWindow:         15,
		WonderWindow:             10,
		PerceptionRetrievalLimit: 5,
		PlanningRetrievalLimit:   10,
		ActionRetrievalLimit:     7,
		StageRetries:             1,
	}
}

func testSession(t *testing.T) *Session {
	t.Helper()
	stream := memory.NewStream(zaptest.NewLogger(t), nil)
	persona := schemas.Persona{
		ID:           "p-1",
		Name:         "Maria Chen",
		Age:          42,
		Occupation:   "School Librarian",
		TechLiteracy: "beginner",
		Traits:       []string{"Methodical"},
		Goals:        []string{"Buy clothes online without hassle"},
		PainPoints:   []string{"Small touch targets"},
	}
	return NewSession(persona, "find a blue jacket", "https://shop.example.com", stream)
}
