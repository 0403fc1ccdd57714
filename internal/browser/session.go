// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
)

// Session is one persona's browser tab. Observe tags every interactable
// element with a stable path-like name and returns a structured snapshot;
// Execute resolves those names back to elements via the tag attribute.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger
	pacer  *Pacer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// SetPaceProfile swaps the session's pacing to match a persona, for example
// a beginner's slower deliberation. Call before the first Execute.
func (s *Session) SetPaceProfile(profile PaceProfile) {
	s.pacer = NewPacer(s.id, profile)
}

var _ schemas.BrowserSession = (*Session)(nil)

// targetAttr is the DOM attribute the observation script stamps onto every
// interactable so commands can address them by name.
const targetAttr = "data-usersim-target"

// Navigate loads the URL and waits for the document to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.PostLoadWait > 0 {
		tasks = append(tasks, chromedp.Sleep(s.cfg.PostLoadWait))
	}
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	s.logger.Debug("Navigation complete", zap.String("url", url))
	return nil
}

// Observe walks the live DOM, tags interactables and returns the structured
// page snapshot the perception stage consumes.
func (s *Session) Observe(ctx context.Context) (*schemas.PageObservation, error) {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	var obs schemas.PageObservation
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(observeScript, &obs),
	); err != nil {
		return nil, fmt.Errorf("observing page: %w", err)
	}
	s.logger.Debug("Page observed",
		zap.String("url", obs.URL),
		zap.Int("clickables", len(obs.Clickables)),
		zap.Int("inputs", len(obs.Inputs)),
		zap.Int("text_blocks", len(obs.TextBlocks)))
	return &obs, nil
}

// Execute dispatches one command against the current page. Failures are
// reported in the result rather than as an error: a missing element or a
// rejected click is a simulation event, not an infrastructure fault.
func (s *Session) Execute(ctx context.Context, cmd schemas.ActionCommand) schemas.ExecutionResult {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	var err error
	switch cmd.Type {
	case schemas.ActionClick:
		err = chromedp.Run(runCtx, chromedp.Tasks{
			chromedp.Sleep(s.pacer.ThinkTime()),
			chromedp.Click(s.selectorFor(cmd.TargetName), chromedp.ByQuery),
		})
		s.pacer.NoteAction(0.5)
	case schemas.ActionInput:
		sel := s.selectorFor(cmd.TargetName)
		tasks := chromedp.Tasks{
			chromedp.Sleep(s.pacer.ThinkTime()),
			chromedp.Focus(sel, chromedp.ByQuery),
			chromedp.SetValue(sel, "", chromedp.ByQuery),
		}
		// Type character by character so the page sees a human cadence
		// rather than one instantaneous value change.
		for _, r := range cmd.Value {
			tasks = append(tasks,
				chromedp.SendKeys(sel, string(r), chromedp.ByQuery),
				chromedp.Sleep(s.pacer.KeystrokeDelay()))
		}
		err = chromedp.Run(runCtx, tasks)
		s.pacer.NoteAction(1.0)
	case schemas.ActionScroll:
		delta := 600
		if strings.EqualFold(cmd.Value, "up") {
			delta = -600
		}
		err = chromedp.Run(runCtx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d); undefined", delta), nil))
	case schemas.ActionHover:
		err = s.hover(runCtx, cmd.TargetName)
		s.pacer.NoteAction(0.3)
	case schemas.ActionNavigate:
		err = s.Navigate(ctx, cmd.Value)
	case schemas.ActionWait:
		seconds, parseErr := strconv.ParseFloat(cmd.Value, 64)
		if parseErr != nil || seconds <= 0 {
			seconds = 1
		}
		err = chromedp.Run(runCtx, chromedp.Sleep(time.Duration(seconds*float64(time.Second))))
	case schemas.ActionError:
		// Sentinel commands never reach the page.
		return schemas.ExecutionResult{Success: false, Error: cmd.Description}
	default:
		return schemas.ExecutionResult{Success: false, Error: fmt.Sprintf("unsupported action type %q", cmd.Type)}
	}

	if err != nil {
		s.logger.Debug("Action execution failed",
			zap.String("type", string(cmd.Type)),
			zap.String("target", cmd.TargetName),
			zap.Error(err))
		return schemas.ExecutionResult{Success: false, Error: err.Error()}
	}
	return schemas.ExecutionResult{Success: true}
}

// Close releases the tab. Safe to call more than once.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}

// hover moves the real cursor over the element's center so the page sees
// genuine mouseover and mouseenter events, not a synthetic dispatch.
func (s *Session) hover(ctx context.Context, name string) error {
	script := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) throw new Error("element not found"); const r = el.getBoundingClientRect(); return [r.left + r.width / 2, r.top + r.height / 2]; })()`,
		s.selectorFor(name))

	var center []float64
	return chromedp.Run(ctx, chromedp.Tasks{
		chromedp.Sleep(s.pacer.ThinkTime()),
		chromedp.Evaluate(script, &center),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(center) != 2 {
				return fmt.Errorf("could not resolve a hover point for %s", name)
			}
			return input.DispatchMouseEvent(input.MouseMoved, center[0], center[1]).Do(ctx)
		}),
	})
}

func (s *Session) selectorFor(name string) string {
	return fmt.Sprintf(`[%s=%q]`, targetAttr, name)
}

// runContext bounds a browser operation by both the caller's context and the
// configured navigation timeout, while running on the tab's own context.
func (s *Session) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel1 := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel1)
	return runCtx, func() {
		stop()
		cancel1()
	}
}
