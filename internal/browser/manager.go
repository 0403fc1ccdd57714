// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/config"
)

// Manager owns the shared Chrome allocator and hands out isolated tab
// sessions. All sessions share one browser process; each session gets its
// own tab context so parallel personas never see each other's page state.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewManager starts the allocator. Chrome itself launches lazily with the
// first session.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// NewSession opens a fresh tab bound to the shared browser process.
func (m *Manager) NewSession(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser manager is closed")
	}

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)
	return &Session{
		id:     sessionID,
		cfg:    m.cfg,
		logger: m.logger.With(zap.String("session_id", sessionID)),
		pacer:  NewPacer(sessionID, DefaultPaceProfile()),
		ctx:    tabCtx,
		cancel: tabCancel,
	}, nil
}

// NewSessionFor opens a tab paced to the persona's tech literacy, so a
// beginner deliberates and types slower than an advanced user.
func (m *Manager) NewSessionFor(sessionID string, p schemas.Persona) (*Session, error) {
	s, err := m.NewSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.SetPaceProfile(PaceProfileFor(p.TechLiteracy))
	return s, nil
}

// Close tears down the allocator and with it every remaining tab.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.allocCancel()
}
