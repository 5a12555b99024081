package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	shutdownGracePeriod  = 15 * time.Second
)

// Manager owns one Chrome process and hands out sessions, each in its own
// browser context.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config
	// parent outlives any single NewSession call; the allocator hangs off it.
	parent context.Context

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	userDataDir   string
	// launched is set once the first Run has returned without error.
	launched bool

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
	stopOnce sync.Once
	stopErr  error
}

// SessionOptions configures a new tab.
type SessionOptions struct {
	// Name labels the session in logs, usually the scenario name.
	Name string
	// Viewport overrides the configured default when non-zero.
	Viewport Viewport
	// Rules are installed before the session is returned. The session keeps
	// its own copy.
	Rules []intercept.Rule
}

// NewManager creates a manager. The browser is launched lazily by the first
// NewSession.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("browser manager: nil config")
	}
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		parent:   ctx,
		sessions: make(map[string]*Session),
	}
	m.logger.Debug("Browser manager created (launch deferred).")
	return m, nil
}

// initialize launches Chrome once. Every later call returns the first result.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.launch(ctx)
		if m.initErr != nil {
			m.initErr = fmt.Errorf("%w: %w", ErrBrowserLaunch, m.initErr)
		}
	})
	return m.initErr
}

func (m *Manager) launch(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "scalpel-e2e-profile-*")
	if err != nil {
		return fmt.Errorf("create user data dir: %w", err)
	}
	m.userDataDir = dir

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(m.parent, ExecAllocatorOptions(m.cfg.Browser, dir)...)

	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(m.logger.Sugar().Debugf)}
	if m.cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx, ctxOpts...)

	timeout := m.cfg.Browser.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Browser.Headless), zap.Duration("timeout", timeout))

	// The first Run starts the process and must not see a derived deadline,
	// or the browser dies with it.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(m.browserCtx) }()

	select {
	case err = <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("no response after %s", timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		m.teardown()
		return err
	}
	m.mu.Lock()
	m.launched = true
	m.mu.Unlock()
	m.logger.Info("Browser launched.")
	return nil
}

// NewSession opens a tab in a fresh browser context, attaches console capture,
// applies cache and viewport settings and installs the stub rules. No
// navigation has happened when it returns.
func (m *Manager) NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())
	s := newSession(tabCtx, tabCancel, m.cfg, opts, m.logger)

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	}

	if err := s.initialize(ctx); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Close(cleanupCtx)
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", s.ID()), zap.String("name", opts.Name))
	return s, nil
}

// ActiveSessions returns the number of open sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every live session, bounded by ctx, then stops Chrome and
// removes the profile directory.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Debug("All sessions closed.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	return m.teardown()
}

func (m *Manager) teardown() error {
	m.stopOnce.Do(func() { m.stopErr = m.stop() })
	return m.stopErr
}

func (m *Manager) stop() error {
	var err error
	m.mu.RLock()
	launched := m.launched
	m.mu.RUnlock()
	// chromedp.Cancel and the context's cancel func both drain the same
	// allocation token, so exactly one of them may run.
	switch {
	case m.browserCtx != nil && launched:
		// Cancel closes Chrome gracefully and blocks until the process exits.
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(m.browserCtx) }()
		select {
		case err = <-done:
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		case <-time.After(shutdownGracePeriod):
			m.logger.Warn("Browser did not exit in time. Killing allocator.")
			m.allocCancel()
			<-done
			err = nil
		}
		m.allocCancel()
	case m.browserCtx != nil:
		// Nothing is running, or the launch is still in flight. Killing the
		// allocator first releases any half-started process.
		m.allocCancel()
		done := make(chan struct{})
		go func() {
			m.browserCancel()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGracePeriod):
			m.logger.Warn("Browser context did not release after a failed launch.")
		}
	case m.allocCancel != nil:
		m.allocCancel()
	}
	if m.userDataDir != "" {
		if rmErr := os.RemoveAll(m.userDataDir); rmErr != nil {
			m.logger.Debug("Failed to remove user data dir.", zap.String("dir", m.userDataDir), zap.Error(rmErr))
		}
	}
	if err != nil {
		return fmt.Errorf("stop browser: %w", err)
	}
	return nil
}
