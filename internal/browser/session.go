package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 10 * time.Second
	stabilizeQuietPeriod     = 500 * time.Millisecond
)

// Viewport is the emulated window. Scale 0 keeps the device default.
type Viewport struct {
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	Mobile bool    `json:"mobile,omitempty" yaml:"mobile"`
	Scale  float64 `json:"scale,omitempty" yaml:"scale"`
}

// Common viewports.
var (
	Desktop = Viewport{Width: 1280, Height: 720}
	Phone   = Viewport{Width: 390, Height: 844}
)

func (v Viewport) IsZero() bool { return v.Width == 0 && v.Height == 0 }

func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// Session is one tab with its own browser context, stub list and console
// buffer. A Session is driven by a single goroutine.
type Session struct {
	id     string
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	interceptor *intercept.Interceptor
	harvester   *Harvester

	onClose func()

	mu       sync.Mutex
	viewport Viewport
	url      string
	isClosed bool
}

func newSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, opts SessionOptions, logger *zap.Logger) *Session {
	id := uuid.New().String()
	l := logger.Named("session").With(zap.String("session_id", id))
	if opts.Name != "" {
		l = l.With(zap.String("name", opts.Name))
	}

	vp := opts.Viewport
	if vp.IsZero() {
		vp = Viewport{Width: cfg.Browser.Viewport.Width, Height: cfg.Browser.Viewport.Height}
	}

	return &Session{
		id:          id,
		name:        opts.Name,
		ctx:         ctx,
		cancel:      cancel,
		logger:      l,
		cfg:         cfg,
		interceptor: intercept.New(l, opts.Rules...),
		harvester:   NewHarvester(l),
		viewport:    vp,
	}
}

// initialize attaches the tab and readies it for the first navigation.
func (s *Session) initialize(ctx context.Context) error {
	// Creating the target is the first Run on this context; a deadline here
	// would close the tab when it expires.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(s.ctx) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("create tab: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("create tab: %w", ctx.Err())
	}

	if err := s.harvester.Start(s.ctx); err != nil {
		return err
	}
	if s.cfg.Browser.DisableCache {
		if err := s.runActions(ctx, network.SetCacheDisabled(true)); err != nil {
			return fmt.Errorf("disable cache: %w", err)
		}
	}
	if err := s.interceptor.Install(s.ctx); err != nil {
		return err
	}
	if !s.viewport.IsZero() {
		if err := s.SetViewport(ctx, s.viewport); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string { return s.name }

// Interceptor exposes the session's stub hit counters.
func (s *Session) Interceptor() *intercept.Interceptor { return s.interceptor }

// Viewport returns the current emulated window.
func (s *Session) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// URL returns the last navigation target.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// ConsoleLog returns the console messages and page errors seen so far.
func (s *Session) ConsoleLog() []ConsoleEntry { return s.harvester.Entries() }

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// Close drains the interceptor, closes the tab and its browser context and
// unregisters from the manager. Later calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing session.", zap.String("stub_hits", s.interceptor.Summary()))

	err := s.interceptor.Close(ctx)
	if err != nil {
		s.logger.Warn("Interceptor did not drain before close.", zap.Error(err))
	}
	s.cancel()

	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// runActions runs actions on the tab, bounded by both the session and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.Closed() {
			return fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		return err
	}
	return nil
}

// stabilize waits for the body and a short network quiet period. Failures
// are logged only; the caller's own waits decide readiness.
func (s *Session) stabilize(ctx context.Context) error {
	budget := s.cfg.Timeouts.Settle
	if budget <= 0 {
		budget = 5 * time.Second
	}
	stabCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := s.runActions(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}
	if err := s.harvester.WaitNetworkIdle(stabCtx, stabilizeQuietPeriod); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Network idle wait failed during stabilization.", zap.Int("inflight", s.harvester.Inflight()))
	}
	return nil
}

func (s *Session) navigationTimeout() time.Duration {
	if t := s.cfg.Timeouts.Navigation; t > 0 {
		return t
	}
	return defaultNavigationTimeout
}

func (s *Session) actionTimeout() time.Duration {
	if t := s.cfg.Timeouts.Action; t > 0 {
		return t
	}
	return defaultActionTimeout
}
