// Package browser owns the long-lived browser process, the portal login
// protocol and the per-query isolated browsing contexts.
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/certdialog"
	"github.com/xkilldash9x/portalq/internal/config"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one logged-in browser owned by a worker. Browsing contexts for
// individual queries are created from it concurrently.
type Session struct {
	id         string
	portal     config.PortalConfig
	auto       config.AutomationConfig
	browserCfg config.BrowserConfig
	launcher   Launcher
	injector   certdialog.Injector
	logger     *zap.Logger

	// initMu is held for the whole of a launch and login, and by Close.
	initMu sync.Mutex

	mu      sync.RWMutex
	state   State
	browser Browser
	lastErr error
}

// NewSession creates an uninitialized session. Nothing is launched until
// EnsureReady is called.
func NewSession(id string, cfg config.Interface, launcher Launcher, injector certdialog.Injector, logger *zap.Logger) *Session {
	if injector == nil {
		injector = certdialog.Noop{}
	}
	return &Session{
		id:         id,
		portal:     cfg.Portal(),
		auto:       cfg.Automation(),
		browserCfg: cfg.Browser(),
		launcher:   launcher,
		injector:   injector,
		logger:     logger.Named("session").With(zap.String("session_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the error that last moved the session to Degraded.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// EnsureReady launches the browser and logs in unless the session is already
// Ready. Concurrent callers wait for a single initialization.
func (s *Session) EnsureReady(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	switch s.State() {
	case StateReady:
		return nil
	case StateClosed:
		return schemas.ErrSessionClosed
	}
	s.setState(StateInitializing)
	s.logger.Info("Initializing browser session.")

	b, err := s.launcher.Launch(ctx)
	if err != nil {
		return s.fail(ctx, "launch", nil, err)
	}

	probe, err := b.NewContext(ctx, s.policy(""))
	if err != nil {
		return s.fail(ctx, "context", b, err)
	}
	loginErr := s.Login(ctx, probe.Page())
	if cerr := probe.Close(detach(ctx)); cerr != nil {
		s.logger.Debug("Failed to close probe context.", zap.Error(cerr))
	}
	if loginErr != nil {
		return s.fail(ctx, "login", b, loginErr)
	}

	s.mu.Lock()
	s.browser = b
	s.state = StateReady
	s.lastErr = nil
	s.mu.Unlock()
	s.logger.Info("Browser session ready.")
	return nil
}

func (s *Session) fail(ctx context.Context, stage string, b Browser, err error) error {
	if b != nil {
		if cerr := b.Close(detach(ctx)); cerr != nil {
			s.logger.Debug("Failed to close browser after init failure.", zap.Error(cerr))
		}
	}
	initErr := &schemas.SessionInitError{Stage: stage, Err: err}
	s.mu.Lock()
	s.state = StateDegraded
	s.browser = nil
	s.lastErr = initErr
	s.mu.Unlock()
	s.logger.Error("Browser session initialization failed.", zap.String("stage", stage), zap.Error(err))
	return initErr
}

func (s *Session) policy(downloadDir string) ContextPolicy {
	return ContextPolicy{
		AcceptDialogs:    true,
		IgnoreCertErrors: s.browserCfg.IgnoreTLSErrors,
		DownloadDir:      downloadDir,
		ViewportWidth:    s.browserCfg.ViewportWidth,
		ViewportHeight:   s.browserCfg.ViewportHeight,
	}
}

// NewContext creates an isolated browsing context with downloads enabled
// into a private directory. The session must be Ready.
func (s *Session) NewContext(ctx context.Context) (BrowsingContext, error) {
	s.mu.RLock()
	state, b := s.state, s.browser
	s.mu.RUnlock()
	switch {
	case state == StateClosed:
		return nil, schemas.ErrSessionClosed
	case state != StateReady || b == nil:
		return nil, fmt.Errorf("session %s is %s", s.id, state)
	}

	if err := os.MkdirAll(s.auto.ScratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	dir, err := os.MkdirTemp(s.auto.ScratchDir, "ctx-")
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	bc, err := b.NewContext(ctx, s.policy(dir))
	if err != nil {
		_ = os.RemoveAll(dir)
		if ctx.Err() == nil {
			s.markDegraded(b, err)
		}
		return nil, fmt.Errorf("new browsing context: %w", err)
	}
	return &ownedContext{BrowsingContext: bc, dir: dir, logger: s.logger}, nil
}

// markDegraded drops a browser that can no longer create contexts so the
// next EnsureReady relaunches it.
func (s *Session) markDegraded(b Browser, cause error) {
	s.mu.Lock()
	if s.browser != b || s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.state = StateDegraded
	s.browser = nil
	s.lastErr = cause
	s.mu.Unlock()

	s.logger.Warn("Browser stopped accepting contexts; session degraded.", zap.Error(cause))
	if err := b.Close(context.Background()); err != nil {
		s.logger.Debug("Failed to close degraded browser.", zap.Error(err))
	}
}

// Title logs in on a fresh context and returns the landing page's title.
func (s *Session) Title(ctx context.Context) (string, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return "", err
	}
	bc, err := s.NewContext(ctx)
	if err != nil {
		return "", err
	}
	defer bc.Close(detach(ctx))

	if err := s.Login(ctx, bc.Page()); err != nil {
		return "", err
	}
	return bc.Page().Title(ctx)
}

// Close releases the browser. It may be called in any state.
func (s *Session) Close(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	b := s.browser
	s.browser = nil
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Info("Closing browser session.")
	if b == nil {
		return nil
	}
	return b.Close(ctx)
}

// ownedContext removes its private download directory on Close.
type ownedContext struct {
	BrowsingContext
	dir    string
	logger *zap.Logger
	once   sync.Once
}

func (c *ownedContext) Close(ctx context.Context) error {
	err := c.BrowsingContext.Close(ctx)
	c.once.Do(func() {
		if rerr := os.RemoveAll(c.dir); rerr != nil {
			c.logger.Warn("Failed to remove download dir.", zap.String("dir", c.dir), zap.Error(rerr))
		}
	})
	return err
}
