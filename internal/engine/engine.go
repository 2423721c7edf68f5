// Package engine runs one query end to end: session, browsing context,
// login, form protocol and download capture.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/browser"
	"github.com/xkilldash9x/portalq/internal/config"
)

// -- Interfaces for Dependency Inversion --

// Session provides logged-in browsing contexts.
type Session interface {
	EnsureReady(ctx context.Context) error
	NewContext(ctx context.Context) (browser.BrowsingContext, error)
	Login(ctx context.Context, page browser.Page) error
}

// FormDriver fills and submits a query form, returning the armed download.
type FormDriver interface {
	Run(ctx context.Context, page browser.Page, spec schemas.QuerySpec) (browser.DownloadHandle, error)
}

// Capturer saves and extracts an armed download.
type Capturer interface {
	Capture(ctx context.Context, h browser.DownloadHandle, prefix string, q schemas.QueryType) ([]schemas.Record, error)
}

// QueryEngine executes single queries against one session.
type QueryEngine struct {
	cfg      config.Interface
	logger   *zap.Logger
	session  Session
	driver   FormDriver
	capturer Capturer
}

// New creates a QueryEngine. All dependencies are required.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	session Session,
	driver FormDriver,
	capturer Capturer,
) (*QueryEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if session == nil {
		return nil, errors.New("session cannot be nil")
	}
	if driver == nil {
		return nil, errors.New("form driver cannot be nil")
	}
	if capturer == nil {
		return nil, errors.New("capturer cannot be nil")
	}

	return &QueryEngine{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "query_engine")),
		session:  session,
		driver:   driver,
		capturer: capturer,
	}, nil
}

// Execute runs spec on a fresh isolated context. The context is closed on
// every exit path.
func (e *QueryEngine) Execute(ctx context.Context, spec schemas.QuerySpec) ([]schemas.Record, error) {
	timeout := e.cfg.Engine().QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := e.logger.With(zap.String("query_type", string(spec.Type)))
	started := time.Now()

	if err := e.session.EnsureReady(ctx); err != nil {
		return nil, err
	}

	bc, err := e.session.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browsing context: %w", err)
	}
	defer func() {
		if cerr := bc.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("Failed to close browsing context.", zap.String("context_id", bc.ID()), zap.Error(cerr))
		}
	}()
	log = log.With(zap.String("context_id", bc.ID()))

	page := bc.Page()
	if err := e.session.Login(ctx, page); err != nil {
		return nil, &schemas.SessionInitError{Stage: "login", Err: err}
	}

	handle, err := e.driver.Run(ctx, page, spec)
	if err != nil {
		log.Warn("Form protocol failed.", zap.Error(err))
		return nil, err
	}

	records, err := e.capturer.Capture(ctx, handle, spec.Type.WireName(), spec.Type)
	if err != nil {
		log.Warn("Download capture failed.", zap.Error(err))
		return records, err
	}

	log.Info("Query completed.", zap.Int("records", len(records)), zap.Duration("elapsed", time.Since(started)))
	return records, nil
}
