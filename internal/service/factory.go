// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/internal/browser"
	"github.com/xkilldash9x/portalq/internal/certdialog"
	"github.com/xkilldash9x/portalq/internal/config"
	"github.com/xkilldash9x/portalq/internal/download"
	"github.com/xkilldash9x/portalq/internal/engine"
	"github.com/xkilldash9x/portalq/internal/extract"
	"github.com/xkilldash9x/portalq/internal/orchestrator"
	"github.com/xkilldash9x/portalq/internal/protocol"
	"github.com/xkilldash9x/portalq/internal/worker"
)

// ComponentFactory creates the set of components a command needs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// FactoryOption overrides a collaborator of the production factory.
type FactoryOption func(*concreteFactory)

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l browser.Launcher) FactoryOption {
	return func(f *concreteFactory) { f.launcher = l }
}

// WithInjector replaces the certificate dialog injector.
func WithInjector(i certdialog.Injector) FactoryOption {
	return func(f *concreteFactory) { f.injector = i }
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	launcher browser.Launcher
	injector certdialog.Injector
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create wires the journal and the worker registry. Browsers are launched
// lazily by the first query each worker receives.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// 1. Run journal (optional)
	journal, pool, err := InitializeJournal(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize run journal: %w", err)
		return nil, initializationErr
	}
	components.Journal = journal
	components.DBPool = pool

	// 2. Browser collaborators
	launcher := f.launcher
	if launcher == nil {
		launcher = browser.NewCDPLauncher(cfg.Browser(), logger)
	}
	injector := f.injector
	if injector == nil {
		injector = certdialog.New(cfg.Portal().CertInjector, logger)
	}

	// 3. Worker registry
	registry, err := worker.NewRegistry(cfg.Engine().Workers, NewWorkerFactory(cfg, logger, launcher, injector), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create worker registry: %w", err)
		return nil, initializationErr
	}
	components.Registry = registry

	logger.Info("All components initialized.",
		zap.Int("workers", registry.Size()),
		zap.Bool("journal", journal != nil),
	)
	return components, nil
}

// NewWorkerFactory returns a worker.Factory that gives every worker its own
// browser session and query pipeline.
func NewWorkerFactory(cfg config.Interface, logger *zap.Logger, launcher browser.Launcher, injector certdialog.Injector) worker.Factory {
	return func(id string) (*worker.Worker, error) {
		wlog := logger.With(zap.String("worker_id", id))

		session := browser.NewSession(id, cfg, launcher, injector, wlog)
		driver := protocol.New(cfg, wlog)
		pipeline := download.New(cfg, extract.New(wlog), wlog)

		queryEngine, err := engine.New(cfg, wlog, session, driver, pipeline)
		if err != nil {
			return nil, fmt.Errorf("failed to create query engine: %w", err)
		}

		opts := []orchestrator.Option{orchestrator.WithConcurrencyLimit(cfg.Engine().MaxConcurrency)}
		if cfg.Engine().IsolateFailures {
			opts = append(opts, orchestrator.WithItemIsolation())
		}
		return worker.New(id, wlog, session, queryEngine, orchestrator.New(wlog, opts...))
	}
}
