package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/orchestrator"
	"github.com/xkilldash9x/portalq/internal/worker/adapters"
)

// Executor runs one validated query against the portal.
type Executor interface {
	Execute(ctx context.Context, spec schemas.QuerySpec) ([]schemas.Record, error)
}

// Session is the browser session a worker owns for its whole life.
type Session interface {
	Title(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Worker owns one browser session and runs batches against it. Items within
// a batch share the session and run concurrently in separate browsing
// contexts.
type Worker struct {
	id              string
	logger          *zap.Logger
	session         Session
	executor        Executor
	orch            *orchestrator.Orchestrator
	adapterRegistry map[schemas.QueryType]adapters.Adapter
}

// Option is a function that configures a Worker.
type Option func(*Worker)

// WithAdapters replaces the default adapter set.
func WithAdapters(registry map[schemas.QueryType]adapters.Adapter) Option {
	return func(w *Worker) {
		w.adapterRegistry = registry
	}
}

// New creates a worker around a session and the executor that drives it.
func New(id string, logger *zap.Logger, session Session, executor Executor, orch *orchestrator.Orchestrator, opts ...Option) (*Worker, error) {
	if session == nil || executor == nil || orch == nil {
		return nil, fmt.Errorf("cannot initialize worker %s with nil dependencies", id)
	}
	w := &Worker{
		id:       id,
		logger:   logger.With(zap.String("component", "worker"), zap.String("worker_id", id)),
		session:  session,
		executor: executor,
		orch:     orch,
	}
	for _, opt := range opts {
		opt(w)
	}
	if len(w.adapterRegistry) == 0 {
		w.adapterRegistry = adapters.Defaults()
	}
	return w, nil
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Process validates and decodes every item of a batch, then runs the batch.
// Nothing touches the browser unless the whole batch is valid.
func (w *Worker) Process(ctx context.Context, q schemas.QueryType, items []schemas.Params) ([]interface{}, error) {
	adapter, exists := w.adapterRegistry[q]
	if !exists {
		return nil, fmt.Errorf("%w: no adapter registered for query type '%s'", schemas.ErrUnknownQueryType, q)
	}

	required := q.RequiredFields()
	if err := orchestrator.Validate(items, required); err != nil {
		return nil, err
	}

	specs := make([]schemas.QuerySpec, len(items))
	invalid := make(map[int]string)
	for i, item := range items {
		spec, err := adapter.Decode(item)
		if err != nil {
			invalid[i] = err.Error()
			continue
		}
		specs[i] = spec
	}
	if len(invalid) > 0 {
		return nil, decodeError(invalid)
	}

	log := w.logger.With(zap.String("query_type", string(q)), zap.Int("items", len(items)))
	log.Info("Dispatching batch to adapter.", zap.String("adapter_name", adapter.Name()))

	results, err := w.orch.RunBatch(ctx, items, required, func(ctx context.Context, index int, _ schemas.Params) ([]schemas.Record, error) {
		return w.executor.Execute(ctx, specs[index])
	})
	if err != nil {
		log.Warn("Batch failed.", zap.Error(err))
		return nil, err
	}
	log.Info("Batch finished.")
	return results, nil
}

// SelfTest logs in and returns the title of the landing page.
func (w *Worker) SelfTest(ctx context.Context) (string, error) {
	return w.session.Title(ctx)
}

// Close releases the worker's browser session.
func (w *Worker) Close(ctx context.Context) error {
	return w.session.Close(ctx)
}

func decodeError(invalid map[int]string) error {
	idx := make([]int, 0, len(invalid))
	for i := range invalid {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("item %d: %s", i, invalid[i]))
	}
	return &schemas.ValidationError{Message: strings.Join(parts, "; ")}
}
