package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
)

// Factory builds the worker for a registry slot.
type Factory func(id string) (*Worker, error)

// Registry holds a fixed number of workers and hands them out round robin.
// Workers are built on first use, so an idle slot never launches a browser.
type Registry struct {
	factory Factory
	logger  *zap.Logger

	mu      sync.Mutex
	workers []*Worker
	closed  bool
	next    atomic.Uint64
}

// NewRegistry creates a registry with size slots.
func NewRegistry(size int, factory Factory, logger *zap.Logger) (*Registry, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker registry size must be positive, got %d", size)
	}
	if factory == nil {
		return nil, errors.New("worker factory cannot be nil")
	}
	return &Registry{
		factory: factory,
		logger:  logger.Named("registry"),
		workers: make([]*Worker, size),
	}, nil
}

// Size returns the number of worker slots.
func (r *Registry) Size() int { return len(r.workers) }

// Next returns the worker for the next slot in rotation.
func (r *Registry) Next() (*Worker, error) {
	slot := int((r.next.Add(1) - 1) % uint64(len(r.workers)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, schemas.ErrSessionClosed
	}
	if w := r.workers[slot]; w != nil {
		return w, nil
	}
	w, err := r.factory(fmt.Sprintf("worker-%d", slot))
	if err != nil {
		return nil, fmt.Errorf("failed to build worker for slot %d: %w", slot, err)
	}
	r.workers[slot] = w
	r.logger.Info("Worker created.", zap.Int("slot", slot), zap.String("worker_id", w.ID()))
	return w, nil
}

// Dispatch runs a batch on the next worker.
func (r *Registry) Dispatch(ctx context.Context, q schemas.QueryType, items []schemas.Params) ([]interface{}, error) {
	w, err := r.Next()
	if err != nil {
		return nil, err
	}
	return w.Process(ctx, q, items)
}

// SelfTest runs the login self test on the next worker.
func (r *Registry) SelfTest(ctx context.Context) (string, error) {
	w, err := r.Next()
	if err != nil {
		return "", err
	}
	return w.SelfTest(ctx)
}

// CloseAll closes every worker that was built. The registry hands out no
// workers afterwards.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if w != nil {
			workers = append(workers, w)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.Close(ctx); err != nil {
			r.logger.Warn("Failed to close worker session.", zap.String("worker_id", w.ID()), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", w.ID(), err))
		}
	}
	r.logger.Info("Worker registry closed.", zap.Int("workers", len(workers)))
	return errors.Join(errs...)
}
