// Package orchestrator validates a batch of query items and fans the valid
// batch out to a handler, one goroutine per item.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/portalq/api/schemas"
)

// Handler runs a single validated item. index is the item's position in the
// submitted batch.
type Handler func(ctx context.Context, index int, item schemas.Params) ([]schemas.Record, error)

// Orchestrator runs batches of query items.
type Orchestrator struct {
	logger    *zap.Logger
	limit     int
	isolation bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrencyLimit caps the number of items running at once. Zero or a
// negative value means one goroutine per item.
func WithConcurrencyLimit(n int) Option {
	return func(o *Orchestrator) {
		o.limit = n
	}
}

// WithItemIsolation makes a failing item produce an error entry in its slot
// instead of failing the whole batch.
func WithItemIsolation() Option {
	return func(o *Orchestrator) {
		o.isolation = true
	}
}

// New creates an Orchestrator.
func New(logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{logger: logger.Named("orchestrator")}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks every item for every required field and reports all gaps
// at once. An empty batch is valid.
func Validate(items []schemas.Params, required []string) error {
	missing := make(map[int][]string)
	for i, item := range items {
		if m := item.Missing(required); len(m) > 0 {
			missing[i] = m
		}
	}
	if len(missing) > 0 {
		return &schemas.ValidationError{Message: "missing required fields", Missing: missing}
	}
	return nil
}

// RunBatch validates items and then runs handler for each of them
// concurrently. The returned slice has one entry per item, in submission
// order. Each entry is a []schemas.Record, or a schemas.QueryResult when item
// isolation is enabled.
//
// Without isolation the first item error fails the batch. Sibling items are
// left to finish on their own.
func (o *Orchestrator) RunBatch(ctx context.Context, items []schemas.Params, required []string, handler Handler) ([]interface{}, error) {
	if err := Validate(items, required); err != nil {
		return nil, err
	}

	results := make([]interface{}, len(items))
	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	for i, item := range items {
		g.Go(func() error {
			records, err := o.runItem(ctx, i, item, handler)
			if o.isolation {
				if err != nil {
					results[i] = schemas.NewErrorResult(err)
				} else {
					results[i] = schemas.QueryResult{Records: records}
				}
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.logger.Debug("Batch finished.", zap.Int("items", len(items)))
	return results, nil
}

// runItem calls handler and turns a panic into an error so one broken item
// cannot take the process down.
func (o *Orchestrator) runItem(ctx context.Context, index int, item schemas.Params, handler Handler) (records []schemas.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Query item panicked.",
				zap.Int("index", index),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("query item %d panicked: %v", index, r)
		}
	}()

	records, err = handler(ctx, index, item)
	if err != nil {
		o.logger.Warn("Query item failed.", zap.Int("index", index), zap.Error(err))
		return records, err
	}
	if records == nil {
		records = []schemas.Record{}
	}
	return records, nil
}
