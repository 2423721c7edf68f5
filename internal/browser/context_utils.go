package browser

import (
	"context"
	"time"
)

// combineContext returns a context that carries the values of target (the
// chromedp tab context) and is done when either target or op is done. op's
// deadline, if any, is applied as well.
func combineContext(target, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(target)
	if deadline, ok := op.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// detach returns a context that keeps ctx's values but ignores its
// cancellation, for cleanup that must run after the caller gave up.
func detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }
