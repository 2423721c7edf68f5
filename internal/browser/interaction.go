package browser

import (
	"context"
	"fmt"
	"time"
)

// ClickWithFallback waits up to wait for selector to be present, scrolls it
// into view and clicks its center. When any of that fails it retries once
// with a forced script click bounded by force.
func ClickWithFallback(ctx context.Context, page Page, selector string, wait, force time.Duration) error {
	err := clickCenter(ctx, page, selector, wait)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	forceCtx, cancel := context.WithTimeout(ctx, force)
	defer cancel()
	if ferr := page.ForceClick(forceCtx, selector); ferr != nil {
		return fmt.Errorf("click %s: %v; forced click: %w", selector, err, ferr)
	}
	return nil
}

func clickCenter(ctx context.Context, page Page, selector string, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := page.WaitPresent(waitCtx, selector); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	if err := page.ScrollIntoView(waitCtx, selector); err != nil {
		return fmt.Errorf("scroll to %s: %w", selector, err)
	}
	return page.ClickCenter(waitCtx, selector)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
