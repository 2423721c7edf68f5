package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const disposeTimeout = 5 * time.Second

// NewContext creates an isolated browser context with one page and installs
// policy on it before returning.
func (b *cdpBrowser) NewContext(ctx context.Context, policy ContextPolicy) (BrowsingContext, error) {
	b.createMu.Lock()
	defer b.createMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating browser context: %w", err)
	}
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser is gone: %w", err)
	}

	execCtx, cancelExec := combineContext(b.ctx, ctx)
	defer cancelExec()
	exec := cdp.WithExecutor(execCtx, chromedp.FromContext(b.ctx).Browser)

	contextID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(contextID).Do(exec)
	if err != nil {
		b.disposeContext(contextID)
		return nil, fmt.Errorf("create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithTargetID(targetID))
	bc := &cdpContext{
		id:        string(contextID),
		contextID: contextID,
		browser:   b,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		logger:    b.logger.With(zap.String("browser_context", string(contextID))),
	}
	bc.page = &cdpPage{ctx: tabCtx, downloadDir: policy.DownloadDir, logger: bc.logger}

	if err := bc.install(ctx, policy); err != nil {
		_ = bc.Close(detach(ctx))
		return nil, fmt.Errorf("install context policy: %w", err)
	}
	bc.logger.Debug("Browsing context created.")
	return bc, nil
}

func (b *cdpBrowser) disposeContext(id cdp.BrowserContextID) {
	if b.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, disposeTimeout)
	defer cancel()
	exec := cdp.WithExecutor(ctx, chromedp.FromContext(b.ctx).Browser)
	if err := target.DisposeBrowserContext(id).Do(exec); err != nil {
		b.logger.Debug("Failed to dispose browser context.", zap.String("browser_context", string(id)), zap.Error(err))
	}
}

// cdpContext is one isolated browser context with its single tab.
type cdpContext struct {
	id        string
	contextID cdp.BrowserContextID
	browser   *cdpBrowser
	tabCtx    context.Context
	tabCancel context.CancelFunc
	page      *cdpPage
	logger    *zap.Logger
	closeOnce sync.Once
}

func (c *cdpContext) ID() string { return c.id }
func (c *cdpContext) Page() Page { return c.page }

// install applies the context policy. The first Run on tabCtx attaches to
// the target.
func (c *cdpContext) install(ctx context.Context, policy ContextPolicy) error {
	runCtx, cancel := combineContext(c.tabCtx, ctx)
	defer cancel()

	if policy.AcceptDialogs {
		chromedp.ListenTarget(c.tabCtx, func(ev interface{}) {
			if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
				c.logger.Debug("Accepting page dialog.", zap.String("type", string(e.Type)), zap.String("message", e.Message))
				go func() {
					if err := chromedp.Run(c.tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
						c.logger.Debug("Failed to accept dialog.", zap.Error(err))
					}
				}()
			}
		})
	}

	actions := chromedp.Tasks{}
	if policy.ViewportWidth > 0 && policy.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(policy.ViewportWidth), int64(policy.ViewportHeight)))
	}
	if policy.IgnoreCertErrors {
		actions = append(actions, security.SetIgnoreCertificateErrors(true))
	}
	if policy.DownloadDir != "" {
		actions = append(actions, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(policy.DownloadDir).
			WithEventsEnabled(true).
			WithBrowserContextID(c.contextID))
	}
	return chromedp.Run(runCtx, actions)
}

// Close disposes the tab and the browser context.
func (c *cdpContext) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(detach(ctx), disposeTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := chromedp.Cancel(c.tabCtx); err != nil {
				c.logger.Debug("Tab did not close cleanly.", zap.Error(err))
			}
		}()
		select {
		case <-done:
		case <-closeCtx.Done():
			c.logger.Warn("Timed out closing tab.")
		}
		c.tabCancel()
		c.browser.disposeContext(c.contextID)
		c.logger.Debug("Browsing context closed.")
	})
	return nil
}
