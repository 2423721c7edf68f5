package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cdpPage implements Page on one chromedp tab. Every call runs on a context
// that carries the tab and the caller's deadline.
type cdpPage struct {
	ctx         context.Context
	downloadDir string
	logger      *zap.Logger
}

func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// evaluate calls fn(args...) in the page and decodes its return value into res.
func (p *cdpPage) evaluate(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode script argument: %w", err)
		}
		encoded[i] = string(b)
	}
	script := fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ","))
	return p.run(ctx, chromedp.Evaluate(script, res, func(e *runtime.EvaluateParams) *runtime.EvaluateParams {
		return e.WithReturnByValue(true).WithAwaitPromise(true)
	}))
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (p *cdpPage) WaitPresent(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *cdpPage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

const isVisibleScript = `function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	return rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden';
}`

func (p *cdpPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	if err := p.evaluate(ctx, isVisibleScript, &visible, selector); err != nil {
		return false, fmt.Errorf("check visibility of %s: %w", selector, err)
	}
	return visible, nil
}

func (p *cdpPage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

func (p *cdpPage) ClickCenter(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	return p.run(ctx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery),
		chromedp.ActionFunc(func(c context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no element matches %s", selector)
			}
			model, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(c)
			if err != nil {
				return fmt.Errorf("box model of %s: %w", selector, err)
			}
			x, y, ok := boxCenter(model.Content)
			if !ok {
				return fmt.Errorf("element %s has no layout box", selector)
			}
			return chromedp.MouseClickXY(x, y).Do(c)
		}),
	)
}

const forceClickScript = `function(sel) {
	const el = document.querySelector(sel);
	if (!el) throw new Error('no element matches ' + sel);
	el.click();
	return true;
}`

func (p *cdpPage) ForceClick(ctx context.Context, selector string) error {
	var clicked bool
	return p.evaluate(ctx, forceClickScript, &clicked, selector)
}

func (p *cdpPage) RemoveAttribute(ctx context.Context, selector, name string) error {
	return p.run(ctx, chromedp.RemoveAttribute(selector, name, chromedp.ByQuery))
}

const dispatchInputScript = `function(sel) {
	const el = document.querySelector(sel);
	if (!el) throw new Error('no element matches ' + sel);
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

func (p *cdpPage) Fill(ctx context.Context, selector, value string) error {
	if err := p.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery)); err != nil {
		return err
	}
	var ok bool
	return p.evaluate(ctx, dispatchInputScript, &ok, selector)
}

func (p *cdpPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	return p.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

const anchorScript = `function(cls, idx, id) {
	if (document.getElementById(id)) return false;
	const els = document.getElementsByClassName(cls);
	if (els.length <= idx) return false;
	els[idx].id = id;
	return true;
}`

func (p *cdpPage) AnchorByClass(ctx context.Context, class string, index int, id string) (bool, error) {
	var assigned bool
	if err := p.evaluate(ctx, anchorScript, &assigned, class, index, id); err != nil {
		return false, fmt.Errorf("anchor %s[%d] as #%s: %w", class, index, id, err)
	}
	return assigned, nil
}

// ExpectDownload arms a listener on the tab. The first download to begin
// after the call is the one the handle tracks.
func (p *cdpPage) ExpectDownload(ctx context.Context) (DownloadHandle, error) {
	if p.downloadDir == "" {
		return nil, errors.New("downloads are not enabled for this context")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	listenCtx, cancel := context.WithCancel(p.ctx)
	d := &cdpDownload{
		dir:    p.downloadDir,
		cancel: cancel,
		done:   make(chan error, 1),
		logger: p.logger,
	}
	chromedp.ListenTarget(listenCtx, d.onEvent)
	return d, nil
}

type cdpDownload struct {
	dir    string
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.Mutex
	guid     string
	finished bool
	done     chan error
}

func (d *cdpDownload) onEvent(ev interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		return
	}
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		if d.guid == "" {
			d.guid = e.GUID
			d.logger.Debug("Download started.", zap.String("guid", e.GUID), zap.String("file", e.SuggestedFilename))
		}
	case *browser.EventDownloadProgress:
		if e.GUID != d.guid {
			return
		}
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			d.finished = true
			d.done <- nil
		case browser.DownloadProgressStateCanceled:
			d.finished = true
			d.done <- errors.New("download was canceled by the browser")
		}
	}
}

// SaveAs waits for completion and moves the file out of the download dir.
func (d *cdpDownload) SaveAs(ctx context.Context, dest string) error {
	defer d.cancel()
	select {
	case err := <-d.done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	src := filepath.Join(d.dir, d.guid)
	d.mu.Unlock()
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("move download to %s: %w", dest, err)
	}
	return nil
}

func (d *cdpDownload) Cancel() { d.cancel() }
