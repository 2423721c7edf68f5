package mocks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/portalq/internal/browser"
)

// -- Scripted page --

// FakePage is a scripted browser.Page. Every call is recorded as "op arg"
// (for example "click #queryBtn"); Errors and Blocks are keyed the same way
// with the op and its first argument.
type FakePage struct {
	mu sync.Mutex

	Calls     []string
	Errors    map[string]error
	Blocks    map[string]bool
	Visible   map[string]bool
	PageTitle string
	// Uploads holds the content of every file passed to SetFiles, read at
	// call time.
	Uploads  map[string][]byte
	Download *FakeDownload
	// OnCall, when set, runs after a call is recorded and before it returns.
	OnCall func(call string)
}

// NewFakePage returns a page on which the login button and the given
// landmark are visible.
func NewFakePage(landmark string) *FakePage {
	return &FakePage{
		Errors:  make(map[string]error),
		Blocks:  make(map[string]bool),
		Visible: map[string]bool{"#loginBtn": true, landmark: true},
		Uploads: make(map[string][]byte),
	}
}

func (p *FakePage) record(ctx context.Context, op, arg string, extra ...string) error {
	key := op + " " + arg
	call := key
	if len(extra) > 0 {
		call += " " + strings.Join(extra, " ")
	}
	p.mu.Lock()
	p.Calls = append(p.Calls, call)
	err := p.Errors[key]
	block := p.Blocks[key]
	hook := p.OnCall
	p.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// Recorded returns a copy of the calls made so far.
func (p *FakePage) Recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

// CallsWithPrefix returns recorded calls starting with prefix, in order.
func (p *FakePage) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range p.Recorded() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// SetVisible changes the visibility of selector.
func (p *FakePage) SetVisible(selector string, visible bool) {
	p.mu.Lock()
	p.Visible[selector] = visible
	p.mu.Unlock()
}

// SetDownload replaces the download the next ExpectDownload hands out.
func (p *FakePage) SetDownload(d *FakeDownload) {
	p.mu.Lock()
	p.Download = d
	p.mu.Unlock()
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	return p.record(ctx, "navigate", url)
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	if err := p.record(ctx, "title", ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

func (p *FakePage) WaitPresent(ctx context.Context, selector string) error {
	return p.record(ctx, "wait", selector)
}

func (p *FakePage) WaitVisible(ctx context.Context, selector string) error {
	if err := p.record(ctx, "waitvisible", selector); err != nil {
		return err
	}
	p.mu.Lock()
	visible := p.Visible[selector]
	p.mu.Unlock()
	if !visible {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *FakePage) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := p.record(ctx, "visible", selector); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible[selector], nil
}

func (p *FakePage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.record(ctx, "scroll", selector)
}

func (p *FakePage) ClickCenter(ctx context.Context, selector string) error {
	return p.record(ctx, "click", selector)
}

func (p *FakePage) ForceClick(ctx context.Context, selector string) error {
	return p.record(ctx, "force", selector)
}

func (p *FakePage) RemoveAttribute(ctx context.Context, selector, name string) error {
	return p.record(ctx, "remove", selector, name)
}

func (p *FakePage) Fill(ctx context.Context, selector, value string) error {
	return p.record(ctx, "fill", selector, value)
}

func (p *FakePage) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := p.record(ctx, "files", selector, paths...); err != nil {
		return err
	}
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("fake upload: %w", err)
		}
		p.mu.Lock()
		p.Uploads[path] = b
		p.mu.Unlock()
	}
	return nil
}

func (p *FakePage) AnchorByClass(ctx context.Context, class string, index int, id string) (bool, error) {
	if err := p.record(ctx, "anchor", id, fmt.Sprintf("%s[%d]", class, index)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *FakePage) ExpectDownload(ctx context.Context) (browser.DownloadHandle, error) {
	if err := p.record(ctx, "expect-download", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Download == nil {
		p.Download = &FakeDownload{}
	}
	return p.Download, nil
}

// -- Scripted download --

// FakeDownload writes Content to the destination on SaveAs. With Block set
// it never completes and SaveAs returns when ctx is done.
type FakeDownload struct {
	mu        sync.Mutex
	Content   []byte
	Err       error
	Block     bool
	SavedTo   string
	Cancelled bool
}

func (d *FakeDownload) SaveAs(ctx context.Context, dest string) error {
	d.mu.Lock()
	block, err, content := d.Block, d.Err, d.Content
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, content, 0o600); err != nil {
		return err
	}
	d.mu.Lock()
	d.SavedTo = dest
	d.mu.Unlock()
	return nil
}

func (d *FakeDownload) Cancel() {
	d.mu.Lock()
	d.Cancelled = true
	d.mu.Unlock()
}

// -- Browser and launcher --

// FakeContext is a browser.BrowsingContext around a FakePage.
type FakeContext struct {
	id     string
	page   *FakePage
	Policy browser.ContextPolicy
	closed atomic.Int32
}

func (c *FakeContext) ID() string          { return c.id }
func (c *FakeContext) Page() browser.Page  { return c.page }
func (c *FakeContext) FakePage() *FakePage { return c.page }
func (c *FakeContext) Closed() int         { return int(c.closed.Load()) }

func (c *FakeContext) Close(context.Context) error {
	c.closed.Add(1)
	return nil
}

// FakeBrowser hands out FakeContexts whose pages come from NewPage.
type FakeBrowser struct {
	mu       sync.Mutex
	NewPage  func() *FakePage
	Contexts []*FakeContext
	// ContextErr fails every NewContext call.
	ContextErr error
	closed     atomic.Int32
}

func (b *FakeBrowser) NewContext(ctx context.Context, policy browser.ContextPolicy) (browser.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ContextErr != nil {
		return nil, b.ContextErr
	}
	c := &FakeContext{id: fmt.Sprintf("ctx-%d", len(b.Contexts)+1), page: b.NewPage(), Policy: policy}
	b.Contexts = append(b.Contexts, c)
	return c, nil
}

func (b *FakeBrowser) Close(context.Context) error {
	b.closed.Add(1)
	return nil
}

// Closed reports how many times Close was called.
func (b *FakeBrowser) Closed() int { return int(b.closed.Load()) }

// AllContexts returns the contexts created so far.
func (b *FakeBrowser) AllContexts() []*FakeContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakeContext(nil), b.Contexts...)
}

// FakeLauncher counts launches and returns browsers built by NewBrowser.
type FakeLauncher struct {
	NewBrowser func() *FakeBrowser
	Err        error
	Delay      time.Duration

	mu       sync.Mutex
	launches int
	Browsers []*FakeBrowser
}

// ErrLaunch is a canned launch failure.
var ErrLaunch = errors.New("chrome failed to start")

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Browser, error) {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()

	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}
	b := l.NewBrowser()
	l.mu.Lock()
	l.Browsers = append(l.Browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Launches reports how many times Launch was called.
func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}
