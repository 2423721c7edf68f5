package browser

import (
	"context"
)

// ContextPolicy is installed once when a BrowsingContext is created and holds
// for every page opened in it.
type ContextPolicy struct {
	// AcceptDialogs answers every JavaScript alert, confirm and prompt with OK.
	AcceptDialogs bool
	// IgnoreCertErrors proceeds past TLS errors without an interstitial.
	IgnoreCertErrors bool
	// DownloadDir receives every download started from the context.
	DownloadDir    string
	ViewportWidth  int
	ViewportHeight int
}

// Launcher starts a browser process.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser process. It is safe for concurrent use.
type Browser interface {
	// NewContext creates an isolated browsing context with its own cookie jar.
	NewContext(ctx context.Context, policy ContextPolicy) (BrowsingContext, error)
	Close(ctx context.Context) error
}

// BrowsingContext is an isolated context with a single page.
type BrowsingContext interface {
	ID() string
	Page() Page
	// Close disposes the context and its page. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Page is the set of page primitives the form automation needs. Selectors are
// CSS selectors. Each blocking call is bounded by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)

	// WaitPresent waits until selector matches an element in the DOM.
	WaitPresent(ctx context.Context, selector string) error
	// WaitVisible waits until selector matches a rendered element.
	WaitVisible(ctx context.Context, selector string) error
	// IsVisible reports, without waiting, whether selector matches a rendered element.
	IsVisible(ctx context.Context, selector string) (bool, error)

	ScrollIntoView(ctx context.Context, selector string) error
	// ClickCenter dispatches a mouse click at the center of the element's box model.
	ClickCenter(ctx context.Context, selector string) error
	// ForceClick calls the element's click() from script, bypassing actionability.
	ForceClick(ctx context.Context, selector string) error

	RemoveAttribute(ctx context.Context, selector, name string) error
	// Fill replaces the element's value and fires input and change events.
	Fill(ctx context.Context, selector, value string) error
	SetFiles(ctx context.Context, selector string, paths []string) error

	// AnchorByClass assigns id to the index-th element carrying class when no
	// element with that id exists yet. It reports whether an id was assigned.
	AnchorByClass(ctx context.Context, class string, index int, id string) (bool, error)

	// ExpectDownload arms a listener for the next download started by the page.
	// It must be called before the action that triggers the download.
	ExpectDownload(ctx context.Context) (DownloadHandle, error)
}

// DownloadHandle is an armed download listener.
type DownloadHandle interface {
	// SaveAs waits for the download to finish and moves the file to dest.
	SaveAs(ctx context.Context, dest string) error
	// Cancel releases the listener without waiting.
	Cancel()
}
