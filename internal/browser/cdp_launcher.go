package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/internal/config"
)

const closeTimeout = 15 * time.Second

// CDPLauncher starts Chrome through chromedp's exec allocator.
type CDPLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewCDPLauncher creates a launcher for the configured browser.
func NewCDPLauncher(cfg config.BrowserConfig, logger *zap.Logger) *CDPLauncher {
	return &CDPLauncher{cfg: cfg, logger: logger.Named("cdp")}
}

// execOptions maps the browser config onto allocator flags.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	// DefaultExecAllocatorOptions is headless; a desktop session is needed
	// whenever the certificate dialog must be answered.
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		key, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// Launch starts the browser and waits, up to the launch timeout, for the
// first target to attach.
func (l *CDPLauncher) Launch(ctx context.Context) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(l.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(l.cfg.LaunchTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", l.cfg.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	l.logger.Info("Browser launched.", zap.Bool("headless", l.cfg.Headless))
	return &cdpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      l.logger,
	}, nil
}

// cdpBrowser is a running browser. browser-level CDP commands run on ctx.
type cdpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger

	// createMu serializes browser context creation; CDP target creation is
	// not reliable when interleaved on the browser connection.
	createMu  sync.Mutex
	closeOnce sync.Once
}

// Close shuts the browser down, waiting up to closeTimeout for a clean exit.
func (b *cdpBrowser) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- chromedp.Cancel(b.ctx)
		}()
		select {
		case err = <-done:
		case <-closeCtx.Done():
			err = fmt.Errorf("browser did not close in time: %w", closeCtx.Err())
		}
		b.cancel()
		b.allocCancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		b.logger.Info("Browser closed.")
	})
	return err
}
