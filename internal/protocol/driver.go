// Package protocol drives the portal's query forms: it fills the fields,
// clicks through the per-query-type sequence and arms the download.
package protocol

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/browser"
	"github.com/xkilldash9x/portalq/internal/config"
)

// Driver runs form protocols on pages that are already logged in.
type Driver struct {
	portal config.PortalConfig
	auto   config.AutomationConfig
	logger *zap.Logger
}

// New creates a Driver.
func New(cfg config.Interface, logger *zap.Logger) *Driver {
	return &Driver{
		portal: cfg.Portal(),
		auto:   cfg.Automation(),
		logger: logger.Named("protocol"),
	}
}

// Run opens the form for spec.Type on page, fills it and clicks through its
// sequence. It returns the armed download once the trigger was clicked.
func (d *Driver) Run(ctx context.Context, page browser.Page, spec schemas.QuerySpec) (browser.DownloadHandle, error) {
	form, ok := FormFor(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", schemas.ErrUnknownQueryType, spec.Type)
	}
	log := d.logger.With(zap.String("query_type", string(spec.Type)))

	url := d.portal.QueryURL(spec.Type.WireName())
	navCtx, cancel := context.WithTimeout(ctx, d.auto.NavigationTimeout)
	err := page.Navigate(navCtx, url)
	cancel()
	if err != nil {
		return nil, &schemas.FormInteractionError{Selector: url, Action: "navigate", Err: err}
	}

	cleanup, err := d.prepare(ctx, page, form, spec, log)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	var handle browser.DownloadHandle
	for i, step := range form.Sequence() {
		if err := browser.Sleep(ctx, d.stepDelay()); err != nil {
			return nil, d.abort(handle, err)
		}

		if step.Download {
			h, err := page.ExpectDownload(ctx)
			if err != nil {
				return nil, &schemas.FormInteractionError{Selector: step.Selector, Action: "arm download", Err: err}
			}
			handle = h
		}

		if err := browser.ClickWithFallback(ctx, page, step.Selector, d.auto.StepTimeout, d.auto.ForceClickTimeout); err != nil {
			if step.Required || ctx.Err() != nil {
				log.Error("Required step failed.", zap.Int("step", i), zap.String("selector", step.Selector), zap.Error(err))
				return nil, d.abort(handle, &schemas.FormInteractionError{Selector: step.Selector, Action: "click", Err: err})
			}
			log.Debug("Optional step skipped.", zap.Int("step", i), zap.String("selector", step.Selector), zap.Error(err))
			continue
		}

		if err := d.afterStep(ctx, page, step); err != nil {
			return nil, d.abort(handle, err)
		}
	}

	if handle == nil {
		return nil, fmt.Errorf("form %s has no download step", spec.Type.WireName())
	}
	log.Debug("Form submitted; download armed.")
	return handle, nil
}

func (d *Driver) abort(handle browser.DownloadHandle, err error) error {
	if handle != nil {
		handle.Cancel()
	}
	return err
}

func (d *Driver) afterStep(ctx context.Context, page browser.Page, step ClickStep) error {
	switch step.Wait {
	case WaitMarker:
		waitCtx, cancel := context.WithTimeout(ctx, d.auto.UploadTimeout)
		defer cancel()
		if err := page.WaitVisible(waitCtx, step.Marker); err != nil {
			return &schemas.FormInteractionError{Selector: step.Marker, Action: "wait", Err: err}
		}
		return nil
	case WaitDownloadSettle:
		return browser.Sleep(ctx, d.auto.DownloadSettle)
	default:
		return browser.Sleep(ctx, d.auto.StepSettle)
	}
}

// stepDelay picks a pause in [StepDelayMin, StepDelayMax].
func (d *Driver) stepDelay() time.Duration {
	lo, hi := d.auto.StepDelayMin, d.auto.StepDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// prepare anchors positional controls, unlocks and fills the fields and, for
// forms that take one, attaches the id list file. The returned cleanup
// removes that file and is always non-nil.
func (d *Driver) prepare(ctx context.Context, page browser.Page, form Form, spec schemas.QuerySpec, log *zap.Logger) (func(), error) {
	cleanup := func() {}

	for _, a := range form.Anchors {
		assigned, err := page.AnchorByClass(ctx, a.Class, a.Index, a.ID)
		if err != nil {
			log.Warn("Failed to anchor control.", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		if assigned {
			log.Debug("Anchored positional control.", zap.String("id", a.ID), zap.String("class", a.Class), zap.Int("index", a.Index))
		}
	}

	for _, f := range form.Fields {
		stepCtx, cancel := context.WithTimeout(ctx, d.auto.StepTimeout)
		err := d.fill(stepCtx, page, f, spec.Fields[f.Param])
		cancel()
		if err != nil {
			return cleanup, err
		}
	}

	if form.Upload == "" {
		return cleanup, nil
	}

	path, err := d.writeIDList(spec.IDList)
	if err != nil {
		return cleanup, err
	}
	cleanup = func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove id list file.", zap.String("path", path), zap.Error(err))
		}
	}

	uploadCtx, cancel := context.WithTimeout(ctx, d.auto.UploadTimeout)
	defer cancel()
	if err := page.WaitPresent(uploadCtx, form.Upload); err != nil {
		return cleanup, &schemas.FormInteractionError{Selector: form.Upload, Action: "wait", Err: err}
	}
	if err := page.SetFiles(uploadCtx, form.Upload, []string{path}); err != nil {
		return cleanup, &schemas.FormInteractionError{Selector: form.Upload, Action: "upload", Err: err}
	}
	log.Debug("Id list attached.", zap.Int("ids", len(spec.IDList)))
	return cleanup, nil
}

func (d *Driver) fill(ctx context.Context, page browser.Page, f Field, value string) error {
	if err := page.WaitPresent(ctx, f.Selector); err != nil {
		return &schemas.FormInteractionError{Selector: f.Selector, Action: "wait", Err: err}
	}
	if f.Readonly {
		if err := page.RemoveAttribute(ctx, f.Selector, "readonly"); err != nil {
			return &schemas.FormInteractionError{Selector: f.Selector, Action: "unlock", Err: err}
		}
	}
	if err := page.Fill(ctx, f.Selector, value); err != nil {
		return &schemas.FormInteractionError{Selector: f.Selector, Action: "fill", Err: err}
	}
	return nil
}

// writeIDList writes ids one per line to a private file in the scratch dir.
func (d *Driver) writeIDList(ids []string) (string, error) {
	if err := os.MkdirAll(d.auto.ScratchDir, 0o700); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	name := "ids_" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".txt"
	path := filepath.Join(d.auto.ScratchDir, name)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write id list: %w", err)
	}
	return path, nil
}
