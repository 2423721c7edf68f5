// Package certdialog clears the native client-certificate prompt the portal
// triggers during login. The prompt is an OS window outside the browser's
// control, so it is driven through the desktop instead of CDP.
package certdialog

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Injector brings the window titled title to the foreground, types text into
// it and presses Enter. It reports whether the window was found and the
// keystrokes were delivered. Failures are never fatal to the caller.
type Injector interface {
	Inject(ctx context.Context, title, text string) bool
}

// Noop is an Injector for headless hosts with no desktop session.
type Noop struct{}

// Inject always reports false.
func (Noop) Inject(context.Context, string, string) bool { return false }

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// Xdotool drives the dialog with the xdotool utility under X11.
type Xdotool struct {
	logger *zap.Logger
	run    Runner
	// Settle is how long to wait for the dialog to appear before searching.
	Settle time.Duration
	// Timeout bounds the whole injection.
	Timeout time.Duration
}

// NewXdotool creates an Xdotool injector. A nil runner uses os/exec.
func NewXdotool(logger *zap.Logger, run Runner) *Xdotool {
	if run == nil {
		run = execRunner
	}
	return &Xdotool{
		logger:  logger.Named("certdialog"),
		run:     run,
		Settle:  2 * time.Second,
		Timeout: 15 * time.Second,
	}
}

// Inject implements Injector.
func (x *Xdotool) Inject(ctx context.Context, title, text string) bool {
	ctx, cancel := context.WithTimeout(ctx, x.Timeout)
	defer cancel()

	log := x.logger.With(zap.String("window", title))
	if x.Settle > 0 {
		select {
		case <-time.After(x.Settle):
		case <-ctx.Done():
			return false
		}
	}

	out, err := x.run(ctx, "xdotool", "search", "--name", title)
	if err != nil {
		log.Debug("Certificate dialog not found.", zap.Error(err))
		return false
	}
	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		log.Debug("Certificate dialog not found.")
		return false
	}
	window := ids[0]

	steps := [][]string{
		{"windowactivate", "--sync", window},
		{"type", "--window", window, "--delay", "50", "--", text},
		{"key", "--window", window, "Return"},
	}
	for _, args := range steps {
		if _, err := x.run(ctx, "xdotool", args...); err != nil {
			log.Warn("Failed to drive certificate dialog.", zap.String("step", args[0]), zap.Error(err))
			return false
		}
	}
	log.Info("Certificate dialog answered.")
	return true
}

// New picks the injector named by kind ("xdotool" or "none").
func New(kind string, logger *zap.Logger) Injector {
	if kind == "xdotool" {
		if _, err := exec.LookPath("xdotool"); err == nil {
			return NewXdotool(logger, nil)
		}
		logger.Warn("xdotool not found on PATH; certificate dialogs will not be answered.")
	}
	return Noop{}
}
