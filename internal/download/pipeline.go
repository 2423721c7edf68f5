// Package download saves the workbook a form produced to a private scratch
// file, extracts it and removes the file again.
package download

import (
	"context"
	"errors"
	"fmt"
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

// Parser turns a saved workbook into records.
type Parser interface {
	Parse(path string, q schemas.QueryType) ([]schemas.Record, error)
}

// Pipeline captures downloads armed by the form driver.
type Pipeline struct {
	dir     string
	timeout time.Duration
	parser  Parser
	logger  *zap.Logger
}

// New creates a Pipeline writing into the configured scratch dir.
func New(cfg config.Interface, parser Parser, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		dir:     cfg.Automation().ScratchDir,
		timeout: cfg.Automation().DownloadTimeout,
		parser:  parser,
		logger:  logger.Named("download"),
	}
}

// Capture waits for the download behind h, saves it as
// {prefix}_{uuid}.xlsx and extracts it. The file never outlives the call.
// A download that does not finish in time yields an empty result and a
// *schemas.DownloadTimeoutError.
func (p *Pipeline) Capture(ctx context.Context, h browser.DownloadHandle, prefix string, q schemas.QueryType) ([]schemas.Record, error) {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		h.Cancel()
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	path := filepath.Join(p.dir, fmt.Sprintf("%s_%s.xlsx", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")))
	log := p.logger.With(zap.String("path", path), zap.String("query_type", string(q)))
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove downloaded file.", zap.Error(err))
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	if err := h.SaveAs(waitCtx, path); err != nil {
		h.Cancel()
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warn("Download did not arrive in time.", zap.Duration("timeout", p.timeout))
			return []schemas.Record{}, &schemas.DownloadTimeoutError{QueryType: q, Timeout: p.timeout, Err: err}
		}
		return nil, fmt.Errorf("save download: %w", err)
	}
	log.Debug("Download saved.", zap.Duration("elapsed", time.Since(started)))

	records, err := p.parser.Parse(path, q)
	if err != nil {
		return nil, fmt.Errorf("extract download: %w", err)
	}
	return records, nil
}
