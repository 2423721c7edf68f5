// File: internal/service/components.go
package service

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/internal/api"
	"github.com/xkilldash9x/portalq/internal/observability"
	"github.com/xkilldash9x/portalq/internal/store"
	"github.com/xkilldash9x/portalq/internal/worker"
)

// Components holds everything a running service needs and owns their
// lifecycle.
type Components struct {
	Registry *worker.Registry
	// Journal is nil when no database is configured.
	Journal *store.Store
	DBPool  *pgxpool.Pool
}

// APIJournal returns the journal for the HTTP layer, or a nil interface when
// journaling is disabled.
func (c *Components) APIJournal() api.Journal {
	if c.Journal == nil {
		return nil
	}
	return c.Journal
}

// Shutdown closes every worker session and then the database pool.
func (c *Components) Shutdown(ctx context.Context) {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.Registry != nil {
		if err := c.Registry.CloseAll(ctx); err != nil {
			logger.Warn("Error while closing worker sessions.", zap.Error(err))
		} else {
			logger.Debug("Worker sessions closed.")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}
