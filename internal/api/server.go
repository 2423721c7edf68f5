// Package api exposes query execution over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/config"
)

// Dispatcher runs query batches. The worker registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, q schemas.QueryType, items []schemas.Params) ([]interface{}, error)
	SelfTest(ctx context.Context) (string, error)
}

// Journal records finished batches. It is optional.
type Journal interface {
	RecordRun(ctx context.Context, rec schemas.RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]schemas.RunRecord, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dispatcher Dispatcher
	journal    Journal
	cfg        config.ServerConfig
	logger     *zap.Logger
}

// NewHandler creates the API handler. journal may be nil.
func NewHandler(dispatcher Dispatcher, journal Journal, cfg config.ServerConfig, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		journal:    journal,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}
}

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	api := r.PathPrefix("/cyber").Subrouter()
	if h.cfg.RateLimit > 0 {
		api.Use(RateLimitMiddleware(NewLimiter(h.cfg.RateLimit, h.cfg.RateBurst)))
	}

	api.HandleFunc("/glcx", h.Query(schemas.QueryPersonal, false)).Methods(http.MethodPost)
	api.HandleFunc("/zzcx", h.Query(schemas.QueryCrossStation, false)).Methods(http.MethodPost)
	api.HandleFunc("/plgjcx", h.Query(schemas.QueryBatch, true)).Methods(http.MethodPost)
	api.HandleFunc("/test", h.SelfTest).Methods(http.MethodGet)
	api.HandleFunc("/runs", h.Runs).Methods(http.MethodGet)

	r.Use(RecoveryMiddleware(h.logger))
	r.Use(LoggingMiddleware(h.logger))
	return r
}

// NewHTTPServer wraps the routes in an http.Server configured from cfg.
func NewHTTPServer(h *Handler) *http.Server {
	return &http.Server{
		Addr:         h.cfg.Addr,
		Handler:      h.SetupRoutes(),
		ReadTimeout:  h.cfg.ReadTimeout,
		WriteTimeout: h.cfg.WriteTimeout,
	}
}
