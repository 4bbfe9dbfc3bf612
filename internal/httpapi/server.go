// Package httpapi exposes the connection manager over HTTP.
//
// Callers identify themselves with the X-Owner-ID header, set by the
// authenticating proxy in front of this service. A connection key is only
// visible to the owner embedded in it.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/connhub/internal/connmgr"
	"github.com/koustreak/connhub/internal/database/sqlite"
	"github.com/koustreak/connhub/internal/logger"
)

const (
	DefaultRowLimit = 1000
	MaxRowLimit     = 10000
)

// Config holds HTTP server configuration.
type Config struct {
	Addr string

	// MaxConnectionsPerOwner caps live connections per owner; 0 disables
	// the check.
	MaxConnectionsPerOwner int

	// AdminToken guards /api/admin. Empty leaves the admin routes unmounted.
	AdminToken string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Sweeper runs one idle-eviction pass on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) int
}

// DatasetLister lists sqlite databases held in object storage.
type DatasetLister interface {
	Datasets(ctx context.Context, bucket, prefix string) ([]sqlite.Dataset, error)
}

// Option customises a Server.
type Option func(*Server)

// WithDatasets serves GET /api/database/datasets from l.
func WithDatasets(l DatasetLister) Option {
	return func(s *Server) { s.datasets = l }
}

// Server wraps the HTTP server with chi routing, middleware, and graceful
// shutdown.
type Server struct {
	cfg        Config
	mgr        *connmgr.Manager
	sweeper    Sweeper
	datasets   DatasetLister
	log        *logger.Logger
	httpServer *http.Server
	router     chi.Router

	quotaMu sync.Mutex
	pending map[string]int // connects in flight per owner
}

// New builds the server. metrics may be nil, in which case /metrics is not
// served.
func New(cfg Config, mgr *connmgr.Manager, sweeper Sweeper, metrics http.Handler, log *logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}

	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		sweeper: sweeper,
		pending: make(map[string]int),
		log:     log.With().Str("component", "httpapi").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes(metrics)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.InfoWith("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
