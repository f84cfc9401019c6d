// Package api provides HTTP handlers and the main API server logic for
// ConvoFlow.
//
// It exposes the inbound webhook endpoint that drives flow execution, a
// flow-id-addressed processor endpoint, the team-scoped authoring CRUD for
// flows, nodes, paths and entities, and the metrics and health endpoints.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/convoflow/convoflow/internal/cache"
	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/internal/metric"
	"github.com/convoflow/convoflow/internal/scheduler"
	"github.com/convoflow/convoflow/internal/store"
)

// DefaultAddr is the default listen address of the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address, DefaultAddr when empty.
	Addr string
	// DBDriver selects the storage backend: "sqlite" or "postgres".
	DBDriver string
	// DSN is the database connection string for the selected driver.
	DSN string
	// RedisAddr enables the flow snapshot cache when non-empty.
	RedisAddr string
	// SweepExpr is the cron expression of the stale-session sweep.
	SweepExpr string
	// SessionMaxAge is the idle age after which sessions are finished.
	SessionMaxAge time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDBDriver selects the storage backend.
func WithDBDriver(driver string) Option {
	return func(o *Opts) { o.DBDriver = driver }
}

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisAddr enables the snapshot cache against the given Redis address.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithSweepExpr sets the stale-session sweep schedule.
func WithSweepExpr(expr string) Option {
	return func(o *Opts) { o.SweepExpr = expr }
}

// WithSessionMaxAge sets the idle age after which sessions are finished.
func WithSessionMaxAge(age time.Duration) Option {
	return func(o *Opts) { o.SessionMaxAge = age }
}

// Server holds the API dependencies and handlers.
type Server struct {
	store   store.Store
	engine  *flow.Engine
	metrics *metric.EngineMetrics
}

// NewServer creates a server over an existing store and engine.
func NewServer(st store.Store, engine *flow.Engine, metrics *metric.EngineMetrics) *Server {
	return &Server{store: st, engine: engine, metrics: metrics}
}

// Router builds the chi router with all endpoints mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Post("/webhook/{teamSlug}/{flowSlug}", s.webhookHandler)
	r.Get("/webhook/{teamSlug}/{flowSlug}", s.flowExportHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/flows/process", s.processHandler)

		r.Post("/teams", s.createTeamHandler)
		r.Get("/teams/{teamID}/flows", s.listFlowsHandler)
		r.Post("/teams/{teamID}/flows", s.createFlowHandler)
		r.Get("/teams/{teamID}/entities", s.listEntitiesHandler)
		r.Post("/teams/{teamID}/entities", s.createEntityHandler)

		r.Get("/flows/{flowID}", s.getFlowHandler)
		r.Get("/flows/{flowID}/nodes", s.listNodesHandler)
		r.Post("/flows/{flowID}/nodes", s.createNodeHandler)
		r.Get("/flows/{flowID}/webhook-info", s.webhookInfoByIDHandler)

		r.Put("/nodes/{nodeID}", s.updateNodeHandler)
		r.Get("/nodes/{nodeID}/paths", s.listPathsHandler)
		r.Post("/nodes/{nodeID}/paths", s.createPathHandler)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/health", s.healthHandler)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run builds the full service from options and serves until the listener
// fails.
func Run(opts ...Option) error {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var snapCache flow.SnapshotCache
	if cfg.RedisAddr != "" {
		flowCache, err := cache.NewFlowCache(cache.WithAddr(cfg.RedisAddr))
		if err != nil {
			// The cache is an accelerator; run without it rather than fail.
			slog.Warn("Snapshot cache unavailable, continuing without it", "error", err)
		} else {
			defer flowCache.Close()
			snapCache = flowCache
		}
	}

	metrics := metric.NewEngineMetrics()
	engine, err := flow.NewEngine(
		flow.WithStore(st),
		flow.WithCache(snapCache),
		flow.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleSessionSweep(engine, cfg.SweepExpr, cfg.SessionMaxAge); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	server := NewServer(st, engine, metrics)
	slog.Info("ConvoFlow API listening", "addr", cfg.Addr, "driver", driverName(cfg))
	return http.ListenAndServe(cfg.Addr, server.Router())
}

func openStore(cfg Opts) (store.Store, error) {
	switch driverName(cfg) {
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(cfg.DSN))
	case "sqlite":
		return store.NewSQLiteStore(store.WithDSN(cfg.DSN))
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

func driverName(cfg Opts) string {
	if cfg.DBDriver == "" {
		return "sqlite"
	}
	return cfg.DBDriver
}
