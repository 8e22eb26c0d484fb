package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

type RouterConfig struct {
	Repo       rebooking.Repository
	Lifecycle  *rebooking.Lifecycle
	Dispatcher *rebooking.Dispatcher
	Resolver   *rebooking.Resolver
	Sweeper    *rebooking.Sweeper
	Location   *time.Location

	PgPool *pgxpool.Pool
	Redis  *redis.Client

	// Metrics serves /metrics; defaults to the global registry
	Metrics http.Handler
	Logger  *logging.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	h := &handlers{
		repo:       cfg.Repo,
		lifecycle:  cfg.Lifecycle,
		dispatcher: cfg.Dispatcher,
		resolver:   cfg.Resolver,
		sweeper:    cfg.Sweeper,
		location:   cfg.Location,
		validate:   validator.New(),
		logger:     cfg.Logger,
		now:        time.Now,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics)

	r.Route("/slot-offers", func(r chi.Router) {
		r.Post("/", h.createSlotOffer)
		r.Post("/process", h.processSlot)
		r.Get("/{id}", h.getSlotOffer)
	})

	r.Get("/invitations/respond", h.respond)
	r.Post("/invitations/respond", h.respond)

	r.Post("/sweep", h.sweep)

	return r
}
