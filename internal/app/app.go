package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/waitlist-rebooking/internal/config"
	"github.com/hackgods/waitlist-rebooking/internal/db"
	"github.com/hackgods/waitlist-rebooking/internal/metrics"
	"github.com/hackgods/waitlist-rebooking/internal/notify"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	redisclient "github.com/hackgods/waitlist-rebooking/internal/redis"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// App is the wired rebooking flow shared by every binary
type App struct {
	Config     config.Config
	Repo       rebooking.Repository
	Lifecycle  *rebooking.Lifecycle
	Dispatcher *rebooking.Dispatcher
	Resolver   *rebooking.Resolver
	Sweeper    *rebooking.Sweeper
	Gateway    *notify.Router
	Metrics    *metrics.RebookingMetrics
	Registry   *prometheus.Registry
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Logger     *logging.Logger
}

// New connects the stores selected by cfg and builds the components. With
// STORE_DRIVER=memory nothing external is dialled.
func New(ctx context.Context, cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}
	a := &App{Config: cfg, Logger: logger}

	var locker redisclient.Locker = redisclient.NoopLocker{}
	if cfg.UsesMemoryStore() {
		a.Repo = rebooking.NewMemoryRepository()
		logger.Warn("using in-memory store, state is lost on exit")
	} else {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.PgPool = pool
		a.Repo = rebooking.NewPgRepository(pool)
		logger.Info("connected to postgres")

		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		locker = redisclient.NewRedisSlotOfferLocker(rdb, cfg.LockTTL)
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewRebookingMetrics(a.Registry)

	a.Gateway = notify.Build(ctx, notify.BuildConfig{
		EmailProvider:    cfg.EmailProvider,
		SendGridAPIKey:   cfg.SendGridAPIKey,
		EmailFrom:        cfg.EmailFrom,
		EmailFromName:    cfg.EmailFromName,
		AWSRegion:        cfg.AWSRegion,
		SMSProvider:      cfg.SMSProvider,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}, logger)
	if err := a.Gateway.Validate(); err != nil {
		// not fatal: each dispatch reports it as a configuration error
		logger.Error("notification gateway misconfigured", "error", err)
	}

	msgCfg := rebooking.MessageConfig{
		ClinicName:    cfg.ClinicName,
		PublicBaseURL: cfg.PublicBaseURL,
		Location:      cfg.Location(),
	}

	a.Lifecycle = rebooking.NewLifecycle(a.Repo, cfg.SlotOfferTTL, logger)
	ranker := rebooking.NewRanker(a.Repo, cfg.Location())
	issuer := rebooking.NewIssuer(a.Repo, a.Gateway, cfg.InvitationTTL, msgCfg, a.Metrics, logger)
	a.Resolver = rebooking.NewResolver(a.Repo, a.Gateway, msgCfg, a.Metrics, logger)
	a.Dispatcher = rebooking.NewDispatcher(rebooking.DispatcherConfig{
		Repo:      a.Repo,
		Lifecycle: a.Lifecycle,
		Ranker:    ranker,
		Issuer:    issuer,
		Gateway:   a.Gateway,
		Locker:    locker,
		BatchSize: cfg.BatchSize,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	a.Sweeper = rebooking.NewSweeper(a.Repo, a.Lifecycle, a.Dispatcher, cfg.SweepGracePeriod, cfg.SweepLimit, a.Metrics, logger)

	return a, nil
}

// MetricsHandler serves the app registry
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("error closing redis", "error", err)
		}
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}
