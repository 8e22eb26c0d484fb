package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/waitlist-rebooking/internal/app"
	"github.com/hackgods/waitlist-rebooking/internal/config"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("sweep-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval.String())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Sweeper, cfg.WorkerInterval, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Sweeper, cfg.WorkerInterval, logger)
		}
	}
}

func runOnce(ctx context.Context, sweeper *rebooking.Sweeper, budget time.Duration, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	summary, err := sweeper.Run(runCtx)
	if err != nil {
		logger.Error("sweep run error", "error", err)
		return
	}
	logger.Info("sweep run complete",
		"duration", time.Since(start).String(),
		"untreated_slots_found", summary.UntreatedSlotsFound,
		"slots_processed", summary.SlotsProcessed,
		"errors_encountered", summary.ErrorsEncountered,
		"invitations_expired", summary.InvitationsExpired,
		"slot_offers_expired", summary.SlotOffersExpired,
	)
}
