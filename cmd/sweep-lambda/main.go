// Command sweep-lambda runs one rebooking sweep per scheduled EventBridge
// invocation.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/hackgods/waitlist-rebooking/internal/app"
	"github.com/hackgods/waitlist-rebooking/internal/config"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// SweepRunner is the part of rebooking.Sweeper the handler calls
type SweepRunner interface {
	Run(ctx context.Context) (*rebooking.SweepSummary, error)
}

type Handler struct {
	Sweeper SweepRunner
	Logger  *logging.Logger
}

// Handle runs the sweep. Per-slot failures are part of the summary; only a
// failure of the sweep itself is returned so Lambda retries the invocation.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (*rebooking.SweepSummary, error) {
	logger := h.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("sweep invoked", "event_id", event.ID, "source", event.Source, "event_time", event.Time)

	summary, err := h.Sweeper.Run(ctx)
	if err != nil {
		logger.Error("sweep failed", "event_id", event.ID, "error", err)
		return nil, err
	}

	logger.Info("sweep complete",
		"event_id", event.ID,
		"untreated_slots_found", summary.UntreatedSlotsFound,
		"slots_processed", summary.SlotsProcessed,
		"errors_encountered", summary.ErrorsEncountered,
	)
	return summary, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("sweep lambda initializing (cold start)", "env", cfg.Env)

	// connections are reused across warm invocations
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	handler := &Handler{Sweeper: a.Sweeper, Logger: logger}
	lambda.Start(handler.Handle)
}
