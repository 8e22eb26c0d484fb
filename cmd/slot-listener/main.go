// Command slot-listener subscribes to slot offer inserts through Postgres
// LISTEN/NOTIFY and hands each new offer to the dispatcher.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/internal/app"
	"github.com/hackgods/waitlist-rebooking/internal/config"
	"github.com/hackgods/waitlist-rebooking/internal/db"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

const reconnectDelay = 5 * time.Second

// SlotProcessor is the part of rebooking.Dispatcher the listener calls
type SlotProcessor interface {
	ProcessSlot(ctx context.Context, id uuid.UUID, trigger rebooking.Trigger) (*rebooking.DispatchOutcome, error)
}

// onSlotOfferCreated dispatches the slot offer named by a notification payload
func onSlotOfferCreated(p SlotProcessor, logger *logging.Logger) func(context.Context, db.Notification) error {
	return func(ctx context.Context, n db.Notification) error {
		id, err := uuid.Parse(n.Payload)
		if err != nil {
			return fmt.Errorf("notification payload %q: %w", n.Payload, err)
		}

		out, err := p.ProcessSlot(ctx, id, rebooking.TriggerListener)
		if err != nil {
			// the sweep picks the slot up again after its grace period
			return fmt.Errorf("process slot offer %s: %w", id, err)
		}
		logger.Info("slot offer dispatched",
			"slot_offer_id", id,
			"status", out.Status,
			"invitations_sent", out.InvitationsSent,
		)
		return nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.UsesMemoryStore() {
		log.Fatal("slot-listener requires STORE_DRIVER=postgres")
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("slot-listener starting up", "env", cfg.Env, "channel", cfg.ListenChannel)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return
	}
	defer a.Close()

	handle := onSlotOfferCreated(a.Dispatcher, logger)
	onErr := func(err error) {
		logger.Error("slot offer notification failed", "error", err)
	}

	for {
		err := db.Listen(rootCtx, a.PgPool, cfg.ListenChannel, handle, onErr)
		if rootCtx.Err() != nil {
			logger.Info("shutdown signal received, stopping slot listener")
			return
		}
		logger.Error("listen connection lost, reconnecting", "error", err, "delay", reconnectDelay.String())

		select {
		case <-rootCtx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
