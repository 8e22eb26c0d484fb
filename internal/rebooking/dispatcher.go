package rebooking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/waitlist-rebooking/internal/metrics"
	"github.com/hackgods/waitlist-rebooking/internal/notify"
	redisclient "github.com/hackgods/waitlist-rebooking/internal/redis"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

var tracer = otel.Tracer("waitlist-rebooking.rebooking")

// Trigger names what invoked the dispatcher
type Trigger string

const (
	TriggerDirect   Trigger = "direct"
	TriggerSweep    Trigger = "sweep"
	TriggerListener Trigger = "listener"
)

type DispatchStatus string

const (
	DispatchProcessed        DispatchStatus = "processed"
	DispatchNoCandidates     DispatchStatus = "no_candidates"
	DispatchAlreadyProcessed DispatchStatus = "already_processed"
	DispatchInProgress       DispatchStatus = "in_progress"
	DispatchFailed           DispatchStatus = "failed"
)

// DispatchOutcome reports what one ProcessSlot call did
type DispatchOutcome struct {
	SlotOfferID     uuid.UUID
	Status          DispatchStatus
	SlotOffer       *SlotOffer
	Invitations     []IssuedInvitation
	InvitationsSent int
	RetryCount      int
}

// Dispatcher is the single entry point for processing a freed slot. It is
// safe to call repeatedly and from several triggers at once.
type Dispatcher struct {
	repo      Repository
	lifecycle *Lifecycle
	ranker    *Ranker
	issuer    *Issuer
	gateway   notify.Gateway
	locker    redisclient.Locker
	batchSize int
	metrics   *metrics.RebookingMetrics
	logger    *logging.Logger
}

type DispatcherConfig struct {
	Repo      Repository
	Lifecycle *Lifecycle
	Ranker    *Ranker
	Issuer    *Issuer
	Gateway   notify.Gateway
	Locker    redisclient.Locker
	BatchSize int
	Metrics   *metrics.RebookingMetrics
	Logger    *logging.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Locker == nil {
		cfg.Locker = redisclient.NoopLocker{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Dispatcher{
		repo:      cfg.Repo,
		lifecycle: cfg.Lifecycle,
		ranker:    cfg.Ranker,
		issuer:    cfg.Issuer,
		gateway:   cfg.Gateway,
		locker:    cfg.Locker,
		batchSize: cfg.BatchSize,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// ProcessSlot ranks and invites candidates for a slot offer exactly once.
// Repeated calls after a recorded batch return DispatchAlreadyProcessed.
// Failures leave the offer available and are returned so the caller or the
// sweep can retry.
func (d *Dispatcher) ProcessSlot(ctx context.Context, id uuid.UUID, trigger Trigger) (*DispatchOutcome, error) {
	ctx, span := tracer.Start(ctx, "rebooking.process_slot")
	defer span.End()
	span.SetAttributes(
		attribute.String("slot_offer.id", id.String()),
		attribute.String("trigger", string(trigger)),
	)

	log := d.logger.With("slot_offer_id", id, "trigger", trigger)

	offer, err := d.repo.GetSlotOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if out, done := d.guard(offer, trigger); done {
		log.Info("slot offer already processed", "status", offer.Status, "invitation_count", offer.InvitationCount)
		return out, nil
	}

	if err := d.gateway.Validate(); err != nil {
		log.Error("notification gateway misconfigured", "error", err)
		d.recordAttempt(ctx, id, trigger, DispatchFailed, 0, 0, err)
		span.SetStatus(codes.Error, "gateway misconfigured")
		return nil, err
	}

	var outcome *DispatchOutcome
	err = d.locker.WithSlotOfferLock(ctx, id, func(ctx context.Context) error {
		var err error
		outcome, err = d.process(ctx, id, trigger, log)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		log.Info("slot offer is being processed elsewhere")
		d.metrics.ObserveDispatch(string(trigger), string(DispatchInProgress))
		return &DispatchOutcome{SlotOfferID: id, Status: DispatchInProgress, SlotOffer: offer}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process slot failed")
		return outcome, err
	}

	span.SetAttributes(attribute.Int("invitations.sent", outcome.InvitationsSent))
	return outcome, nil
}

func (d *Dispatcher) guard(offer *SlotOffer, trigger Trigger) (*DispatchOutcome, bool) {
	if err := d.lifecycle.Guard(offer); err != nil {
		d.metrics.ObserveDispatch(string(trigger), string(DispatchAlreadyProcessed))
		return &DispatchOutcome{
			SlotOfferID:     offer.ID,
			Status:          DispatchAlreadyProcessed,
			SlotOffer:       offer,
			InvitationsSent: 0,
		}, true
	}
	return nil, false
}

// process runs under the slot offer lock. The offer is re-read because a
// concurrent holder may have finished just before the lock was taken.
func (d *Dispatcher) process(ctx context.Context, id uuid.UUID, trigger Trigger, log *logging.Logger) (*DispatchOutcome, error) {
	offer, err := d.repo.GetSlotOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if out, done := d.guard(offer, trigger); done {
		return out, nil
	}

	retries, err := d.repo.CountFailedAttempts(ctx, id)
	if err != nil {
		log.Warn("failed to count previous attempts", "error", err)
	}
	out := &DispatchOutcome{SlotOfferID: id, SlotOffer: offer, RetryCount: retries}

	// a previous attempt may have issued the batch and failed before the
	// offer recorded it
	if n, err := d.existingInvitations(ctx, id); err != nil {
		return d.fail(ctx, out, trigger, log, err)
	} else if n > 0 {
		log.Warn("slot offer has unrecorded invitations, recording batch", "invitations", n)
		return d.recordBatch(ctx, out, trigger, log, n)
	}

	candidates, err := d.ranker.Rank(ctx, *offer, d.batchSize)
	if err != nil {
		return d.fail(ctx, out, trigger, log, fmt.Errorf("rank candidates: %w", err))
	}

	if len(candidates) == 0 {
		log.Info("no eligible candidates for slot offer")
		out.Status = DispatchNoCandidates
		d.recordAttempt(ctx, id, trigger, DispatchNoCandidates, retries, 0, nil)
		return out, nil
	}

	issued, err := d.issuer.Issue(ctx, *offer, candidates)
	if err != nil {
		return d.fail(ctx, out, trigger, log, err)
	}
	if len(issued) == 0 {
		if n, err := d.existingInvitations(ctx, id); err != nil {
			return d.fail(ctx, out, trigger, log, err)
		} else if n > 0 {
			return d.recordBatch(ctx, out, trigger, log, n)
		}
		// every candidate was claimed by another offer between rank and issue
		out.Status = DispatchNoCandidates
		d.recordAttempt(ctx, id, trigger, DispatchNoCandidates, retries, 0, nil)
		return out, nil
	}

	out.Invitations = issued
	out.InvitationsSent = len(issued)
	return d.recordBatch(ctx, out, trigger, log, len(issued))
}

func (d *Dispatcher) existingInvitations(ctx context.Context, id uuid.UUID) (int, error) {
	invs, err := d.repo.ListInvitationsBySlotOffer(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("list invitations: %w", err)
	}
	return len(invs), nil
}

// recordBatch moves the offer to pending once invitations exist. The write
// is detached from ctx: the notifications are already out.
func (d *Dispatcher) recordBatch(ctx context.Context, out *DispatchOutcome, trigger Trigger, log *logging.Logger, batch int) (*DispatchOutcome, error) {
	updated, err := d.lifecycle.MarkPending(context.WithoutCancel(ctx), out.SlotOfferID, batch)
	if err != nil {
		return d.fail(ctx, out, trigger, log, err)
	}

	out.Status = DispatchProcessed
	out.SlotOffer = updated
	d.recordAttempt(ctx, out.SlotOfferID, trigger, DispatchProcessed, out.RetryCount, out.InvitationsSent, nil)

	log.Info("slot offer processed", "invitations_sent", out.InvitationsSent, "invitation_count", updated.InvitationCount, "retry_count", out.RetryCount)
	return out, nil
}

func (d *Dispatcher) fail(ctx context.Context, out *DispatchOutcome, trigger Trigger, log *logging.Logger, err error) (*DispatchOutcome, error) {
	out.Status = DispatchFailed
	out.RetryCount++
	log.Error("slot offer processing failed", "retry_count", out.RetryCount, "error", err)
	d.recordAttempt(ctx, out.SlotOfferID, trigger, DispatchFailed, out.RetryCount, len(out.Invitations), err)
	return out, fmt.Errorf("process slot offer %s: %w", out.SlotOfferID, err)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, id uuid.UUID, trigger Trigger, status DispatchStatus, retries, sent int, cause error) {
	d.metrics.ObserveDispatch(string(trigger), string(status))

	pl := ProcessingLog{
		SlotOfferID:     id,
		Trigger:         trigger,
		Outcome:         status,
		RetryCount:      retries,
		InvitationsSent: sent,
		CreatedAt:       time.Now().UTC(),
	}
	if cause != nil {
		pl.Error = cause.Error()
	}

	// the log write must not be cancelled with the request
	if err := d.repo.InsertProcessingLog(context.WithoutCancel(ctx), pl); err != nil {
		d.logger.Warn("failed to insert processing log", "slot_offer_id", id, "error", err)
	}
}
