package rebooking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

const (
	EventSlotOfferOpened   = "SLOT_OFFER_OPENED"
	EventInvitationsIssued = "INVITATIONS_ISSUED"
	EventSlotOfferClaimed  = "SLOT_OFFER_CLAIMED"
	EventSlotOfferExpired  = "SLOT_OFFER_EXPIRED"
	EventInvitationDecline = "INVITATION_DECLINED"
	EventInvitationExpired = "INVITATION_EXPIRED"
)

var ErrAlreadyProcessed = errors.New("slot offer already processed")

// slotTransitions is the slot offer state machine. claimed and expired are terminal.
// pending -> pending is the re-entry taken when a later batch is recorded.
var slotTransitions = map[SlotOfferStatus][]SlotOfferStatus{
	SlotAvailable: {SlotPending, SlotClaimed, SlotExpired},
	SlotPending:   {SlotPending, SlotClaimed, SlotExpired},
}

// CanTransition reports whether a slot offer may move from -> to
func CanTransition(from, to SlotOfferStatus) bool {
	for _, allowed := range slotTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OpenParams describes a freed slot
type OpenParams struct {
	AppointmentID uuid.UUID
	StartsAt      time.Time
	Duration      time.Duration
}

// Lifecycle owns the state of slot offers from creation to claim or expiry
type Lifecycle struct {
	repo     Repository
	offerTTL time.Duration
	events   *eventRecorder
	logger   *logging.Logger
	now      func() time.Time
}

func NewLifecycle(repo Repository, offerTTL time.Duration, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{
		repo:     repo,
		offerTTL: offerTTL,
		events:   newEventRecorder(repo, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Open creates the slot offer for a cancelled appointment. Opening the same
// appointment twice returns the existing offer with created=false.
func (l *Lifecycle) Open(ctx context.Context, p OpenParams) (*SlotOffer, bool, error) {
	if p.AppointmentID == uuid.Nil {
		return nil, false, fmt.Errorf("open slot offer: appointment id required")
	}
	if p.Duration <= 0 {
		return nil, false, fmt.Errorf("open slot offer: duration must be positive")
	}

	now := l.now().UTC()
	if !p.StartsAt.After(now) {
		return nil, false, fmt.Errorf("open slot offer: slot start %s is in the past", p.StartsAt.Format(time.RFC3339))
	}

	expiresAt := now.Add(l.offerTTL)
	if p.StartsAt.Before(expiresAt) {
		expiresAt = p.StartsAt
	}

	offer, created, err := l.repo.CreateSlotOffer(ctx, SlotOffer{
		ID:            uuid.New(),
		AppointmentID: p.AppointmentID,
		StartsAt:      p.StartsAt.UTC(),
		Duration:      p.Duration,
		Status:        SlotAvailable,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create slot offer: %w", err)
	}

	if created {
		l.events.record(ctx, &offer.ID, nil, EventSlotOfferOpened, map[string]any{
			"appointment_id": p.AppointmentID.String(),
			"starts_at":      offer.StartsAt,
			"expires_at":     offer.ExpiresAt,
		})
	}
	return offer, created, nil
}

// Guard refuses to (re)invite for an offer that is claimed, expired or that
// already has a recorded invitation batch.
func (l *Lifecycle) Guard(offer *SlotOffer) error {
	switch {
	case offer.Terminal():
		return ErrAlreadyProcessed
	case offer.Status == SlotPending && offer.InvitationCount > 0:
		return ErrAlreadyProcessed
	case !l.now().Before(offer.ExpiresAt):
		return ErrSlotOfferClosed
	}
	return nil
}

// MarkPending records an issued batch on the offer
func (l *Lifecycle) MarkPending(ctx context.Context, id uuid.UUID, issued int) (*SlotOffer, error) {
	offer, err := l.repo.RecordInvitationBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("record invitation batch: %w", err)
	}
	l.events.record(ctx, &offer.ID, nil, EventInvitationsIssued, map[string]any{
		"issued":           issued,
		"invitation_count": offer.InvitationCount,
	})
	return offer, nil
}

// Expire closes an unclaimed offer and every pending invitation on it
func (l *Lifecycle) Expire(ctx context.Context, id uuid.UUID) (*SlotOffer, error) {
	offer, expired, err := l.repo.ExpireSlotOffer(ctx, id, l.now().UTC())
	if err != nil {
		return nil, err
	}
	l.events.record(ctx, &offer.ID, nil, EventSlotOfferExpired, map[string]any{
		"invitations_expired": len(expired),
	})
	return offer, nil
}

// ExpireDue expires every offer whose window has closed. Offers that were
// claimed or expired concurrently are skipped.
func (l *Lifecycle) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := l.repo.FindExpiredSlotOffers(ctx, l.now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("find expired slot offers: %w", err)
	}

	n := 0
	for _, offer := range due {
		if _, err := l.Expire(ctx, offer.ID); err != nil {
			if errors.Is(err, ErrSlotAlreadyTaken) || errors.Is(err, ErrSlotOfferClosed) {
				continue
			}
			l.logger.Error("failed to expire slot offer", "slot_offer_id", offer.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
