package rebooking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/waitlist-rebooking/internal/metrics"
	"github.com/hackgods/waitlist-rebooking/internal/notify"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// Action is what the invitee chose
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionOptOut  Action = "opt_out"
)

var ErrInvalidAction = errors.New("action must be accept, decline or opt_out")

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAccept, ActionDecline, ActionOptOut:
		return a, nil
	default:
		return "", ErrInvalidAction
	}
}

// ResolveOutcome is the result of a successful response
type ResolveOutcome struct {
	Action     Action
	Invitation Invitation
	SlotOffer  *SlotOffer
	Booking    *Booking
	Message    string
}

// UserMessage is the plain-language explanation shown for a failed response
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvitationNotFound):
		return "We couldn't find this invitation. Please check the link."
	case errors.Is(err, ErrSlotAlreadyTaken):
		return "Sorry, someone else got this slot first. You're still on the waiting list."
	case errors.Is(err, ErrAlreadyResolved):
		return "You already responded to this invitation."
	case errors.Is(err, ErrInvitationExpired), errors.Is(err, ErrSlotOfferClosed):
		return "This offer is no longer available."
	case errors.Is(err, ErrInvalidAction):
		return "That response isn't recognised."
	default:
		return "Something went wrong. Please try again shortly."
	}
}

// Resolver applies an invitee's response. Acceptance goes through the
// repository's atomic claim so at most one invitation per slot offer wins.
type Resolver struct {
	repo    Repository
	gateway notify.Gateway
	msgCfg  MessageConfig
	events  *eventRecorder
	metrics *metrics.RebookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewResolver(repo Repository, gateway notify.Gateway, msgCfg MessageConfig, m *metrics.RebookingMetrics, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		repo:    repo,
		gateway: gateway,
		msgCfg:  msgCfg,
		events:  newEventRecorder(repo, logger),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context, token string, action Action) (*ResolveOutcome, error) {
	ctx, span := tracer.Start(ctx, "rebooking.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("action", string(action)))

	out, err := r.resolve(ctx, token, action)
	r.metrics.ObserveResolution(string(action), outcomeLabel(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (r *Resolver) resolve(ctx context.Context, token string, action Action) (*ResolveOutcome, error) {
	switch action {
	case ActionAccept, ActionDecline, ActionOptOut:
	default:
		return nil, ErrInvalidAction
	}
	if token == "" {
		return nil, ErrInvitationNotFound
	}

	inv, err := r.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if err := invitationConflict(*inv, now); err != nil {
		if errors.Is(err, ErrInvitationExpired) && inv.Status == InvitationPending {
			r.markExpired(ctx, inv, now)
		}
		return nil, err
	}

	switch action {
	case ActionAccept:
		return r.accept(ctx, inv, now)
	case ActionOptOut:
		return r.decline(ctx, inv, now, EntryDeclinedPermanently)
	default:
		return r.decline(ctx, inv, now, EntryWaiting)
	}
}

func (r *Resolver) accept(ctx context.Context, inv *Invitation, now time.Time) (*ResolveOutcome, error) {
	offer, err := r.repo.GetSlotOffer(ctx, inv.SlotOfferID)
	if err != nil {
		return nil, err
	}
	// fast path only; the claim below is the real check
	if offer.Terminal() {
		return nil, slotConflict(offer.Status)
	}

	entry, err := r.repo.GetWaitlistEntry(ctx, inv.EntryRef())
	if err != nil {
		return nil, fmt.Errorf("load waitlist entry: %w", err)
	}

	booking := Booking{
		ID:              uuid.New(),
		SlotOfferID:     offer.ID,
		WaitlistEntryID: entry.ID,
		EntryKind:       entry.Kind,
		PatientName:     entry.Name,
		Email:           entry.Email,
		Phone:           entry.Phone,
		StartsAt:        offer.StartsAt,
		Duration:        offer.Duration,
		Status:          BookingConfirmed,
	}

	start := time.Now()
	res, err := r.repo.ClaimSlotOffer(ctx, ClaimParams{
		SlotOfferID:  offer.ID,
		InvitationID: inv.ID,
		Entry:        entry.Ref(),
		Booking:      booking,
		Now:          now,
	})
	r.metrics.ObserveClaimLatency(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyTaken) || errors.Is(err, ErrSlotOfferClosed) || errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrInvitationExpired) {
			r.logger.Info("claim rejected", "invitation_id", inv.ID, "slot_offer_id", offer.ID, "reason", err)
			return nil, err
		}
		return nil, fmt.Errorf("claim slot offer: %w", err)
	}

	r.logger.Info("slot offer claimed",
		"slot_offer_id", offer.ID,
		"invitation_id", inv.ID,
		"waitlist_entry_id", entry.ID,
		"booking_id", res.Booking.ID,
		"cancelled_invitations", len(res.Cancelled),
	)
	r.events.record(ctx, &offer.ID, &inv.ID, EventSlotOfferClaimed, map[string]any{
		"booking_id":            res.Booking.ID.String(),
		"waitlist_entry_id":     entry.ID.String(),
		"entry_kind":            string(entry.Kind),
		"cancelled_invitations": len(res.Cancelled),
	})

	r.confirm(ctx, res.Booking, *entry)

	return &ResolveOutcome{
		Action:     ActionAccept,
		Invitation: res.Invitation,
		SlotOffer:  &res.SlotOffer,
		Booking:    &res.Booking,
		Message:    "You're booked! A confirmation is on its way.",
	}, nil
}

// confirm is best-effort: the booking stands whatever happens here
func (r *Resolver) confirm(ctx context.Context, booking Booking, entry WaitlistEntry) {
	ch, to := entry.PreferredChannel(r.gateway.Supports)
	msg := ConfirmationMessage(r.msgCfg, booking, ch, to)
	if _, err := r.gateway.Send(ctx, msg); err != nil {
		r.logger.Warn("failed to send booking confirmation", "booking_id", booking.ID, "channel", ch, "error", err)
	}
}

func (r *Resolver) decline(ctx context.Context, inv *Invitation, now time.Time, entryTo EntryStatus) (*ResolveOutcome, error) {
	resolved, err := r.repo.ResolveInvitation(ctx, inv.ID, InvitationDeclined, now, entryTo)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// lost a race with another response or the sweep
			return nil, r.currentConflict(ctx, inv.Token, now)
		}
		return nil, err
	}

	r.events.record(ctx, &resolved.SlotOfferID, &resolved.ID, EventInvitationDecline, map[string]any{
		"entry_status": string(entryTo),
	})

	action := ActionDecline
	msg := "Thanks for letting us know. You're still on the waiting list."
	if entryTo == EntryDeclinedPermanently {
		action = ActionOptOut
		msg = "You've been removed from the waiting list."
	}
	return &ResolveOutcome{Action: action, Invitation: *resolved, Message: msg}, nil
}

func (r *Resolver) markExpired(ctx context.Context, inv *Invitation, now time.Time) {
	if _, err := r.repo.ResolveInvitation(ctx, inv.ID, InvitationExpired, now, EntryWaiting); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			r.logger.Warn("failed to mark invitation expired", "invitation_id", inv.ID, "error", err)
		}
		return
	}
	r.events.record(ctx, &inv.SlotOfferID, &inv.ID, EventInvitationExpired, nil)
}

func (r *Resolver) currentConflict(ctx context.Context, token string, now time.Time) error {
	inv, err := r.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return err
	}
	if cErr := invitationConflict(*inv, now); cErr != nil {
		return cErr
	}
	return ErrAlreadyResolved
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotAlreadyTaken):
		return "slot_taken"
	case errors.Is(err, ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, ErrInvitationExpired), errors.Is(err, ErrSlotOfferClosed):
		return "expired"
	case errors.Is(err, ErrInvitationNotFound):
		return "not_found"
	default:
		return "error"
	}
}
