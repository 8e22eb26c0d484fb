package rebooking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/internal/metrics"
	"github.com/hackgods/waitlist-rebooking/internal/notify"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

const DefaultInvitationTTL = 24 * time.Hour

// IssuedInvitation pairs a persisted invitation with the entry it was sent to
type IssuedInvitation struct {
	Invitation Invitation
	Entry      WaitlistEntry
	Delivered  bool
}

// Issuer creates invitations for a ranked batch and sends them out
type Issuer struct {
	repo    Repository
	gateway notify.Gateway
	ttl     time.Duration
	msgCfg  MessageConfig
	metrics *metrics.RebookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewIssuer(repo Repository, gateway notify.Gateway, ttl time.Duration, msgCfg MessageConfig, m *metrics.RebookingMetrics, logger *logging.Logger) *Issuer {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &Issuer{
		repo:    repo,
		gateway: gateway,
		ttl:     ttl,
		msgCfg:  msgCfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// expiresAt caps the response window at the offer's own expiry
func (i *Issuer) expiresAt(offer SlotOffer, now time.Time) time.Time {
	exp := now.Add(i.ttl)
	if offer.ExpiresAt.Before(exp) {
		exp = offer.ExpiresAt
	}
	return exp
}

// Issue persists a pending invitation per candidate, in order, and sends each
// one. A failed send is recorded on the invitation and the batch moves on.
// Candidates that were invited elsewhere in the meantime are skipped.
func (i *Issuer) Issue(ctx context.Context, offer SlotOffer, candidates []WaitlistEntry) ([]IssuedInvitation, error) {
	var (
		issued  []IssuedInvitation
		lastErr error
	)

	for _, entry := range candidates {
		inv, err := i.persist(ctx, offer, entry)
		if err != nil {
			if errors.Is(err, ErrEntryUnavailable) || errors.Is(err, ErrDuplicateInvitation) {
				i.logger.Info("skipping candidate", "slot_offer_id", offer.ID, "entry_id", entry.ID, "reason", err)
				continue
			}
			i.logger.Error("failed to persist invitation", "slot_offer_id", offer.ID, "entry_id", entry.ID, "error", err)
			lastErr = err
			continue
		}

		delivered := i.deliver(ctx, offer, entry, inv)
		issued = append(issued, IssuedInvitation{Invitation: *inv, Entry: entry, Delivered: delivered})
	}

	if len(issued) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("issue invitations: %w", lastErr)
		}
		return nil, nil
	}

	ids := make([]string, 0, len(issued))
	for _, is := range issued {
		ids = append(ids, is.Invitation.ID.String())
	}
	i.logger.Info("invitations issued", "slot_offer_id", offer.ID, "count", len(issued), "invitation_ids", ids)

	return issued, nil
}

// persist moves the entry waiting -> invited and then inserts the invitation.
// The entry is put back if the insert fails.
func (i *Issuer) persist(ctx context.Context, offer SlotOffer, entry WaitlistEntry) (*Invitation, error) {
	token, err := NewResponseToken()
	if err != nil {
		return nil, err
	}

	ref := entry.Ref()
	if err := i.repo.UpdateEntryStatus(ctx, ref, EntryWaiting, EntryInvited); err != nil {
		return nil, err
	}

	now := i.now().UTC()
	ch, _ := entry.PreferredChannel(i.gateway.Supports)
	inv, err := i.repo.CreateInvitation(ctx, Invitation{
		ID:              uuid.New(),
		Token:           token,
		SlotOfferID:     offer.ID,
		WaitlistEntryID: entry.ID,
		EntryKind:       entry.Kind,
		Status:          InvitationPending,
		Channel:         ch,
		ExpiresAt:       i.expiresAt(offer, now),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		if rbErr := i.repo.UpdateEntryStatus(ctx, ref, EntryInvited, EntryWaiting); rbErr != nil {
			i.logger.Warn("failed to release entry after invitation error", "entry_id", entry.ID, "error", rbErr)
		}
		return nil, err
	}
	return inv, nil
}

func (i *Issuer) deliver(ctx context.Context, offer SlotOffer, entry WaitlistEntry, inv *Invitation) bool {
	msg := InvitationMessage(i.msgCfg, offer, entry, *inv, i.now())

	id, sendErr := i.gateway.Send(ctx, msg)
	delivered := sendErr == nil
	i.metrics.ObserveInvitation(string(inv.Channel), delivered)

	errText := ""
	if sendErr != nil {
		errText = sendErr.Error()
		i.logger.Error("failed to send invitation",
			"slot_offer_id", offer.ID,
			"invitation_id", inv.ID,
			"channel", inv.Channel,
			"error", sendErr,
		)
	}

	if err := i.repo.RecordDelivery(ctx, inv.ID, id, errText); err != nil {
		i.logger.Warn("failed to record delivery", "invitation_id", inv.ID, "error", err)
	}
	inv.NotificationID = id
	inv.NotificationError = errText
	return delivered
}
