package rebooking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/waitlist-rebooking/internal/metrics"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// SweepConcurrencyLimit bounds parallel slot processing in one sweep run
const SweepConcurrencyLimit = 4

const statsWindow = 7 * 24 * time.Hour

// SweepSummary is the result of one sweep run
type SweepSummary struct {
	UntreatedSlotsFound int             `json:"untreated_slots_found"`
	SlotsProcessed      int             `json:"slots_processed"`
	ErrorsEncountered   int             `json:"errors_encountered"`
	InvitationsExpired  int             `json:"invitations_expired"`
	SlotOffersExpired   int             `json:"slot_offers_expired"`
	StatsLast7Days      ProcessingStats `json:"stats_last_7_days"`
}

// Sweeper is the scheduled safety net: it closes what has run out of time
// and re-triggers the dispatcher for slots nobody processed.
type Sweeper struct {
	repo        Repository
	lifecycle   *Lifecycle
	dispatcher  *Dispatcher
	gracePeriod time.Duration
	limit       int
	events      *eventRecorder
	metrics     *metrics.RebookingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

func NewSweeper(repo Repository, lifecycle *Lifecycle, dispatcher *Dispatcher, gracePeriod time.Duration, limit int, m *metrics.RebookingMetrics, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if limit <= 0 {
		limit = 50
	}
	return &Sweeper{
		repo:        repo,
		lifecycle:   lifecycle,
		dispatcher:  dispatcher,
		gracePeriod: gracePeriod,
		limit:       limit,
		events:      newEventRecorder(repo, logger),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) (*SweepSummary, error) {
	summary := &SweepSummary{}

	expired, err := s.expireInvitations(ctx)
	if err != nil {
		return nil, err
	}
	summary.InvitationsExpired = expired
	s.metrics.ObserveSweep("invitation_expired", expired)

	offers, err := s.lifecycle.ExpireDue(ctx, s.limit)
	if err != nil {
		return nil, err
	}
	summary.SlotOffersExpired = offers
	s.metrics.ObserveSweep("slot_offer_expired", offers)

	now := s.now().UTC()
	untreated, err := s.repo.FindUntreatedSlotOffers(ctx, now.Add(-s.gracePeriod), now, s.limit)
	if err != nil {
		return nil, fmt.Errorf("find untreated slot offers: %w", err)
	}
	summary.UntreatedSlotsFound = len(untreated)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(SweepConcurrencyLimit)

	for _, offer := range untreated {
		g.Go(func() error {
			out, err := s.dispatcher.ProcessSlot(gCtx, offer.ID, TriggerSweep)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// one failed slot must not stop the others
				summary.ErrorsEncountered++
				s.logger.Error("sweep failed to process slot offer", "slot_offer_id", offer.ID, "error", err)
				return nil
			}
			if out.Status == DispatchProcessed || out.Status == DispatchNoCandidates {
				summary.SlotsProcessed++
			}
			return nil
		})
	}
	_ = g.Wait()
	s.metrics.ObserveSweep("slot_processed", summary.SlotsProcessed)

	stats, err := s.repo.ProcessingStatsSince(ctx, now.Add(-statsWindow))
	if err != nil {
		s.logger.Warn("failed to load processing stats", "error", err)
	} else {
		summary.StatsLast7Days = stats
	}

	s.logger.Info("sweep completed",
		"untreated_slots_found", summary.UntreatedSlotsFound,
		"slots_processed", summary.SlotsProcessed,
		"errors_encountered", summary.ErrorsEncountered,
		"invitations_expired", summary.InvitationsExpired,
		"slot_offers_expired", summary.SlotOffersExpired,
	)
	return summary, nil
}

// expireInvitations moves overdue pending invitations to expired and
// releases their entries
func (s *Sweeper) expireInvitations(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.FindExpiredPendingInvitations(ctx, now, s.limit)
	if err != nil {
		return 0, fmt.Errorf("find expired invitations: %w", err)
	}

	n := 0
	for _, inv := range due {
		if _, err := s.repo.ResolveInvitation(ctx, inv.ID, InvitationExpired, now, EntryWaiting); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				s.logger.Error("failed to expire invitation", "invitation_id", inv.ID, "error", err)
			}
			continue
		}
		s.events.record(ctx, &inv.SlotOfferID, &inv.ID, EventInvitationExpired, nil)
		n++
	}
	return n, nil
}
