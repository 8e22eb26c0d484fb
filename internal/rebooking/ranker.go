package rebooking

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const DefaultBatchSize = 5

// Eligible reports whether entry can take the slot. Slot times are compared
// in loc, the clinic's wall clock.
func Eligible(entry WaitlistEntry, offer SlotOffer, now time.Time, loc *time.Location) bool {
	if entry.Status != EntryWaiting {
		return false
	}
	if !offer.StartsAt.After(now) {
		return false
	}

	switch entry.Kind {
	case KindRecall:
		return recallEligible(entry, offer)
	default:
		return preferenceEligible(entry, offer, loc)
	}
}

// recallEligible: the slot must come before the patient's current booking,
// and no earlier than MoveForwardDays before it (0 means any earlier slot).
func recallEligible(entry WaitlistEntry, offer SlotOffer) bool {
	if entry.CurrentAppointmentAt == nil {
		return false
	}
	current := *entry.CurrentAppointmentAt
	if !offer.StartsAt.Before(current) {
		return false
	}
	if entry.MoveForwardDays <= 0 {
		return true
	}
	earliest := current.AddDate(0, 0, -entry.MoveForwardDays)
	return !offer.StartsAt.Before(earliest)
}

func preferenceEligible(entry WaitlistEntry, offer SlotOffer, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	start := offer.StartsAt.In(loc)
	end := offer.EndsAt().In(loc)

	if len(entry.PreferredDays) > 0 {
		ok := false
		for _, d := range entry.PreferredDays {
			if d == start.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(entry.PreferredTimes) > 0 {
		startMin := start.Hour()*60 + start.Minute()
		endMin := startMin + int(end.Sub(start)/time.Minute)
		ok := false
		for _, w := range entry.PreferredTimes {
			// the whole appointment must sit inside the window
			if w.Contains(startMin) && endMin <= w.End {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// SortCandidates orders by priority descending then added-at ascending.
// Ties on both fall back to id so the order is total.
func SortCandidates(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// Ranker selects the candidates to invite for a freed slot
type Ranker struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

func NewRanker(repo Repository, loc *time.Location) *Ranker {
	if loc == nil {
		loc = time.UTC
	}
	return &Ranker{repo: repo, loc: loc, now: time.Now}
}

// Rank returns at most maxCandidates eligible entries in invitation order.
// An empty result is a valid outcome, not an error.
func (r *Ranker) Rank(ctx context.Context, offer SlotOffer, maxCandidates int) ([]WaitlistEntry, error) {
	if maxCandidates <= 0 {
		maxCandidates = DefaultBatchSize
	}

	entries, err := r.repo.ListWaitingEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}

	now := r.now()
	eligible := make([]WaitlistEntry, 0, len(entries))
	for _, e := range entries {
		if Eligible(e, offer, now, r.loc) {
			eligible = append(eligible, e)
		}
	}

	SortCandidates(eligible)
	if len(eligible) > maxCandidates {
		eligible = eligible[:maxCandidates]
	}
	return eligible, nil
}
