package rebooking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory behind one mutex. It
// gives the same conditional-write guarantees as PgRepository within a single
// process and backs STORE_DRIVER=memory and the tests.
type MemoryRepository struct {
	mu            sync.Mutex
	offers        map[uuid.UUID]*SlotOffer
	byAppointment map[uuid.UUID]uuid.UUID
	entries       map[EntryRef]*WaitlistEntry
	invitations   map[uuid.UUID]*Invitation
	tokens        map[string]uuid.UUID
	bookings      []Booking
	logs          []ProcessingLog
	events        []EventLog
	nextID        int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		offers:        make(map[uuid.UUID]*SlotOffer),
		byAppointment: make(map[uuid.UUID]uuid.UUID),
		entries:       make(map[EntryRef]*WaitlistEntry),
		invitations:   make(map[uuid.UUID]*Invitation),
		tokens:        make(map[string]uuid.UUID),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// AddWaitlistEntry seeds an entry; a zero ID is replaced with a new one
func (m *MemoryRepository) AddWaitlistEntry(e WaitlistEntry) WaitlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Kind == "" {
		e.Kind = KindNewClient
	}
	if e.Status == "" {
		e.Status = EntryWaiting
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	stored := e
	m.entries[e.Ref()] = &stored
	return e
}

func (m *MemoryRepository) Bookings() []Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Booking(nil), m.bookings...)
}

func (m *MemoryRepository) ProcessingLogs() []ProcessingLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProcessingLog(nil), m.logs...)
}

func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.events...)
}

// Slot offers

func (m *MemoryRepository) CreateSlotOffer(_ context.Context, offer SlotOffer) (*SlotOffer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byAppointment[offer.AppointmentID]; ok {
		existing := *m.offers[id]
		return &existing, false, nil
	}

	offer.Status = SlotAvailable
	offer.InvitationCount = 0
	stored := offer
	m.offers[offer.ID] = &stored
	m.byAppointment[offer.AppointmentID] = offer.ID
	return &offer, true, nil
}

func (m *MemoryRepository) GetSlotOffer(_ context.Context, id uuid.UUID) (*SlotOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.offers[id]
	if !ok {
		return nil, ErrSlotOfferNotFound
	}
	out := *s
	return &out, nil
}

// openOffer returns the offer when it is still available or pending
func (m *MemoryRepository) openOffer(id uuid.UUID) (*SlotOffer, error) {
	s, ok := m.offers[id]
	if !ok {
		return nil, ErrSlotOfferNotFound
	}
	if s.Terminal() {
		return nil, slotConflict(s.Status)
	}
	return s, nil
}

func (m *MemoryRepository) RecordInvitationBatch(_ context.Context, id uuid.UUID) (*SlotOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.openOffer(id)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, inv := range m.invitations {
		if inv.SlotOfferID == id {
			count++
		}
	}
	s.Status = SlotPending
	s.InvitationCount = count
	s.UpdatedAt = time.Now().UTC()

	out := *s
	return &out, nil
}

func (m *MemoryRepository) ClaimSlotOffer(_ context.Context, p ClaimParams) (*ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.openOffer(p.SlotOfferID)
	if err != nil {
		return nil, err
	}

	inv, ok := m.invitations[p.InvitationID]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	if inv.Status != InvitationPending || inv.ExpiresAt.Before(p.Now) {
		if cErr := invitationConflict(*inv, p.Now); cErr != nil {
			return nil, cErr
		}
		return nil, ErrInvalidTransition
	}

	// all checks passed; apply every write together
	claimedBy := p.Entry.ID
	claimedAt := p.Now
	s.Status = SlotClaimed
	s.ClaimedBy = &claimedBy
	s.ClaimedAt = &claimedAt
	s.UpdatedAt = p.Now

	respondedAt := p.Now
	inv.Status = InvitationAccepted
	inv.RespondedAt = &respondedAt
	inv.UpdatedAt = p.Now

	b := p.Booking
	b.Status = BookingConfirmed
	b.CreatedAt = p.Now
	m.bookings = append(m.bookings, b)

	var cancelled []Invitation
	for _, sib := range m.invitations {
		if sib.SlotOfferID != p.SlotOfferID || sib.ID == p.InvitationID || sib.Status != InvitationPending {
			continue
		}
		sib.Status = InvitationCancelled
		sib.UpdatedAt = p.Now
		cancelled = append(cancelled, *sib)
	}
	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i].CreatedAt.Before(cancelled[j].CreatedAt) })

	if e, ok := m.entries[p.Entry]; ok && (e.Status == EntryWaiting || e.Status == EntryInvited) {
		e.Status = EntryScheduled
	}
	m.releaseEntries(cancelled)

	return &ClaimResult{
		SlotOffer:  *s,
		Invitation: *inv,
		Booking:    b,
		Cancelled:  cancelled,
	}, nil
}

func (m *MemoryRepository) releaseEntries(invs []Invitation) {
	for _, inv := range invs {
		if e, ok := m.entries[inv.EntryRef()]; ok && e.Status == EntryInvited {
			e.Status = EntryWaiting
		}
	}
}

func (m *MemoryRepository) ExpireSlotOffer(_ context.Context, id uuid.UUID, now time.Time) (*SlotOffer, []Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.openOffer(id)
	if err != nil {
		return nil, nil, err
	}
	s.Status = SlotExpired
	s.UpdatedAt = now

	var expired []Invitation
	for _, inv := range m.invitations {
		if inv.SlotOfferID == id && inv.Status == InvitationPending {
			inv.Status = InvitationExpired
			inv.UpdatedAt = now
			expired = append(expired, *inv)
		}
	}
	m.releaseEntries(expired)

	out := *s
	return &out, expired, nil
}

func (m *MemoryRepository) FindUntreatedSlotOffers(_ context.Context, createdBefore, now time.Time, limit int) ([]SlotOffer, error) {
	return m.findOffers(limit, func(s *SlotOffer) bool {
		return s.Status == SlotAvailable && s.InvitationCount == 0 &&
			s.CreatedAt.Before(createdBefore) && s.ExpiresAt.After(now)
	}, func(a, b SlotOffer) bool { return a.CreatedAt.Before(b.CreatedAt) })
}

func (m *MemoryRepository) FindExpiredSlotOffers(_ context.Context, now time.Time, limit int) ([]SlotOffer, error) {
	return m.findOffers(limit, func(s *SlotOffer) bool {
		return !s.Terminal() && !s.ExpiresAt.After(now)
	}, func(a, b SlotOffer) bool { return a.ExpiresAt.Before(b.ExpiresAt) })
}

func (m *MemoryRepository) findOffers(limit int, match func(*SlotOffer) bool, less func(a, b SlotOffer) bool) ([]SlotOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SlotOffer
	for _, s := range m.offers {
		if match(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Waitlist

func (m *MemoryRepository) ListWaitingEntries(_ context.Context) ([]WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	busy := make(map[EntryRef]bool)
	for _, inv := range m.invitations {
		if inv.Status == InvitationPending {
			busy[inv.EntryRef()] = true
		}
	}

	var out []WaitlistEntry
	for ref, e := range m.entries {
		if e.Status == EntryWaiting && !busy[ref] {
			out = append(out, *e)
		}
	}
	SortCandidates(out)
	return out, nil
}

func (m *MemoryRepository) GetWaitlistEntry(_ context.Context, ref EntryRef) (*WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[ref]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	out := *e
	return &out, nil
}

func (m *MemoryRepository) UpdateEntryStatus(_ context.Context, ref EntryRef, from, to EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[ref]
	if !ok {
		return ErrWaitlistEntryNotFound
	}
	if e.Status != from {
		return ErrEntryUnavailable
	}
	e.Status = to
	return nil
}

// Invitations

func (m *MemoryRepository) CreateInvitation(_ context.Context, inv Invitation) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[inv.Token]; ok {
		return nil, ErrDuplicateInvitation
	}
	for _, existing := range m.invitations {
		sameEntry := existing.EntryRef() == inv.EntryRef()
		if sameEntry && existing.SlotOfferID == inv.SlotOfferID {
			return nil, ErrDuplicateInvitation
		}
		if sameEntry && existing.Status == InvitationPending {
			return nil, ErrDuplicateInvitation
		}
	}

	inv.Status = InvitationPending
	stored := inv
	m.invitations[inv.ID] = &stored
	m.tokens[inv.Token] = inv.ID
	return &inv, nil
}

func (m *MemoryRepository) GetInvitationByToken(_ context.Context, token string) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.tokens[token]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	out := *m.invitations[id]
	return &out, nil
}

func (m *MemoryRepository) ListInvitationsBySlotOffer(_ context.Context, slotOfferID uuid.UUID) ([]Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Invitation
	for _, inv := range m.invitations {
		if inv.SlotOfferID == slotOfferID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) RecordDelivery(_ context.Context, id uuid.UUID, notificationID, deliveryErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[id]
	if !ok {
		return ErrInvitationNotFound
	}
	inv.NotificationID = notificationID
	inv.NotificationError = deliveryErr
	return nil
}

func (m *MemoryRepository) ResolveInvitation(_ context.Context, id uuid.UUID, to InvitationStatus, at time.Time, entryTo EntryStatus) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invitations[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	if inv.Status != InvitationPending {
		return nil, ErrInvalidTransition
	}

	inv.Status = to
	inv.UpdatedAt = at
	if to == InvitationDeclined {
		respondedAt := at
		inv.RespondedAt = &respondedAt
	}

	if entryTo != "" {
		if e, ok := m.entries[inv.EntryRef()]; ok && e.Status == EntryInvited {
			e.Status = entryTo
		}
	}

	out := *inv
	return &out, nil
}

func (m *MemoryRepository) FindExpiredPendingInvitations(_ context.Context, now time.Time, limit int) ([]Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Invitation
	for _, inv := range m.invitations {
		if inv.Status == InvitationPending && inv.ExpiresAt.Before(now) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Processing log

func (m *MemoryRepository) InsertProcessingLog(_ context.Context, pl ProcessingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	pl.ID = m.nextID
	if pl.CreatedAt.IsZero() {
		pl.CreatedAt = time.Now().UTC()
	}
	m.logs = append(m.logs, pl)
	return nil
}

func (m *MemoryRepository) CountFailedAttempts(_ context.Context, slotOfferID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, pl := range m.logs {
		if pl.SlotOfferID == slotOfferID && pl.Outcome == DispatchFailed {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ProcessingStatsSince(_ context.Context, since time.Time) (ProcessingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s ProcessingStats
	for _, pl := range m.logs {
		if pl.CreatedAt.Before(since) {
			continue
		}
		s.Attempts++
		s.InvitationsSent += int64(pl.InvitationsSent)
		switch pl.Outcome {
		case DispatchProcessed:
			s.Processed++
		case DispatchNoCandidates:
			s.NoCandidates++
		case DispatchAlreadyProcessed:
			s.AlreadyProcessed++
		case DispatchFailed:
			s.Failed++
		}
	}
	return s, nil
}

// Event logging

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	ev.ID = m.nextID
	m.events = append(m.events, ev)
	return nil
}
