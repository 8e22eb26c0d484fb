package rebooking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/internal/notify"
)

type SlotOfferStatus string

const (
	SlotAvailable SlotOfferStatus = "available"
	SlotPending   SlotOfferStatus = "pending"
	SlotClaimed   SlotOfferStatus = "claimed"
	SlotExpired   SlotOfferStatus = "expired"
)

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

type EntryStatus string

const (
	EntryWaiting             EntryStatus = "waiting"
	EntryInvited             EntryStatus = "invited"
	EntryScheduled           EntryStatus = "scheduled"
	EntryDeclinedPermanently EntryStatus = "declined_permanently"
)

// EntryKind tags which waitlist source a WaitlistEntry was adapted from
type EntryKind string

const (
	KindNewClient EntryKind = "new_client"
	KindRecall    EntryKind = "recall"
)

type BookingStatus string

const BookingConfirmed BookingStatus = "confirmed"

// SlotOffer is one freed appointment slot offered for rebooking
type SlotOffer struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	StartsAt        time.Time
	Duration        time.Duration
	Status          SlotOfferStatus
	InvitationCount int
	ClaimedBy       *uuid.UUID
	ClaimedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (s SlotOffer) EndsAt() time.Time {
	return s.StartsAt.Add(s.Duration)
}

// Terminal reports whether no further transitions are allowed
func (s SlotOffer) Terminal() bool {
	return s.Status == SlotClaimed || s.Status == SlotExpired
}

// TimeWindow is a time-of-day range in minutes after midnight, end exclusive
type TimeWindow struct {
	Start int
	End   int
}

func (w TimeWindow) Contains(minute int) bool {
	return minute >= w.Start && minute < w.End
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// ParseTimeWindow parses "HH:MM-HH:MM"
func ParseTimeWindow(s string) (TimeWindow, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(s, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return TimeWindow{}, fmt.Errorf("parse time window %q: %w", s, err)
	}
	w := TimeWindow{Start: sh*60 + sm, End: eh*60 + em}
	if sh > 24 || eh > 24 || sm > 59 || em > 59 || w.Start < 0 || w.End > 24*60 || w.Start >= w.End {
		return TimeWindow{}, fmt.Errorf("parse time window %q: invalid range", s)
	}
	return w, nil
}

// WaitlistEntry is a person waiting for a slot. New-client and recall rows
// are adapted into this shape at the repository boundary.
type WaitlistEntry struct {
	ID       uuid.UUID
	Kind     EntryKind
	Name     string
	Email    string
	Phone    string
	Priority int
	AddedAt  time.Time
	Status   EntryStatus

	// new-client preferences; empty means any
	PreferredDays  []time.Weekday
	PreferredTimes []TimeWindow

	// recall constraints
	CurrentAppointmentAt *time.Time
	MoveForwardDays      int
}

// EntryRef identifies a waitlist entry across both source tables
type EntryRef struct {
	Kind EntryKind
	ID   uuid.UUID
}

func (e WaitlistEntry) Ref() EntryRef {
	return EntryRef{Kind: e.Kind, ID: e.ID}
}

// ContactFor returns the entry's address on ch
func (e WaitlistEntry) ContactFor(ch notify.Channel) string {
	if ch == notify.ChannelEmail {
		return e.Email
	}
	return e.Phone
}

// PreferredChannel picks email over SMS among the channels supports accepts.
// When no channel with a contact is supported the first contact is returned
// and the send reports the configuration error.
func (e WaitlistEntry) PreferredChannel(supports func(notify.Channel) bool) (notify.Channel, string) {
	var fallback notify.Channel
	for _, ch := range []notify.Channel{notify.ChannelEmail, notify.ChannelSMS} {
		to := e.ContactFor(ch)
		if to == "" {
			continue
		}
		if supports == nil || supports(ch) {
			return ch, to
		}
		if fallback == "" {
			fallback = ch
		}
	}
	if fallback == "" {
		fallback = notify.ChannelSMS
	}
	return fallback, e.ContactFor(fallback)
}

type Invitation struct {
	ID                uuid.UUID
	Token             string
	SlotOfferID       uuid.UUID
	WaitlistEntryID   uuid.UUID
	EntryKind         EntryKind
	Status            InvitationStatus
	Channel           notify.Channel
	ExpiresAt         time.Time
	RespondedAt       *time.Time
	NotificationID    string
	NotificationError string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (i Invitation) EntryRef() EntryRef {
	return EntryRef{Kind: i.EntryKind, ID: i.WaitlistEntryID}
}

// Booking is the appointment created by a winning acceptance
type Booking struct {
	ID              uuid.UUID
	SlotOfferID     uuid.UUID
	WaitlistEntryID uuid.UUID
	EntryKind       EntryKind
	PatientName     string
	Email           string
	Phone           string
	StartsAt        time.Time
	Duration        time.Duration
	Status          BookingStatus
	CreatedAt       time.Time
}

// ProcessingLog is one dispatcher attempt for a slot offer
type ProcessingLog struct {
	ID              int64
	SlotOfferID     uuid.UUID
	Trigger         Trigger
	Outcome         DispatchStatus
	RetryCount      int
	InvitationsSent int
	Error           string
	CreatedAt       time.Time
}

// ProcessingStats aggregates processing logs over a period
type ProcessingStats struct {
	Attempts         int64 `json:"attempts"`
	Processed        int64 `json:"processed"`
	NoCandidates     int64 `json:"no_candidates"`
	AlreadyProcessed int64 `json:"already_processed"`
	Failed           int64 `json:"failed"`
	InvitationsSent  int64 `json:"invitations_sent"`
}

type EventLog struct {
	ID           int64
	EventType    string
	SlotOfferID  *uuid.UUID
	InvitationID *uuid.UUID
	Payload      []byte
	CreatedAt    time.Time
}
