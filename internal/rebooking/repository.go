package rebooking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotOfferNotFound     = errors.New("slot offer not found")
	ErrInvitationNotFound    = errors.New("invitation not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")
	ErrDuplicateInvitation   = errors.New("invitation already exists for this slot offer and entry")
	ErrEntryUnavailable      = errors.New("waitlist entry is not waiting")

	ErrSlotAlreadyTaken  = errors.New("slot already taken")
	ErrSlotOfferClosed   = errors.New("slot offer is no longer open")
	ErrAlreadyResolved   = errors.New("invitation already resolved")
	ErrInvitationExpired = errors.New("invitation expired")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// invitationConflict maps an invitation that can no longer be resolved to
// its error. It returns nil for a pending invitation inside its window.
func invitationConflict(inv Invitation, now time.Time) error {
	switch inv.Status {
	case InvitationPending:
		if now.After(inv.ExpiresAt) {
			return ErrInvitationExpired
		}
		return nil
	case InvitationCancelled:
		// only a sibling's win cancels an invitation
		return ErrSlotAlreadyTaken
	case InvitationExpired:
		return ErrInvitationExpired
	default:
		return ErrAlreadyResolved
	}
}

// slotConflict maps a slot offer status that refuses a claim to its error
func slotConflict(status SlotOfferStatus) error {
	switch status {
	case SlotClaimed:
		return ErrSlotAlreadyTaken
	case SlotExpired:
		return ErrSlotOfferClosed
	default:
		return ErrInvalidTransition
	}
}

// ClaimParams is everything the atomic claim needs to write
type ClaimParams struct {
	SlotOfferID  uuid.UUID
	InvitationID uuid.UUID
	Entry        EntryRef
	Booking      Booking
	Now          time.Time
}

// ClaimResult is the committed state after a winning claim
type ClaimResult struct {
	SlotOffer  SlotOffer
	Invitation Invitation
	Booking    Booking
	Cancelled  []Invitation
}

// Repository is the persistence boundary of the rebooking flow. Every write
// to a status column is conditional on the expected current status.
type Repository interface {
	// Slot offers
	CreateSlotOffer(ctx context.Context, offer SlotOffer) (*SlotOffer, bool, error)
	GetSlotOffer(ctx context.Context, id uuid.UUID) (*SlotOffer, error)
	// RecordInvitationBatch moves available|pending -> pending and recounts invitations
	RecordInvitationBatch(ctx context.Context, id uuid.UUID) (*SlotOffer, error)
	// ClaimSlotOffer performs the single atomic claim transaction
	ClaimSlotOffer(ctx context.Context, p ClaimParams) (*ClaimResult, error)
	// ExpireSlotOffer moves available|pending -> expired and expires pending invitations
	ExpireSlotOffer(ctx context.Context, id uuid.UUID, now time.Time) (*SlotOffer, []Invitation, error)
	FindUntreatedSlotOffers(ctx context.Context, createdBefore, now time.Time, limit int) ([]SlotOffer, error)
	FindExpiredSlotOffers(ctx context.Context, now time.Time, limit int) ([]SlotOffer, error)

	// Waitlist
	// ListWaitingEntries returns waiting entries from both sources that hold no pending invitation
	ListWaitingEntries(ctx context.Context) ([]WaitlistEntry, error)
	GetWaitlistEntry(ctx context.Context, ref EntryRef) (*WaitlistEntry, error)
	UpdateEntryStatus(ctx context.Context, ref EntryRef, from, to EntryStatus) error

	// Invitations
	CreateInvitation(ctx context.Context, inv Invitation) (*Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	ListInvitationsBySlotOffer(ctx context.Context, slotOfferID uuid.UUID) ([]Invitation, error)
	RecordDelivery(ctx context.Context, id uuid.UUID, notificationID, deliveryErr string) error
	// ResolveInvitation moves pending -> to and sets the entry status when entryTo is non-empty
	ResolveInvitation(ctx context.Context, id uuid.UUID, to InvitationStatus, at time.Time, entryTo EntryStatus) (*Invitation, error)
	FindExpiredPendingInvitations(ctx context.Context, now time.Time, limit int) ([]Invitation, error)

	// Processing log
	InsertProcessingLog(ctx context.Context, pl ProcessingLog) error
	CountFailedAttempts(ctx context.Context, slotOfferID uuid.UUID) (int, error)
	ProcessingStatsSince(ctx context.Context, since time.Time) (ProcessingStats, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
