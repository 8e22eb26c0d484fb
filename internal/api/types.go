package api

import (
	"time"

	"github.com/google/uuid"
)

// ProcessSlotRequest triggers the dispatcher. Without slot_offer_id the
// offer is opened first from appointment_id and slot_datetime.
type ProcessSlotRequest struct {
	SlotOfferID     string     `json:"slot_offer_id"`
	AppointmentID   string     `json:"appointment_id" validate:"required_without=SlotOfferID"`
	SlotDatetime    *time.Time `json:"slot_datetime" validate:"required_without=SlotOfferID"`
	DurationMinutes int        `json:"duration_minutes" validate:"omitempty,min=5,max=480"`
}

type InvitationSummary struct {
	Candidate string `json:"candidate"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Channel   string `json:"channel"`
	Token     string `json:"token"`
	Delivered bool   `json:"delivered"`
}

type ProcessSlotResponse struct {
	Success         bool                `json:"success"`
	SlotOfferID     uuid.UUID           `json:"slot_offer_id"`
	Status          string              `json:"status"`
	InvitationsSent int                 `json:"invitations_sent"`
	Invitations     []InvitationSummary `json:"invitations"`
	Timestamp       time.Time           `json:"timestamp"`
}

type RespondRequest struct {
	Token  string `json:"token" validate:"required"`
	Action string `json:"action" validate:"required"`
}

type AppointmentDetails struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Duration string `json:"duration"`
}

type RespondResponse struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Appointment *AppointmentDetails `json:"appointment,omitempty"`
}

type CreateSlotOfferRequest struct {
	AppointmentID   string     `json:"appointment_id" validate:"required"`
	SlotDatetime    *time.Time `json:"slot_datetime" validate:"required"`
	DurationMinutes int        `json:"duration_minutes" validate:"required,min=5,max=480"`
}

type InvitationResponse struct {
	ID              uuid.UUID  `json:"id"`
	WaitlistEntryID uuid.UUID  `json:"waitlist_entry_id"`
	EntryKind       string     `json:"entry_kind"`
	Status          string     `json:"status"`
	Channel         string     `json:"channel"`
	ExpiresAt       time.Time  `json:"expires_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	DeliveryError   string     `json:"delivery_error,omitempty"`
}

type SlotOfferResponse struct {
	ID              uuid.UUID            `json:"id"`
	AppointmentID   uuid.UUID            `json:"appointment_id"`
	StartsAt        time.Time            `json:"starts_at"`
	DurationMinutes int                  `json:"duration_minutes"`
	Status          string               `json:"status"`
	InvitationCount int                  `json:"invitation_count"`
	ClaimedBy       *uuid.UUID           `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time           `json:"claimed_at,omitempty"`
	ExpiresAt       time.Time            `json:"expires_at"`
	CreatedAt       time.Time            `json:"created_at"`
	Invitations     []InvitationResponse `json:"invitations,omitempty"`
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Type      string    `json:"type"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
