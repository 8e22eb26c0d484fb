package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/internal/notify"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	redisclient "github.com/hackgods/waitlist-rebooking/internal/redis"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// DefaultSlotDuration applies when a trigger opens an offer without a duration
const DefaultSlotDuration = 60 * time.Minute

type handlers struct {
	repo       rebooking.Repository
	lifecycle  *rebooking.Lifecycle
	dispatcher *rebooking.Dispatcher
	resolver   *rebooking.Resolver
	sweeper    *rebooking.Sweeper
	location   *time.Location
	validate   *validator.Validate
	logger     *logging.Logger
	now        func() time.Time
}

func (h *handlers) processSlot(w http.ResponseWriter, r *http.Request) {
	var req ProcessSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON", "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "slot_offer_id or appointment_id and slot_datetime are required", err.Error())
		return
	}

	id, ok := h.resolveSlotOfferID(w, r, req)
	if !ok {
		return
	}

	out, err := h.dispatcher.ProcessSlot(r.Context(), id, rebooking.TriggerDirect)
	if err != nil {
		log := h.logger.With("slot_offer_id", id, "request_id", GetRequestID(r.Context()))
		if out != nil {
			log = log.With("retry_count", out.RetryCount)
		}
		log.Error("process slot failed", "error", err)
		h.writeDomainError(w, err, out)
		return
	}
	if out.Status == rebooking.DispatchInProgress {
		writeError(w, http.StatusConflict, "in_progress", "This slot is being processed right now. Please retry shortly.", "")
		return
	}

	resp := ProcessSlotResponse{
		Success:         true,
		SlotOfferID:     out.SlotOfferID,
		Status:          string(out.Status),
		InvitationsSent: out.InvitationsSent,
		Invitations:     make([]InvitationSummary, 0, len(out.Invitations)),
		Timestamp:       h.now().UTC(),
	}
	for _, is := range out.Invitations {
		resp.Invitations = append(resp.Invitations, InvitationSummary{
			Candidate: is.Entry.Name,
			Email:     is.Entry.Email,
			Phone:     is.Entry.Phone,
			Channel:   string(is.Invitation.Channel),
			Token:     is.Invitation.Token,
			Delivered: is.Delivered,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// resolveSlotOfferID returns the requested offer id, opening the offer first
// when only the cancelled appointment is given
func (h *handlers) resolveSlotOfferID(w http.ResponseWriter, r *http.Request, req ProcessSlotRequest) (uuid.UUID, bool) {
	if req.SlotOfferID != "" {
		id, err := uuid.Parse(req.SlotOfferID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_offer_id", "slot_offer_id must be a valid UUID", "")
			return uuid.Nil, false
		}
		return id, true
	}

	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID", "")
		return uuid.Nil, false
	}

	duration := DefaultSlotDuration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	offer, _, err := h.lifecycle.Open(r.Context(), rebooking.OpenParams{
		AppointmentID: appointmentID,
		StartsAt:      *req.SlotDatetime,
		Duration:      duration,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot", "The slot could not be opened for rebooking.", err.Error())
		return uuid.Nil, false
	}
	return offer.ID, true
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Token = q.Get("token")
		req.Action = q.Get("action")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON", "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "token and action are required", err.Error())
		return
	}

	action, err := rebooking.ParseAction(req.Action)
	if err != nil {
		h.writeDomainError(w, err, nil)
		return
	}

	out, err := h.resolver.Resolve(r.Context(), req.Token, action)
	if err != nil {
		h.writeDomainError(w, err, nil)
		return
	}

	resp := RespondResponse{Success: true, Message: out.Message}
	if out.Booking != nil {
		start := out.Booking.StartsAt.In(h.location)
		resp.Appointment = &AppointmentDetails{
			Date:     start.Format("Monday, January 2, 2006"),
			Time:     start.Format("3:04 PM"),
			Duration: fmt.Sprintf("%d minutes", int(out.Booking.Duration/time.Minute)),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type SweepResponse struct {
	Success bool `json:"success"`
	*rebooking.SweepSummary
	Timestamp time.Time `json:"timestamp"`
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.Error("sweep failed", "error", err, "request_id", GetRequestID(r.Context()))
		h.writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Success: true, SweepSummary: summary, Timestamp: h.now().UTC()})
}

func (h *handlers) createSlotOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON", "")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "appointment_id, slot_datetime and duration_minutes are required", err.Error())
		return
	}

	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID", "")
		return
	}

	offer, created, err := h.lifecycle.Open(r.Context(), rebooking.OpenParams{
		AppointmentID: appointmentID,
		StartsAt:      *req.SlotDatetime,
		Duration:      time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot", "The slot could not be opened for rebooking.", err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toSlotOfferResponse(*offer, nil))
}

func (h *handlers) getSlotOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_offer_id", "id must be a valid UUID", "")
		return
	}

	offer, err := h.repo.GetSlotOffer(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, nil)
		return
	}
	invs, err := h.repo.ListInvitationsBySlotOffer(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, toSlotOfferResponse(*offer, invs))
}

func toSlotOfferResponse(o rebooking.SlotOffer, invs []rebooking.Invitation) SlotOfferResponse {
	resp := SlotOfferResponse{
		ID:              o.ID,
		AppointmentID:   o.AppointmentID,
		StartsAt:        o.StartsAt,
		DurationMinutes: int(o.Duration / time.Minute),
		Status:          string(o.Status),
		InvitationCount: o.InvitationCount,
		ClaimedBy:       o.ClaimedBy,
		ClaimedAt:       o.ClaimedAt,
		ExpiresAt:       o.ExpiresAt,
		CreatedAt:       o.CreatedAt,
	}
	for _, inv := range invs {
		resp.Invitations = append(resp.Invitations, InvitationResponse{
			ID:              inv.ID,
			WaitlistEntryID: inv.WaitlistEntryID,
			EntryKind:       string(inv.EntryKind),
			Status:          string(inv.Status),
			Channel:         string(inv.Channel),
			ExpiresAt:       inv.ExpiresAt,
			RespondedAt:     inv.RespondedAt,
			DeliveryError:   inv.NotificationError,
		})
	}
	return resp
}

// writeDomainError maps rebooking and notify errors onto status codes. The
// error field always carries a message fit for the person who clicked.
func (h *handlers) writeDomainError(w http.ResponseWriter, err error, out *rebooking.DispatchOutcome) {
	var cfgErr *notify.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusInternalServerError, "configuration_error",
			"Notifications are not configured, so no invitations were sent.",
			fmt.Sprintf("%s provider %q missing: %s", cfgErr.Channel, cfgErr.Provider, strings.Join(cfgErr.Missing, ", ")))
	case errors.Is(err, rebooking.ErrSlotOfferNotFound):
		writeError(w, http.StatusNotFound, "slot_offer_not_found", "We couldn't find this slot.", "")
	case errors.Is(err, rebooking.ErrInvitationNotFound):
		writeError(w, http.StatusNotFound, "invitation_not_found", rebooking.UserMessage(err), "")
	case errors.Is(err, rebooking.ErrWaitlistEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", "We couldn't find your waiting list entry.", "")
	case errors.Is(err, rebooking.ErrSlotAlreadyTaken):
		writeError(w, http.StatusConflict, "slot_already_taken", rebooking.UserMessage(err), "")
	case errors.Is(err, rebooking.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", rebooking.UserMessage(err), "")
	case errors.Is(err, rebooking.ErrInvitationExpired):
		writeError(w, http.StatusGone, "invitation_expired", rebooking.UserMessage(err), "")
	case errors.Is(err, rebooking.ErrSlotOfferClosed):
		writeError(w, http.StatusGone, "slot_offer_closed", rebooking.UserMessage(err), "")
	case errors.Is(err, rebooking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", "This request no longer applies to the slot.", err.Error())
	case errors.Is(err, rebooking.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "invalid_action", rebooking.UserMessage(err), err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "in_progress", "This slot is being processed right now. Please retry shortly.", "")
	default:
		details := err.Error()
		if out != nil {
			details = fmt.Sprintf("%s (retry_count=%d)", details, out.RetryCount)
		}
		writeError(w, http.StatusInternalServerError, "internal_error", rebooking.UserMessage(err), details)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, errType, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Type:      errType,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}
