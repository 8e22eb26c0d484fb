package rebooking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// eventRecorder writes best-effort audit events; failures are logged only
type eventRecorder struct {
	repo   Repository
	logger *logging.Logger
}

func newEventRecorder(repo Repository, logger *logging.Logger) *eventRecorder {
	return &eventRecorder{repo: repo, logger: logger}
}

func (e *eventRecorder) record(ctx context.Context, slotOfferID, invitationID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	ev := EventLog{
		EventType:    eventType,
		SlotOfferID:  slotOfferID,
		InvitationID: invitationID,
		Payload:      data,
		CreatedAt:    time.Now().UTC(),
	}

	if err := e.repo.InsertEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to insert event log", "event_type", eventType, "slot_offer_id", slotOfferID, "error", err)
	}
}
