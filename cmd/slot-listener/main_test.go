package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/waitlist-rebooking/internal/db"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

type fakeProcessor struct {
	ids      []uuid.UUID
	triggers []rebooking.Trigger
	err      error
}

func (f *fakeProcessor) ProcessSlot(_ context.Context, id uuid.UUID, trigger rebooking.Trigger) (*rebooking.DispatchOutcome, error) {
	f.ids = append(f.ids, id)
	f.triggers = append(f.triggers, trigger)
	if f.err != nil {
		return nil, f.err
	}
	return &rebooking.DispatchOutcome{SlotOfferID: id, Status: rebooking.DispatchProcessed, InvitationsSent: 2}, nil
}

func TestOnSlotOfferCreatedDispatches(t *testing.T) {
	p := &fakeProcessor{}
	handle := onSlotOfferCreated(p, logging.NewWithWriter(io.Discard, "error"))
	id := uuid.New()

	err := handle(context.Background(), db.Notification{Channel: "slot_offer_created", Payload: id.String()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, p.ids)
	assert.Equal(t, []rebooking.Trigger{rebooking.TriggerListener}, p.triggers)
}

func TestOnSlotOfferCreatedRejectsBadPayload(t *testing.T) {
	p := &fakeProcessor{}
	handle := onSlotOfferCreated(p, logging.NewWithWriter(io.Discard, "error"))

	err := handle(context.Background(), db.Notification{Payload: "not-a-uuid"})
	assert.Error(t, err)
	assert.Empty(t, p.ids)
}

func TestOnSlotOfferCreatedWrapsDispatchError(t *testing.T) {
	boom := errors.New("redis down")
	handle := onSlotOfferCreated(&fakeProcessor{err: boom}, logging.NewWithWriter(io.Discard, "error"))

	err := handle(context.Background(), db.Notification{Payload: uuid.NewString()})
	assert.ErrorIs(t, err, boom)
}
