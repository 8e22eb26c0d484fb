package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// StubSender logs instead of delivering. Used in dev and when a channel is stubbed.
type StubSender struct {
	channel Channel
	logger  *logging.Logger
}

func NewStubSender(ch Channel, logger *logging.Logger) *StubSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSender{channel: ch, logger: logger}
}

func (s *StubSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrEmptyRecipient
	}
	id := "stub-" + uuid.NewString()
	s.logger.Info("stub sender: would send", "channel", s.channel, "to", msg.To, "subject", msg.Subject, "message_id", id)
	return id, nil
}

var _ Sender = (*StubSender)(nil)
