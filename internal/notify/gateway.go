// Package notify is the outbound notification boundary. A Gateway attempts a
// single delivery of a rendered message and reports the provider message id
// or an error; it never retries on its own.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

// Channel is the delivery transport for a message
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is a rendered notification ready for delivery
type Message struct {
	Channel Channel
	To      string
	ToName  string
	Subject string
	Body    string // plain text, used for SMS and as email fallback
	HTML    string // optional email HTML body
}

// Sender delivers a message over one provider
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Gateway is what the rebooking flow depends on
type Gateway interface {
	Send(ctx context.Context, msg Message) (string, error)
	// Validate reports a *ConfigError when a channel is missing settings
	Validate() error
	// Supports reports whether messages on ch can be delivered
	Supports(ch Channel) bool
}

var ErrEmptyRecipient = errors.New("notify: recipient required")

// ConfigError describes missing provider settings. It is surfaced to callers
// instead of dropping sends.
type ConfigError struct {
	Channel  Channel
	Provider string
	Missing  []string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("notify: %s channel not configured", e.Channel)
	}
	return fmt.Sprintf("notify: %s provider %q not configured: missing %s", e.Channel, e.Provider, strings.Join(e.Missing, ", "))
}

// Router dispatches a message to the sender registered for its channel.
// Each sender sits behind its own circuit breaker.
type Router struct {
	senders  map[Channel]*BreakerSender
	problems []*ConfigError
	logger   *logging.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		senders: make(map[Channel]*BreakerSender),
		logger:  logger,
	}
}

// Register sets the sender for a channel
func (r *Router) Register(ch Channel, provider string, s Sender) {
	r.senders[ch] = NewBreakerSender(fmt.Sprintf("notify-%s-%s", ch, provider), s)
}

// RecordProblem keeps a configuration problem for Validate to report
func (r *Router) RecordProblem(p *ConfigError) {
	r.problems = append(r.problems, p)
}

// Channels lists channels with a registered sender
func (r *Router) Channels() []Channel {
	out := make([]Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supports reports whether ch has a sender
func (r *Router) Supports(ch Channel) bool {
	_, ok := r.senders[ch]
	return ok
}

func (r *Router) Validate() error {
	if len(r.problems) > 0 {
		return r.problems[0]
	}
	if len(r.senders) == 0 {
		return &ConfigError{Channel: ChannelEmail, Provider: "none", Missing: []string{"EMAIL_PROVIDER or SMS_PROVIDER"}}
	}
	return nil
}

func (r *Router) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrEmptyRecipient
	}
	s, ok := r.senders[msg.Channel]
	if !ok {
		return "", &ConfigError{Channel: msg.Channel}
	}
	id, err := s.Send(ctx, msg)
	if err != nil {
		r.logger.Warn("notify: send failed", "channel", msg.Channel, "to", msg.To, "error", err)
		return "", err
	}
	return id, nil
}

var _ Gateway = (*Router)(nil)

// BreakerSender wraps a Sender with a circuit breaker so a failing provider
// is not hammered while a batch keeps going
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker[string]
}

func NewBreakerSender(name string, next Sender) *BreakerSender {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// invalid input is the caller's fault, not the provider's
			return err == nil || errors.Is(err, ErrEmptyRecipient)
		},
	})
	return &BreakerSender{next: next, breaker: cb}
}

func (b *BreakerSender) Send(ctx context.Context, msg Message) (string, error) {
	return b.breaker.Execute(func() (string, error) {
		return b.next.Send(ctx, msg)
	})
}

// State exposes the breaker state for diagnostics
func (b *BreakerSender) State() gobreaker.State {
	return b.breaker.State()
}
