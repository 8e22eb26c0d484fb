package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

var twilioTracer = otel.Tracer("waitlist-rebooking.notify.twilio")

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewTwilioSender(accountSID, authToken, from string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Send makes one delivery attempt.
func (s *TwilioSender) Send(ctx context.Context, msg Message) (string, error) {
	if s.accountSID == "" || s.authToken == "" {
		return "", errors.New("notify: twilio credentials missing")
	}
	if msg.To == "" {
		return "", ErrEmptyRecipient
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", errors.New("notify: sms body required")
	}

	ctx, span := twilioTracer.Start(ctx, "notify.twilio.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("notify.to", msg.To))

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", s.from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("notify: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", fmt.Errorf("notify: twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out twilioMessageResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, "twilio error status")
		s.logger.Error("twilio returned error status", "status", resp.StatusCode, "code", out.Code, "message", out.Message, "to", msg.To)
		return "", fmt.Errorf("notify: twilio returned status %d: %s", resp.StatusCode, out.Message)
	}

	s.logger.Info("sms sent via twilio", "to", msg.To, "sid", out.SID, "status", out.Status)
	return out.SID, nil
}

var _ Sender = (*TwilioSender)(nil)
