package notify

import (
	"context"
	"fmt"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

const (
	ProviderSendGrid = "sendgrid"
	ProviderSES      = "ses"
	ProviderTwilio   = "twilio"
	ProviderStub     = "stub"
	ProviderNone     = "none"
)

// BuildConfig carries the provider selection and credentials
type BuildConfig struct {
	EmailProvider    string
	SendGridAPIKey   string
	EmailFrom        string
	EmailFromName    string
	AWSRegion        string
	SMSProvider      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// Build assembles a Router from configuration. Missing credentials do not
// fail here; they are recorded and reported by Router.Validate so the
// dispatcher can return a diagnostic instead of silently skipping sends.
func Build(ctx context.Context, cfg BuildConfig, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	r := NewRouter(logger)

	switch cfg.EmailProvider {
	case ProviderSendGrid:
		if missing := missingKeys(map[string]string{"SENDGRID_API_KEY": cfg.SendGridAPIKey, "EMAIL_FROM": cfg.EmailFrom}); len(missing) > 0 {
			r.RecordProblem(&ConfigError{Channel: ChannelEmail, Provider: ProviderSendGrid, Missing: missing})
			break
		}
		r.Register(ChannelEmail, ProviderSendGrid, NewSendGridSender(SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger))
	case ProviderSES:
		if missing := missingKeys(map[string]string{"EMAIL_FROM": cfg.EmailFrom, "AWS_REGION": cfg.AWSRegion}); len(missing) > 0 {
			r.RecordProblem(&ConfigError{Channel: ChannelEmail, Provider: ProviderSES, Missing: missing})
			break
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Error("notify: load aws config", "error", err)
			r.RecordProblem(&ConfigError{Channel: ChannelEmail, Provider: ProviderSES, Missing: []string{fmt.Sprintf("aws credentials (%v)", err)}})
			break
		}
		r.Register(ChannelEmail, ProviderSES, NewSESSender(sesv2.NewFromConfig(awsCfg), SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger))
	case ProviderStub:
		r.Register(ChannelEmail, ProviderStub, NewStubSender(ChannelEmail, logger))
	}

	switch cfg.SMSProvider {
	case ProviderTwilio:
		if missing := missingKeys(map[string]string{
			"TWILIO_ACCOUNT_SID": cfg.TwilioAccountSID,
			"TWILIO_AUTH_TOKEN":  cfg.TwilioAuthToken,
			"TWILIO_FROM_NUMBER": cfg.TwilioFromNumber,
		}); len(missing) > 0 {
			r.RecordProblem(&ConfigError{Channel: ChannelSMS, Provider: ProviderTwilio, Missing: missing})
			break
		}
		r.Register(ChannelSMS, ProviderTwilio, NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger))
	case ProviderStub:
		r.Register(ChannelSMS, ProviderStub, NewStubSender(ChannelSMS, logger))
	}

	return r
}

func missingKeys(values map[string]string) []string {
	var missing []string
	for _, k := range sortedKeys(values) {
		if values[k] == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
