package rebooking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/waitlist-rebooking/internal/notify"
)

func TestIssueContinuesAfterSendFailure(t *testing.T) {
	f := newFlow(t)
	people := seedScenario(f)
	offer := openScenarioSlot(t, f)
	ctx := context.Background()
	f.gateway.failFor["alice@example.com"] = errors.New("mailbox unavailable")

	candidates, err := f.ranker.Rank(ctx, *offer, 5)
	require.NoError(t, err)

	issued, err := f.issuer.Issue(ctx, *offer, candidates)
	require.NoError(t, err)
	require.Len(t, issued, 3)

	assert.False(t, issued[0].Delivered)
	assert.True(t, issued[1].Delivered)
	assert.True(t, issued[2].Delivered)

	invs := invitationsByEntry(t, f.mem, offer.ID)
	require.Len(t, invs, 3)
	alice := invs[people.Alice.ID]
	assert.Equal(t, InvitationPending, alice.Status, "a failed send keeps the invitation")
	assert.Equal(t, "mailbox unavailable", alice.NotificationError)
	assert.Equal(t, "msg-1", invs[people.Carol.ID].NotificationID)

	assert.Len(t, f.gateway.Sent(), 2)
}

func TestIssueSetsTokensAndExpiry(t *testing.T) {
	f := newFlow(t)
	seedScenario(f)
	offer := openScenarioSlot(t, f)
	ctx := context.Background()

	candidates, err := f.ranker.Rank(ctx, *offer, 5)
	require.NoError(t, err)
	issued, err := f.issuer.Issue(ctx, *offer, candidates)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, is := range issued {
		inv := is.Invitation
		assert.Len(t, inv.Token, 43, "32 random bytes, base64url without padding")
		assert.False(t, seen[inv.Token])
		seen[inv.Token] = true
		assert.Equal(t, scenarioNow.Add(24*time.Hour), inv.ExpiresAt)
		assert.Equal(t, EntryInvited, entryStatus(t, f.mem, is.Entry))
	}
}

func TestIssueCapsExpiryAtOfferExpiry(t *testing.T) {
	f := newFlow(t)
	seedScenario(f)
	ctx := context.Background()
	offer, _, err := f.lifecycle.Open(ctx, OpenParams{AppointmentID: uuid.New(), StartsAt: scenarioNow.Add(3 * time.Hour), Duration: 30 * time.Minute})
	require.NoError(t, err)

	candidates, err := f.ranker.Rank(ctx, *offer, 5)
	require.NoError(t, err)
	issued, err := f.issuer.Issue(ctx, *offer, candidates)
	require.NoError(t, err)
	require.NotEmpty(t, issued)

	for _, is := range issued {
		assert.Equal(t, offer.ExpiresAt, is.Invitation.ExpiresAt)
	}
}

func TestIssueSkipsEntriesInvitedElsewhere(t *testing.T) {
	f := newFlow(t)
	people := seedScenario(f)
	offer := openScenarioSlot(t, f)
	ctx := context.Background()

	candidates, err := f.ranker.Rank(ctx, *offer, 5)
	require.NoError(t, err)

	// Carol was picked up by another offer between ranking and issuing
	require.NoError(t, f.mem.UpdateEntryStatus(ctx, people.Carol.Ref(), EntryWaiting, EntryInvited))

	issued, err := f.issuer.Issue(ctx, *offer, candidates)
	require.NoError(t, err)
	require.Len(t, issued, 2)
	assert.Equal(t, people.Alice.ID, issued[0].Entry.ID)
	assert.Equal(t, people.Bob.ID, issued[1].Entry.ID)
}

func TestIssueUsesConfiguredChannel(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	both := f.mem.AddWaitlistEntry(WaitlistEntry{Name: "Erin Park", Email: "erin@example.com", Phone: "+15550111", Priority: 3})
	offer := openScenarioSlot(t, f)

	gateway := notify.Build(ctx, notify.BuildConfig{EmailProvider: notify.ProviderNone, SMSProvider: notify.ProviderStub}, nil)
	require.NoError(t, gateway.Validate())
	issuer := NewIssuer(f.mem, gateway, 24*time.Hour, MessageConfig{ClinicName: "Lakeside Clinic"}, nil, nil)
	issuer.now = f.now

	issued, err := issuer.Issue(ctx, *offer, []WaitlistEntry{both})
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, notify.ChannelSMS, issued[0].Invitation.Channel)
	assert.True(t, issued[0].Delivered)
	assert.Empty(t, issued[0].Invitation.NotificationError)
}

func TestPreferredChannel(t *testing.T) {
	both := WaitlistEntry{Email: "erin@example.com", Phone: "+15550111"}
	smsOnly := func(ch notify.Channel) bool { return ch == notify.ChannelSMS }
	none := func(notify.Channel) bool { return false }

	ch, to := both.PreferredChannel(nil)
	assert.Equal(t, notify.ChannelEmail, ch)
	assert.Equal(t, "erin@example.com", to)

	ch, to = both.PreferredChannel(smsOnly)
	assert.Equal(t, notify.ChannelSMS, ch)
	assert.Equal(t, "+15550111", to)

	ch, to = WaitlistEntry{Email: "erin@example.com"}.PreferredChannel(smsOnly)
	assert.Equal(t, notify.ChannelEmail, ch, "falls back to the only contact")
	assert.Equal(t, "erin@example.com", to)

	ch, _ = both.PreferredChannel(none)
	assert.Equal(t, notify.ChannelEmail, ch)
}

func TestInvitationMessageContent(t *testing.T) {
	cfg := MessageConfig{ClinicName: "Lakeside Clinic", PublicBaseURL: "https://book.example.com/", Location: time.UTC}
	offer := scenarioOffer()
	inv := Invitation{Token: "tok123", Channel: notify.ChannelEmail, ExpiresAt: scenarioNow.Add(24 * time.Hour)}
	entry := WaitlistEntry{Name: "Alice Martin", Email: "alice@example.com"}

	msg := InvitationMessage(cfg, offer, entry, inv, scenarioNow)
	assert.Equal(t, notify.ChannelEmail, msg.Channel)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Monday, November 3")
	assert.Contains(t, msg.Body, "Hi Alice")
	assert.Contains(t, msg.Body, "10:00 AM")
	assert.Contains(t, msg.Body, "30 minute")
	assert.Contains(t, msg.Body, "https://book.example.com/invitations/respond?action=accept&token=tok123")
	assert.Contains(t, msg.Body, "action=decline&token=tok123")
	assert.Contains(t, msg.Body, "24 hours")
	assert.Contains(t, msg.HTML, "Accept this slot")

	inv.Channel = notify.ChannelSMS
	entry.Email = ""
	entry.Phone = "+15550100"
	sms := InvitationMessage(cfg, offer, entry, inv, scenarioNow)
	assert.Equal(t, "+15550100", sms.To)
	assert.Empty(t, sms.Subject)
	assert.True(t, strings.HasPrefix(sms.Body, "Hi Alice!"))
}

func TestHumanCountdown(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Minute, "less than a minute"},
		{30 * time.Second, "1 minute"},
		{45 * time.Minute, "45 minutes"},
		{time.Hour, "1 hour"},
		{23*time.Hour + 40*time.Minute, "24 hours"},
		{72 * time.Hour, "3 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanCountdown(tt.in), tt.in.String())
	}
}

func TestNewResponseToken(t *testing.T) {
	a, err := NewResponseToken()
	require.NoError(t, err)
	b, err := NewResponseToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.NotContains(t, a, "=")
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
