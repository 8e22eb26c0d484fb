package rebooking

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/waitlist-rebooking/internal/notify"
)

// MessageConfig carries clinic specifics used when rendering messages
type MessageConfig struct {
	ClinicName    string
	PublicBaseURL string
	Location      *time.Location
}

func (c MessageConfig) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c MessageConfig) clinic() string {
	if c.ClinicName == "" {
		return "the clinic"
	}
	return c.ClinicName
}

// ResponseURL builds the accept/decline link for a token
func ResponseURL(baseURL, token string, action Action) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("action", string(action))
	return strings.TrimRight(baseURL, "/") + "/invitations/respond?" + q.Encode()
}

// InvitationMessage renders the slot offer for one candidate
func InvitationMessage(cfg MessageConfig, offer SlotOffer, entry WaitlistEntry, inv Invitation, now time.Time) notify.Message {
	name := firstName(entry.Name)
	when := offer.StartsAt.In(cfg.loc())
	date := when.Format("Monday, January 2")
	clock := when.Format("3:04 PM")
	minutes := int(offer.Duration / time.Minute)
	countdown := HumanCountdown(inv.ExpiresAt.Sub(now))
	accept := ResponseURL(cfg.PublicBaseURL, inv.Token, ActionAccept)
	decline := ResponseURL(cfg.PublicBaseURL, inv.Token, ActionDecline)

	msg := notify.Message{Channel: inv.Channel, To: entry.ContactFor(inv.Channel), ToName: entry.Name}

	if inv.Channel == notify.ChannelSMS {
		msg.Body = fmt.Sprintf(
			"Hi %s! An earlier appointment opened at %s: %s at %s (%d min). Book it: %s Not interested: %s Offer expires in %s. First to accept gets it.",
			name, cfg.clinic(), date, clock, minutes, accept, decline, countdown,
		)
		return msg
	}

	msg.Subject = fmt.Sprintf("An appointment opened up on %s at %s", date, clock)
	msg.Body = fmt.Sprintf(
		"Hi %s,\n\nA %d minute appointment just became available at %s on %s at %s.\n\n"+
			"Accept this slot: %s\nDecline: %s\n\n"+
			"This offer expires in %s. It was sent to a few people on our waiting list and the first to accept gets it.\n",
		name, minutes, cfg.clinic(), date, clock, accept, decline, countdown,
	)
	msg.HTML = fmt.Sprintf(
		`<p>Hi %s,</p><p>A %d minute appointment just became available at %s on <strong>%s at %s</strong>.</p>`+
			`<p><a href="%s">Accept this slot</a> &middot; <a href="%s">Decline</a></p>`+
			`<p>This offer expires in %s. The first person to accept gets it.</p>`,
		html.EscapeString(name), minutes, html.EscapeString(cfg.clinic()), date, clock,
		html.EscapeString(accept), html.EscapeString(decline), countdown,
	)
	return msg
}

// ConfirmationMessage renders the booking confirmation for the winner
func ConfirmationMessage(cfg MessageConfig, booking Booking, ch notify.Channel, to string) notify.Message {
	when := booking.StartsAt.In(cfg.loc())
	date := when.Format("Monday, January 2")
	clock := when.Format("3:04 PM")
	minutes := int(booking.Duration / time.Minute)
	name := firstName(booking.PatientName)

	msg := notify.Message{Channel: ch, To: to, ToName: booking.PatientName}
	msg.Body = fmt.Sprintf("You're booked, %s! %s at %s (%d min) at %s. See you then.", name, date, clock, minutes, cfg.clinic())
	if ch == notify.ChannelEmail {
		msg.Subject = fmt.Sprintf("Confirmed: %s at %s", date, clock)
	}
	return msg
}

// HumanCountdown renders a remaining duration like "23 hours" or "45 minutes"
func HumanCountdown(d time.Duration) string {
	if d <= 0 {
		return "less than a minute"
	}
	if d < time.Hour {
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
	hours := int(d.Round(time.Hour) / time.Hour)
	if hours < 48 {
		return plural(hours, "hour")
	}
	return plural(hours/24, "day")
}

func plural(n int, unit string) string {
	if n <= 0 {
		n = 1
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
