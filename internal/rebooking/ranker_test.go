package rebooking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioOffer() SlotOffer {
	return SlotOffer{
		ID:        uuid.New(),
		StartsAt:  scenarioStart,
		Duration:  30 * time.Minute,
		Status:    SlotAvailable,
		ExpiresAt: scenarioStart,
	}
}

func names(entries []WaitlistEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestRankScenarioOrder(t *testing.T) {
	f := newFlow(t)
	seedScenario(f)

	got, err := f.ranker.Rank(context.Background(), scenarioOffer(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice Martin", "Carol Nguyen", "Bob Okafor"}, names(got))
}

func TestRankOrdersAndTruncates(t *testing.T) {
	f := newFlow(t)
	base := scenarioNow.Add(-100 * time.Hour)
	for _, p := range []struct {
		name     string
		priority int
		addedAt  time.Time
	}{
		{"p3-late", 3, base.Add(9 * time.Hour)},
		{"p9", 9, base.Add(5 * time.Hour)},
		{"p3-early", 3, base.Add(1 * time.Hour)},
		{"p7", 7, base.Add(2 * time.Hour)},
		{"p1", 1, base},
		{"p8", 8, base.Add(8 * time.Hour)},
		{"p3-mid", 3, base.Add(4 * time.Hour)},
	} {
		f.mem.AddWaitlistEntry(WaitlistEntry{Name: p.name, Email: p.name + "@example.com", Priority: p.priority, AddedAt: p.addedAt})
	}

	got, err := f.ranker.Rank(context.Background(), scenarioOffer(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"p9", "p8", "p7", "p3-early", "p3-mid"}, names(got))

	all, err := f.ranker.Rank(context.Background(), scenarioOffer(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"p9", "p8", "p7", "p3-early", "p3-mid", "p3-late", "p1"}, names(all))
}

func TestRankDefaultsBatchSize(t *testing.T) {
	f := newFlow(t)
	for i := 0; i < 8; i++ {
		f.mem.AddWaitlistEntry(WaitlistEntry{Name: "n", Priority: i})
	}

	got, err := f.ranker.Rank(context.Background(), scenarioOffer(), 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultBatchSize)
}

func TestRankEmptyIsNotAnError(t *testing.T) {
	f := newFlow(t)
	f.mem.AddWaitlistEntry(WaitlistEntry{Name: "Booked Already", Status: EntryScheduled})

	got, err := f.ranker.Rank(context.Background(), scenarioOffer(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRankSkipsEntriesWithPendingInvitation(t *testing.T) {
	f := newFlow(t)
	people := seedScenario(f)
	ctx := context.Background()

	other := openScenarioSlot(t, f)
	_, err := f.mem.CreateInvitation(ctx, Invitation{
		ID:              uuid.New(),
		Token:           "busy",
		SlotOfferID:     other.ID,
		WaitlistEntryID: people.Alice.ID,
		EntryKind:       KindNewClient,
		ExpiresAt:       scenarioNow.Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := f.ranker.Rank(ctx, scenarioOffer(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol Nguyen", "Bob Okafor"}, names(got))
}

func TestSortCandidatesTieBreaksOnID(t *testing.T) {
	at := scenarioNow
	a := WaitlistEntry{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "a", Priority: 1, AddedAt: at}
	b := WaitlistEntry{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Name: "b", Priority: 1, AddedAt: at}

	entries := []WaitlistEntry{b, a}
	SortCandidates(entries)
	assert.Equal(t, []string{"a", "b"}, names(entries))
}

func TestEligiblePreferences(t *testing.T) {
	offer := scenarioOffer() // Monday 10:00-10:30 UTC
	morning, err := ParseTimeWindow("09:00-12:00")
	require.NoError(t, err)
	tight, err := ParseTimeWindow("09:00-10:15")
	require.NoError(t, err)
	evening, err := ParseTimeWindow("17:00-20:00")
	require.NoError(t, err)

	tests := []struct {
		name  string
		entry WaitlistEntry
		want  bool
	}{
		{"no preferences", WaitlistEntry{}, true},
		{"monday", WaitlistEntry{PreferredDays: []time.Weekday{time.Monday, time.Friday}}, true},
		{"weekend only", WaitlistEntry{PreferredDays: []time.Weekday{time.Saturday, time.Sunday}}, false},
		{"morning window", WaitlistEntry{PreferredTimes: []TimeWindow{evening, morning}}, true},
		{"appointment overruns window", WaitlistEntry{PreferredTimes: []TimeWindow{tight}}, false},
		{"evening only", WaitlistEntry{PreferredTimes: []TimeWindow{evening}}, false},
		{"not waiting", WaitlistEntry{Status: EntryInvited}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entry
			e.Kind = KindNewClient
			if e.Status == "" {
				e.Status = EntryWaiting
			}
			assert.Equal(t, tt.want, Eligible(e, offer, scenarioNow, time.UTC))
		})
	}
}

func TestEligibleUsesClinicTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	offer := scenarioOffer() // 10:00 UTC is 05:00 in New York
	morning, err := ParseTimeWindow("09:00-12:00")
	require.NoError(t, err)

	e := WaitlistEntry{Kind: KindNewClient, Status: EntryWaiting, PreferredTimes: []TimeWindow{morning}}
	assert.True(t, Eligible(e, offer, scenarioNow, time.UTC))
	assert.False(t, Eligible(e, offer, scenarioNow, ny))
}

func TestEligibleRecallWindow(t *testing.T) {
	offer := scenarioOffer()
	at := func(d time.Duration) *time.Time {
		ts := scenarioStart.Add(d)
		return &ts
	}
	day := 24 * time.Hour

	tests := []struct {
		name    string
		current *time.Time
		days    int
		want    bool
	}{
		{"current later, within window", at(5 * day), 7, true},
		{"current later, window too small", at(10 * day), 7, false},
		{"exactly at window edge", at(7 * day), 7, true},
		{"any earlier slot", at(60 * day), 0, true},
		{"current earlier than slot", at(-day), 7, false},
		{"same time", at(0), 7, false},
		{"no current appointment", nil, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := WaitlistEntry{Kind: KindRecall, Status: EntryWaiting, CurrentAppointmentAt: tt.current, MoveForwardDays: tt.days}
			assert.Equal(t, tt.want, Eligible(e, offer, scenarioNow, time.UTC))
		})
	}
}

func TestEligibleRejectsPastSlot(t *testing.T) {
	offer := scenarioOffer()
	e := WaitlistEntry{Kind: KindNewClient, Status: EntryWaiting}
	assert.False(t, Eligible(e, offer, scenarioStart.Add(time.Minute), time.UTC))
}

func TestParseTimeWindow(t *testing.T) {
	w, err := ParseTimeWindow("08:30-12:00")
	require.NoError(t, err)
	assert.Equal(t, TimeWindow{Start: 510, End: 720}, w)
	assert.Equal(t, "08:30-12:00", w.String())

	for _, bad := range []string{"", "9-5", "12:00-08:00", "08:75-09:00", "10:00-10:00"} {
		_, err := ParseTimeWindow(bad)
		assert.Error(t, err, bad)
	}
}
