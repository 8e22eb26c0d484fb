package rebooking

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/waitlist-rebooking/internal/notify"
	"github.com/hackgods/waitlist-rebooking/pkg/logging"
)

var (
	scenarioNow   = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	scenarioStart = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
)

type fakeGateway struct {
	mu          sync.Mutex
	sent        []notify.Message
	failFor     map[string]error
	validate    error
	unsupported map[notify.Channel]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failFor: make(map[string]error)}
}

func (g *fakeGateway) Send(_ context.Context, msg notify.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failFor[msg.To]; err != nil {
		return "", err
	}
	g.sent = append(g.sent, msg)
	return fmt.Sprintf("msg-%d", len(g.sent)), nil
}

func (g *fakeGateway) Validate() error { return g.validate }

func (g *fakeGateway) Supports(ch notify.Channel) bool { return !g.unsupported[ch] }

func (g *fakeGateway) Sent() []notify.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notify.Message(nil), g.sent...)
}

// flow wires every component over one repository with a controllable clock
type flow struct {
	mem        *MemoryRepository
	gateway    *fakeGateway
	lifecycle  *Lifecycle
	ranker     *Ranker
	issuer     *Issuer
	resolver   *Resolver
	dispatcher *Dispatcher
	sweeper    *Sweeper

	mu    sync.Mutex
	clock time.Time
}

func newFlow(t *testing.T) *flow {
	t.Helper()
	mem := NewMemoryRepository()
	return newFlowWithRepo(t, mem, mem)
}

func newFlowWithRepo(t *testing.T, mem *MemoryRepository, repo Repository) *flow {
	t.Helper()

	f := &flow{mem: mem, gateway: newFakeGateway(), clock: scenarioNow}
	logger := logging.NewWithWriter(io.Discard, "error")
	msgCfg := MessageConfig{ClinicName: "Lakeside Clinic", PublicBaseURL: "https://book.example.com", Location: time.UTC}

	f.lifecycle = NewLifecycle(repo, 72*time.Hour, logger)
	f.lifecycle.now = f.now
	f.ranker = NewRanker(repo, time.UTC)
	f.ranker.now = f.now
	f.issuer = NewIssuer(repo, f.gateway, 24*time.Hour, msgCfg, nil, logger)
	f.issuer.now = f.now
	f.resolver = NewResolver(repo, f.gateway, msgCfg, nil, logger)
	f.resolver.now = f.now
	f.dispatcher = NewDispatcher(DispatcherConfig{
		Repo:      repo,
		Lifecycle: f.lifecycle,
		Ranker:    f.ranker,
		Issuer:    f.issuer,
		Gateway:   f.gateway,
		BatchSize: DefaultBatchSize,
		Logger:    logger,
	})
	f.sweeper = NewSweeper(repo, f.lifecycle, f.dispatcher, 2*time.Minute, 50, nil, logger)
	f.sweeper.now = f.now
	return f
}

func (f *flow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *flow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

type scenarioEntries struct {
	Alice, Bob, Carol WaitlistEntry
}

// seedScenario adds Alice(10), Carol(5, earlier) and Bob(5, later)
func seedScenario(f *flow) scenarioEntries {
	base := scenarioNow.Add(-30 * 24 * time.Hour)
	return scenarioEntries{
		Alice: f.mem.AddWaitlistEntry(WaitlistEntry{Name: "Alice Martin", Email: "alice@example.com", Priority: 10, AddedAt: base.Add(48 * time.Hour)}),
		Carol: f.mem.AddWaitlistEntry(WaitlistEntry{Name: "Carol Nguyen", Email: "carol@example.com", Priority: 5, AddedAt: base.Add(24 * time.Hour)}),
		Bob:   f.mem.AddWaitlistEntry(WaitlistEntry{Name: "Bob Okafor", Phone: "+15550100", Priority: 5, AddedAt: base.Add(72 * time.Hour)}),
	}
}

func openScenarioSlot(t *testing.T, f *flow) *SlotOffer {
	t.Helper()
	offer, created, err := f.lifecycle.Open(context.Background(), OpenParams{
		AppointmentID: uuid.New(),
		StartsAt:      scenarioStart,
		Duration:      30 * time.Minute,
	})
	require.NoError(t, err)
	require.True(t, created)
	return offer
}

// tokenFor returns the token of the invitation sent to entry
func tokenFor(t *testing.T, out *DispatchOutcome, entry WaitlistEntry) string {
	t.Helper()
	for _, is := range out.Invitations {
		if is.Entry.ID == entry.ID {
			return is.Invitation.Token
		}
	}
	t.Fatalf("no invitation issued to %s", entry.Name)
	return ""
}

func invitationsByEntry(t *testing.T, repo Repository, slotOfferID uuid.UUID) map[uuid.UUID]Invitation {
	t.Helper()
	invs, err := repo.ListInvitationsBySlotOffer(context.Background(), slotOfferID)
	require.NoError(t, err)
	out := make(map[uuid.UUID]Invitation, len(invs))
	for _, inv := range invs {
		out[inv.WaitlistEntryID] = inv
	}
	return out
}

func entryStatus(t *testing.T, repo Repository, e WaitlistEntry) EntryStatus {
	t.Helper()
	got, err := repo.GetWaitlistEntry(context.Background(), e.Ref())
	require.NoError(t, err)
	return got.Status
}
