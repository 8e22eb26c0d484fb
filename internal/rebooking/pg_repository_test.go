package rebooking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	slotOfferCols  = []string{"id", "appointment_id", "starts_at", "duration_minutes", "status", "invitation_count", "claimed_by", "claimed_at", "created_at", "updated_at", "expires_at"}
	invitationCols = []string{"id", "token", "slot_offer_id", "waitlist_entry_id", "entry_kind", "status", "channel", "expires_at", "responded_at", "notification_id", "notification_error", "created_at", "updated_at"}
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func slotOfferRows(s SlotOffer) *pgxmock.Rows {
	var claimedBy any
	if s.ClaimedBy != nil {
		claimedBy = s.ClaimedBy
	}
	var claimedAt any
	if s.ClaimedAt != nil {
		claimedAt = s.ClaimedAt
	}
	return pgxmock.NewRows(slotOfferCols).AddRow(
		s.ID, s.AppointmentID, s.StartsAt, int(s.Duration/time.Minute), string(s.Status), s.InvitationCount,
		claimedBy, claimedAt, s.CreatedAt, s.UpdatedAt, s.ExpiresAt,
	)
}

func invitationRow(rows *pgxmock.Rows, inv Invitation) *pgxmock.Rows {
	var respondedAt any
	if inv.RespondedAt != nil {
		respondedAt = inv.RespondedAt
	}
	return rows.AddRow(
		inv.ID, inv.Token, inv.SlotOfferID, inv.WaitlistEntryID, string(inv.EntryKind), string(inv.Status), string(inv.Channel),
		inv.ExpiresAt, respondedAt, inv.NotificationID, inv.NotificationError, inv.CreatedAt, inv.UpdatedAt,
	)
}

func sampleOffer(status SlotOfferStatus) SlotOffer {
	return SlotOffer{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		StartsAt:      scenarioStart,
		Duration:      30 * time.Minute,
		Status:        status,
		CreatedAt:     scenarioNow,
		UpdatedAt:     scenarioNow,
		ExpiresAt:     scenarioStart,
	}
}

func TestPgCreateSlotOfferInserts(t *testing.T) {
	mock, repo := newMockRepo(t)
	offer := sampleOffer(SlotAvailable)

	mock.ExpectQuery("INSERT INTO slot_offers").
		WithArgs(offer.ID, offer.AppointmentID, offer.StartsAt, 30, offer.CreatedAt, offer.ExpiresAt).
		WillReturnRows(slotOfferRows(offer))

	got, created, err := repo.CreateSlotOffer(context.Background(), offer)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, offer.ID, got.ID)
	assert.Equal(t, SlotAvailable, got.Status)
	assert.Equal(t, 30*time.Minute, got.Duration)
	assert.Nil(t, got.ClaimedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateSlotOfferReturnsExisting(t *testing.T) {
	mock, repo := newMockRepo(t)
	existing := sampleOffer(SlotPending)
	existing.InvitationCount = 3
	attempt := sampleOffer(SlotAvailable)
	attempt.AppointmentID = existing.AppointmentID

	mock.ExpectQuery("INSERT INTO slot_offers").WithArgs(anyArgs(6)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM slot_offers WHERE appointment_id").
		WithArgs(existing.AppointmentID).
		WillReturnRows(slotOfferRows(existing))

	got, created, err := repo.CreateSlotOffer(context.Background(), attempt)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, 3, got.InvitationCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetSlotOfferNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM slot_offers WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetSlotOffer(context.Background(), id)
	assert.ErrorIs(t, err, ErrSlotOfferNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRecordInvitationBatchOnClaimedOffer(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE slot_offers SET status = 'pending'").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM slot_offers").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("claimed"))

	_, err := repo.RecordInvitationBatch(context.Background(), id)
	assert.ErrorIs(t, err, ErrSlotAlreadyTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotOfferLosesRace(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE slot_offers SET status = 'claimed'").WithArgs(anyArgs(3)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM slot_offers").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("claimed"))
	mock.ExpectRollback()

	_, err := repo.ClaimSlotOffer(context.Background(), ClaimParams{
		SlotOfferID:  id,
		InvitationID: uuid.New(),
		Entry:        EntryRef{Kind: KindNewClient, ID: uuid.New()},
		Now:          scenarioNow,
	})
	assert.ErrorIs(t, err, ErrSlotAlreadyTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotOfferExpiredOffer(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE slot_offers SET status = 'claimed'").WithArgs(anyArgs(3)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM slot_offers").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("expired"))
	mock.ExpectRollback()

	_, err := repo.ClaimSlotOffer(context.Background(), ClaimParams{
		SlotOfferID:  id,
		InvitationID: uuid.New(),
		Entry:        EntryRef{Kind: KindRecall, ID: uuid.New()},
		Now:          scenarioNow,
	})
	assert.ErrorIs(t, err, ErrSlotOfferClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotOfferCommitsAllWrites(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := scenarioNow
	winner := EntryRef{Kind: KindNewClient, ID: uuid.New()}

	claimed := sampleOffer(SlotClaimed)
	claimed.InvitationCount = 2
	claimed.ClaimedBy = &winner.ID
	claimed.ClaimedAt = &now

	accepted := Invitation{
		ID: uuid.New(), Token: "win", SlotOfferID: claimed.ID, WaitlistEntryID: winner.ID, EntryKind: KindNewClient,
		Status: InvitationAccepted, Channel: "email", ExpiresAt: now.Add(time.Hour), RespondedAt: &now,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
	}
	sibling := Invitation{
		ID: uuid.New(), Token: "lose", SlotOfferID: claimed.ID, WaitlistEntryID: uuid.New(), EntryKind: KindRecall,
		Status: InvitationCancelled, Channel: "sms", ExpiresAt: now.Add(time.Hour),
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE slot_offers SET status = 'claimed'").
		WithArgs(claimed.ID, winner.ID, now).
		WillReturnRows(slotOfferRows(claimed))
	mock.ExpectQuery("UPDATE invitations SET status = 'accepted'").
		WithArgs(accepted.ID, now).
		WillReturnRows(invitationRow(pgxmock.NewRows(invitationCols), accepted))
	mock.ExpectExec("INSERT INTO bookings").WithArgs(anyArgs(10)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("UPDATE invitations SET status = 'cancelled'").
		WithArgs(claimed.ID, accepted.ID, now).
		WillReturnRows(invitationRow(pgxmock.NewRows(invitationCols), sibling))
	mock.ExpectExec("UPDATE waitlist_entries SET status = 'scheduled'").
		WithArgs(winner.ID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE recall_waitlist SET status = 'waiting'").
		WithArgs([]uuid.UUID{sibling.WaitlistEntryID}, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := repo.ClaimSlotOffer(context.Background(), ClaimParams{
		SlotOfferID:  claimed.ID,
		InvitationID: accepted.ID,
		Entry:        winner,
		Booking: Booking{
			ID: uuid.New(), SlotOfferID: claimed.ID, WaitlistEntryID: winner.ID, EntryKind: KindNewClient,
			PatientName: "Bob Okafor", Phone: "+15550100", StartsAt: claimed.StartsAt, Duration: claimed.Duration,
		},
		Now: now,
	})
	require.NoError(t, err)

	assert.Equal(t, SlotClaimed, res.SlotOffer.Status)
	require.NotNil(t, res.SlotOffer.ClaimedBy)
	assert.Equal(t, winner.ID, *res.SlotOffer.ClaimedBy)
	assert.Equal(t, InvitationAccepted, res.Invitation.Status)
	assert.Equal(t, BookingConfirmed, res.Booking.Status)
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, sibling.ID, res.Cancelled[0].ID)
	assert.Equal(t, KindRecall, res.Cancelled[0].EntryKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateEntryStatus(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	ref := EntryRef{Kind: KindRecall, ID: uuid.New()}

	mock.ExpectExec("UPDATE recall_waitlist SET status").
		WithArgs(ref.ID, "waiting", "invited").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateEntryStatus(ctx, ref, EntryWaiting, EntryInvited))

	mock.ExpectExec("UPDATE recall_waitlist SET status").
		WithArgs(ref.ID, "waiting", "invited").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM recall_waitlist").WithArgs(ref.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	assert.ErrorIs(t, repo.UpdateEntryStatus(ctx, ref, EntryWaiting, EntryInvited), ErrEntryUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateEntryStatusUnknownKind(t *testing.T) {
	_, repo := newMockRepo(t)
	err := repo.UpdateEntryStatus(context.Background(), EntryRef{Kind: "vip", ID: uuid.New()}, EntryWaiting, EntryInvited)
	assert.Error(t, err)
}

func TestPgCreateInvitationDuplicate(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO invitations").WithArgs(anyArgs(8)...).WillReturnError(pgx.ErrNoRows)

	_, err := repo.CreateInvitation(context.Background(), Invitation{
		ID: uuid.New(), Token: "t", SlotOfferID: uuid.New(), WaitlistEntryID: uuid.New(), EntryKind: KindNewClient,
		Channel: "email", ExpiresAt: scenarioNow, CreatedAt: scenarioNow,
	})
	assert.ErrorIs(t, err, ErrDuplicateInvitation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetInvitationByToken(t *testing.T) {
	mock, repo := newMockRepo(t)
	inv := Invitation{
		ID: uuid.New(), Token: "abc", SlotOfferID: uuid.New(), WaitlistEntryID: uuid.New(), EntryKind: KindNewClient,
		Status: InvitationPending, Channel: "sms", ExpiresAt: scenarioNow, CreatedAt: scenarioNow, UpdatedAt: scenarioNow,
	}

	mock.ExpectQuery("FROM invitations WHERE token").WithArgs("abc").
		WillReturnRows(invitationRow(pgxmock.NewRows(invitationCols), inv))
	mock.ExpectQuery("FROM invitations WHERE token").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetInvitationByToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, InvitationPending, got.Status)
	assert.Nil(t, got.RespondedAt)

	_, err = repo.GetInvitationByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInvitationNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCountFailedAttempts(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM slot_processing_log").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountFailedAttempts(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgProcessingStatsSince(t *testing.T) {
	mock, repo := newMockRepo(t)
	since := scenarioNow.Add(-statsWindow)

	mock.ExpectQuery("FROM slot_processing_log WHERE created_at").WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"attempts", "processed", "no_candidates", "already_processed", "failed", "sent"}).
			AddRow(int64(9), int64(5), int64(2), int64(1), int64(1), int64(17)))

	stats, err := repo.ProcessingStatsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, ProcessingStats{Attempts: 9, Processed: 5, NoCandidates: 2, AlreadyProcessed: 1, Failed: 1, InvitationsSent: 17}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertProcessingLog(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("INSERT INTO slot_processing_log").
		WithArgs(id, "sweep", "failed", 3, 0, "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertProcessingLog(context.Background(), ProcessingLog{
		SlotOfferID: id, Trigger: TriggerSweep, Outcome: DispatchFailed, RetryCount: 3, Error: "boom", CreatedAt: scenarioNow,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertEvent(t *testing.T) {
	mock, repo := newMockRepo(t)
	offerID := uuid.New()

	mock.ExpectExec("INSERT INTO rebooking_events").
		WithArgs(EventSlotOfferOpened, &offerID, (*uuid.UUID)(nil), []byte(`{"a":1}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), EventLog{
		EventType: EventSlotOfferOpened, SlotOfferID: &offerID, Payload: []byte(`{"a":1}`), CreatedAt: scenarioNow,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
