package rebooking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/waitlist-rebooking/internal/notify"
)

// DB abstracts the pgx pool so pgxmock can stand in during tests
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is satisfied by both DB and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

var _ Repository = (*PgRepository)(nil)

const slotOfferColumns = `id, appointment_id, starts_at, duration_minutes, status, invitation_count, claimed_by, claimed_at, created_at, updated_at, expires_at`

const invitationColumns = `id, token, slot_offer_id, waitlist_entry_id, entry_kind, status, channel, expires_at, responded_at, COALESCE(notification_id, ''), COALESCE(notification_error, ''), created_at, updated_at`

// Helpers

// inTx runs fn in a transaction; any error rolls it back
func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanSlotOffer(row pgx.Row) (*SlotOffer, error) {
	var s SlotOffer
	var status string
	var minutes int

	err := row.Scan(
		&s.ID,
		&s.AppointmentID,
		&s.StartsAt,
		&minutes,
		&status,
		&s.InvitationCount,
		&s.ClaimedBy,
		&s.ClaimedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotOfferNotFound
		}
		return nil, err
	}

	s.Status = SlotOfferStatus(status)
	s.Duration = time.Duration(minutes) * time.Minute
	return &s, nil
}

func scanSlotOffers(rows pgx.Rows) ([]SlotOffer, error) {
	defer rows.Close()

	var result []SlotOffer
	for rows.Next() {
		s, err := scanSlotOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	var kind, status, channel string

	err := row.Scan(
		&inv.ID,
		&inv.Token,
		&inv.SlotOfferID,
		&inv.WaitlistEntryID,
		&kind,
		&status,
		&channel,
		&inv.ExpiresAt,
		&inv.RespondedAt,
		&inv.NotificationID,
		&inv.NotificationError,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}

	inv.EntryKind = EntryKind(kind)
	inv.Status = InvitationStatus(status)
	inv.Channel = notify.Channel(channel)
	return &inv, nil
}

func scanInvitations(rows pgx.Rows) ([]Invitation, error) {
	defer rows.Close()

	var result []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	return result, rows.Err()
}

const newClientSelect = `
	SELECT w.id, w.name, COALESCE(w.email, ''), COALESCE(w.phone, ''), w.priority, w.added_at, w.status, w.preferred_days, w.preferred_times
	FROM waitlist_entries w`

const recallSelect = `
	SELECT r.id, r.patient_name, COALESCE(r.email, ''), COALESCE(r.phone, ''), r.priority, r.created_at, r.status, r.current_appointment_at, r.move_forward_days
	FROM recall_waitlist r`

// scanNewClient adapts a waitlist_entries row
func scanNewClient(row pgx.Row) (*WaitlistEntry, error) {
	e := WaitlistEntry{Kind: KindNewClient}
	var status string
	var days []int16
	var windows []string

	err := row.Scan(&e.ID, &e.Name, &e.Email, &e.Phone, &e.Priority, &e.AddedAt, &status, &days, &windows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}

	e.Status = EntryStatus(status)
	for _, d := range days {
		e.PreferredDays = append(e.PreferredDays, time.Weekday(d))
	}
	for _, raw := range windows {
		w, err := ParseTimeWindow(raw)
		if err != nil {
			return nil, fmt.Errorf("waitlist entry %s: %w", e.ID, err)
		}
		e.PreferredTimes = append(e.PreferredTimes, w)
	}
	return &e, nil
}

// scanRecall adapts a recall_waitlist row
func scanRecall(row pgx.Row) (*WaitlistEntry, error) {
	e := WaitlistEntry{Kind: KindRecall}
	var status string
	var current time.Time

	err := row.Scan(&e.ID, &e.Name, &e.Email, &e.Phone, &e.Priority, &e.AddedAt, &status, &current, &e.MoveForwardDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}

	e.Status = EntryStatus(status)
	e.CurrentAppointmentAt = &current
	return &e, nil
}

func entryTable(kind EntryKind) (string, error) {
	switch kind {
	case KindNewClient:
		return "waitlist_entries", nil
	case KindRecall:
		return "recall_waitlist", nil
	default:
		return "", fmt.Errorf("unknown waitlist entry kind %q", kind)
	}
}

// Slot offers

func (r *PgRepository) CreateSlotOffer(ctx context.Context, offer SlotOffer) (*SlotOffer, bool, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO slot_offers (id, appointment_id, starts_at, duration_minutes, status, invitation_count, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, 'available', 0, $5, $5, $6)
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING `+slotOfferColumns,
		offer.ID, offer.AppointmentID, offer.StartsAt, int(offer.Duration/time.Minute), offer.CreatedAt, offer.ExpiresAt)

	created, err := scanSlotOffer(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrSlotOfferNotFound) {
		return nil, false, fmt.Errorf("insert slot offer: %w", err)
	}

	// one offer per cancelled appointment: hand back the existing one
	existing, err := scanSlotOffer(r.db.QueryRow(ctx, `
		SELECT `+slotOfferColumns+`
		FROM slot_offers
		WHERE appointment_id = $1
	`, offer.AppointmentID))
	if err != nil {
		return nil, false, fmt.Errorf("load existing slot offer: %w", err)
	}
	return existing, false, nil
}

func (r *PgRepository) GetSlotOffer(ctx context.Context, id uuid.UUID) (*SlotOffer, error) {
	return scanSlotOffer(r.db.QueryRow(ctx, `
		SELECT `+slotOfferColumns+`
		FROM slot_offers
		WHERE id = $1
	`, id))
}

// slotStatusConflict explains why a conditional slot offer update matched no row
func slotStatusConflict(ctx context.Context, q querier, id uuid.UUID) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM slot_offers WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotOfferNotFound
		}
		return fmt.Errorf("load slot offer status: %w", err)
	}
	return slotConflict(SlotOfferStatus(status))
}

func (r *PgRepository) RecordInvitationBatch(ctx context.Context, id uuid.UUID) (*SlotOffer, error) {
	offer, err := scanSlotOffer(r.db.QueryRow(ctx, `
		UPDATE slot_offers
		SET status = 'pending',
		    invitation_count = (SELECT count(*) FROM invitations WHERE slot_offer_id = $1),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('available', 'pending')
		RETURNING `+slotOfferColumns, id))
	if err == nil {
		return offer, nil
	}
	if errors.Is(err, ErrSlotOfferNotFound) {
		return nil, slotStatusConflict(ctx, r.db, id)
	}
	return nil, fmt.Errorf("record invitation batch: %w", err)
}

// ClaimSlotOffer runs the claim as one transaction. The first statement is a
// conditional update on the slot offer row; a concurrent claimer blocks on
// that row lock and then finds the status already moved on.
func (r *PgRepository) ClaimSlotOffer(ctx context.Context, p ClaimParams) (*ClaimResult, error) {
	table, err := entryTable(p.Entry.Kind)
	if err != nil {
		return nil, err
	}

	var result ClaimResult

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		offer, err := scanSlotOffer(tx.QueryRow(ctx, `
			UPDATE slot_offers
			SET status = 'claimed',
			    claimed_by = $2,
			    claimed_at = $3,
			    updated_at = $3
			WHERE id = $1
			  AND status IN ('available', 'pending')
			RETURNING `+slotOfferColumns, p.SlotOfferID, p.Entry.ID, p.Now))
		if err != nil {
			if errors.Is(err, ErrSlotOfferNotFound) {
				return slotStatusConflict(ctx, tx, p.SlotOfferID)
			}
			return fmt.Errorf("claim slot offer: %w", err)
		}
		result.SlotOffer = *offer

		inv, err := scanInvitation(tx.QueryRow(ctx, `
			UPDATE invitations
			SET status = 'accepted',
			    responded_at = $2,
			    updated_at = $2
			WHERE id = $1
			  AND status = 'pending'
			  AND expires_at >= $2
			RETURNING `+invitationColumns, p.InvitationID, p.Now))
		if err != nil {
			if errors.Is(err, ErrInvitationNotFound) {
				return r.invitationStatusConflict(ctx, tx, p.InvitationID, p.Now)
			}
			return fmt.Errorf("accept invitation: %w", err)
		}
		result.Invitation = *inv

		b := p.Booking
		_, err = tx.Exec(ctx, `
			INSERT INTO bookings (id, slot_offer_id, waitlist_entry_id, entry_kind, patient_name, email, phone, starts_at, duration_minutes, status, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, 'confirmed', $10)
		`, b.ID, b.SlotOfferID, b.WaitlistEntryID, string(b.EntryKind), b.PatientName, b.Email, b.Phone, b.StartsAt, int(b.Duration/time.Minute), p.Now)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		b.Status = BookingConfirmed
		b.CreatedAt = p.Now
		result.Booking = b

		rows, err := tx.Query(ctx, `
			UPDATE invitations
			SET status = 'cancelled',
			    updated_at = $3
			WHERE slot_offer_id = $1
			  AND id <> $2
			  AND status = 'pending'
			RETURNING `+invitationColumns, p.SlotOfferID, p.InvitationID, p.Now)
		if err != nil {
			return fmt.Errorf("cancel sibling invitations: %w", err)
		}
		cancelled, err := scanInvitations(rows)
		if err != nil {
			return fmt.Errorf("cancel sibling invitations: %w", err)
		}
		result.Cancelled = cancelled

		if _, err := tx.Exec(ctx, `
			UPDATE `+table+`
			SET status = 'scheduled', updated_at = $2
			WHERE id = $1
			  AND status IN ('waiting', 'invited')
		`, p.Entry.ID, p.Now); err != nil {
			return fmt.Errorf("schedule waitlist entry: %w", err)
		}

		return releaseEntries(ctx, tx, cancelled, p.Now)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// releaseEntries returns invited entries to waiting after their invitation
// was cancelled or expired
func releaseEntries(ctx context.Context, q querier, invs []Invitation, now time.Time) error {
	byKind := make(map[EntryKind][]uuid.UUID)
	for _, inv := range invs {
		byKind[inv.EntryKind] = append(byKind[inv.EntryKind], inv.WaitlistEntryID)
	}
	for kind, ids := range byKind {
		table, err := entryTable(kind)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			UPDATE `+table+`
			SET status = 'waiting', updated_at = $2
			WHERE id = ANY($1)
			  AND status = 'invited'
		`, ids, now); err != nil {
			return fmt.Errorf("release %s entries: %w", kind, err)
		}
	}
	return nil
}

func (r *PgRepository) invitationStatusConflict(ctx context.Context, q querier, id uuid.UUID, now time.Time) error {
	inv, err := scanInvitation(q.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if err != nil {
		return err
	}
	if cErr := invitationConflict(*inv, now); cErr != nil {
		return cErr
	}
	return ErrInvalidTransition
}

func (r *PgRepository) ExpireSlotOffer(ctx context.Context, id uuid.UUID, now time.Time) (*SlotOffer, []Invitation, error) {
	var offer *SlotOffer
	var expired []Invitation

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		offer, err = scanSlotOffer(tx.QueryRow(ctx, `
			UPDATE slot_offers
			SET status = 'expired', updated_at = $2
			WHERE id = $1
			  AND status IN ('available', 'pending')
			RETURNING `+slotOfferColumns, id, now))
		if err != nil {
			if errors.Is(err, ErrSlotOfferNotFound) {
				return slotStatusConflict(ctx, tx, id)
			}
			return fmt.Errorf("expire slot offer: %w", err)
		}

		rows, err := tx.Query(ctx, `
			UPDATE invitations
			SET status = 'expired', updated_at = $2
			WHERE slot_offer_id = $1
			  AND status = 'pending'
			RETURNING `+invitationColumns, id, now)
		if err != nil {
			return fmt.Errorf("expire slot offer invitations: %w", err)
		}
		expired, err = scanInvitations(rows)
		if err != nil {
			return fmt.Errorf("expire slot offer invitations: %w", err)
		}

		return releaseEntries(ctx, tx, expired, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return offer, expired, nil
}

func (r *PgRepository) FindUntreatedSlotOffers(ctx context.Context, createdBefore, now time.Time, limit int) ([]SlotOffer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotOfferColumns+`
		FROM slot_offers
		WHERE status = 'available'
		  AND invitation_count = 0
		  AND created_at < $1
		  AND expires_at > $2
		ORDER BY created_at ASC
		LIMIT $3
	`, createdBefore, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find untreated slot offers: %w", err)
	}
	return scanSlotOffers(rows)
}

func (r *PgRepository) FindExpiredSlotOffers(ctx context.Context, now time.Time, limit int) ([]SlotOffer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotOfferColumns+`
		FROM slot_offers
		WHERE status IN ('available', 'pending')
		  AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired slot offers: %w", err)
	}
	return scanSlotOffers(rows)
}

// Waitlist

func (r *PgRepository) ListWaitingEntries(ctx context.Context) ([]WaitlistEntry, error) {
	var result []WaitlistEntry

	rows, err := r.db.Query(ctx, newClientSelect+`
		WHERE w.status = 'waiting'
		  AND NOT EXISTS (
			SELECT 1 FROM invitations i
			WHERE i.waitlist_entry_id = w.id AND i.status = 'pending'
		  )
		ORDER BY w.priority DESC, w.added_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list waiting new clients: %w", err)
	}
	for rows.Next() {
		e, err := scanNewClient(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, recallSelect+`
		WHERE r.status = 'waiting'
		  AND NOT EXISTS (
			SELECT 1 FROM invitations i
			WHERE i.waitlist_entry_id = r.id AND i.status = 'pending'
		  )
		ORDER BY r.priority DESC, r.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list waiting recalls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanRecall(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, ref EntryRef) (*WaitlistEntry, error) {
	switch ref.Kind {
	case KindNewClient:
		return scanNewClient(r.db.QueryRow(ctx, newClientSelect+` WHERE w.id = $1`, ref.ID))
	case KindRecall:
		return scanRecall(r.db.QueryRow(ctx, recallSelect+` WHERE r.id = $1`, ref.ID))
	default:
		return nil, fmt.Errorf("unknown waitlist entry kind %q", ref.Kind)
	}
}

func (r *PgRepository) UpdateEntryStatus(ctx context.Context, ref EntryRef, from, to EntryStatus) error {
	table, err := entryTable(ref.Kind)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE `+table+`
		SET status = $3, updated_at = now()
		WHERE id = $1
		  AND status = $2
	`, ref.ID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update waitlist entry status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, ref.ID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrWaitlistEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("check waitlist entry: %w", err)
	}
	return ErrEntryUnavailable
}

// Invitations

func (r *PgRepository) CreateInvitation(ctx context.Context, inv Invitation) (*Invitation, error) {
	created, err := scanInvitation(r.db.QueryRow(ctx, `
		INSERT INTO invitations (id, token, slot_offer_id, waitlist_entry_id, entry_kind, status, channel, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $8)
		ON CONFLICT DO NOTHING
		RETURNING `+invitationColumns,
		inv.ID, inv.Token, inv.SlotOfferID, inv.WaitlistEntryID, string(inv.EntryKind), string(inv.Channel), inv.ExpiresAt, inv.CreatedAt))
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, ErrDuplicateInvitation
		}
		return nil, fmt.Errorf("insert invitation: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	return scanInvitation(r.db.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE token = $1
	`, token))
}

func (r *PgRepository) ListInvitationsBySlotOffer(ctx context.Context, slotOfferID uuid.UUID) ([]Invitation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE slot_offer_id = $1
		ORDER BY created_at ASC
	`, slotOfferID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return scanInvitations(rows)
}

func (r *PgRepository) RecordDelivery(ctx context.Context, id uuid.UUID, notificationID, deliveryErr string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE invitations
		SET notification_id = NULLIF($2, ''),
		    notification_error = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1
	`, id, notificationID, deliveryErr)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (r *PgRepository) ResolveInvitation(ctx context.Context, id uuid.UUID, to InvitationStatus, at time.Time, entryTo EntryStatus) (*Invitation, error) {
	var resolved *Invitation

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		resolved, err = scanInvitation(tx.QueryRow(ctx, `
			UPDATE invitations
			SET status = $2,
			    responded_at = CASE WHEN $2 = 'declined' THEN $3::timestamptz ELSE responded_at END,
			    updated_at = $3
			WHERE id = $1
			  AND status = 'pending'
			RETURNING `+invitationColumns, id, string(to), at))
		if err != nil {
			if errors.Is(err, ErrInvitationNotFound) {
				if _, getErr := scanInvitation(tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)); getErr != nil {
					return getErr
				}
				return ErrInvalidTransition
			}
			return fmt.Errorf("resolve invitation: %w", err)
		}

		if entryTo == "" {
			return nil
		}
		table, err := entryTable(resolved.EntryKind)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE `+table+`
			SET status = $2, updated_at = $3
			WHERE id = $1
			  AND status = 'invited'
		`, resolved.WaitlistEntryID, string(entryTo), at)
		if err != nil {
			return fmt.Errorf("update waitlist entry after %s: %w", to, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *PgRepository) FindExpiredPendingInvitations(ctx context.Context, now time.Time, limit int) ([]Invitation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE status = 'pending'
		  AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired invitations: %w", err)
	}
	return scanInvitations(rows)
}

// Processing log

func (r *PgRepository) InsertProcessingLog(ctx context.Context, pl ProcessingLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO slot_processing_log (slot_offer_id, trigger, outcome, retry_count, invitations_sent, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), COALESCE($7, now()))
	`, pl.SlotOfferID, string(pl.Trigger), string(pl.Outcome), pl.RetryCount, pl.InvitationsSent, pl.Error, nullableTime(pl.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert processing log: %w", err)
	}
	return nil
}

func (r *PgRepository) CountFailedAttempts(ctx context.Context, slotOfferID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM slot_processing_log
		WHERE slot_offer_id = $1
		  AND outcome = 'failed'
	`, slotOfferID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ProcessingStatsSince(ctx context.Context, since time.Time) (ProcessingStats, error) {
	var s ProcessingStats
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'processed'),
			COUNT(*) FILTER (WHERE outcome = 'no_candidates'),
			COUNT(*) FILTER (WHERE outcome = 'already_processed'),
			COUNT(*) FILTER (WHERE outcome = 'failed'),
			COALESCE(SUM(invitations_sent), 0)
		FROM slot_processing_log
		WHERE created_at >= $1
	`, since).Scan(&s.Attempts, &s.Processed, &s.NoCandidates, &s.AlreadyProcessed, &s.Failed, &s.InvitationsSent)
	if err != nil {
		return ProcessingStats{}, fmt.Errorf("processing stats: %w", err)
	}
	return s, nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO rebooking_events (event_type, slot_offer_id, invitation_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.SlotOfferID, ev.InvitationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
