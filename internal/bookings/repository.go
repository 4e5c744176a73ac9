package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, tx pgx.Tx, b *models.Booking) error
	// Get and GetForUpdate return the booking with its evidence and amendments attached.
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error)
	Update(ctx context.Context, tx pgx.Tx, b *models.Booking) error
	SupersedeEvidence(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, kind models.EvidenceKind, at time.Time) error
	InsertEvidence(ctx context.Context, tx pgx.Tx, e *models.Evidence) error
	InsertAmendment(ctx context.Context, tx pgx.Tx, a *models.Amendment) error
	UpdateAmendment(ctx context.Context, tx pgx.Tx, a *models.Amendment) error
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListOverdueAssigned(ctx context.Context, scheduledBefore time.Time, limit int) ([]uuid.UUID, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const bookingColumns = `id, job_id, application_id, client_id, hauler_id, amount_cents, status, pickup_code, scheduled_at,
	escrow_locked_at, pickup_confirmed_at, hauler_marked_done_at, dispute_opened_at, dispute_reason, resolution_note,
	auto_release_at, completed_at, cancelled_at, created_at, updated_at, pickup_attempts, pickup_locked_until`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	var status string
	err := row.Scan(&b.ID, &b.JobID, &b.ApplicationID, &b.ClientID, &b.HaulerID, &b.Amount, &status, &b.PickupCode,
		&b.ScheduledAt, &b.EscrowLockedAt, &b.PickupConfirmedAt, &b.HaulerMarkedDone, &b.DisputeOpenedAt,
		&b.DisputeReason, &b.ResolutionNote, &b.AutoReleaseAt, &b.CompletedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
		&b.PickupAttempts, &b.PickupLockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("booking")
	}
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	return &b, nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, b.ID, b.JobID, b.ApplicationID, b.ClientID, b.HaulerID, b.Amount.Cents(), string(b.Status), b.PickupCode,
		b.ScheduledAt, b.EscrowLockedAt, b.PickupConfirmedAt, b.HaulerMarkedDone, b.DisputeOpenedAt, b.DisputeReason,
		b.ResolutionNote, b.AutoReleaseAt, b.CompletedAt, b.CancelledAt, b.CreatedAt, b.UpdatedAt, b.PickupAttempts,
		b.PickupLockedUntil)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("job already has a booking")
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.load(ctx, r.pool, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	return r.load(ctx, tx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) load(ctx context.Context, q querier, sql string, id uuid.UUID) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, err
	}
	if err := attach(ctx, q, b); err != nil {
		return nil, err
	}
	return b, nil
}

func attach(ctx context.Context, q querier, b *models.Booking) error {
	rows, err := q.Query(ctx, `
		SELECT id, booking_id, kind, artifact_ref, lat, lng, captured_at, superseded_at
		FROM booking_evidence WHERE booking_id = $1 ORDER BY captured_at
	`, b.ID)
	if err != nil {
		return err
	}
	b.Evidence, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Evidence, error) {
		var e models.Evidence
		var kind string
		err := row.Scan(&e.ID, &e.BookingID, &kind, &e.ArtifactRef, &e.Lat, &e.Lng, &e.CapturedAt, &e.SupersededAt)
		e.Kind = models.EvidenceKind(kind)
		return e, err
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, booking_id, proposed_amount_cents, previous_amount_cents, reason, status, created_at, responded_at
		FROM booking_amendments WHERE booking_id = $1 ORDER BY created_at
	`, b.ID)
	if err != nil {
		return err
	}
	b.Amendments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Amendment, error) {
		var a models.Amendment
		var status string
		err := row.Scan(&a.ID, &a.BookingID, &a.ProposedAmount, &a.PreviousAmount, &a.Reason, &status, &a.CreatedAt, &a.RespondedAt)
		a.Status = models.AmendmentStatus(status)
		return a, err
	})
	return err
}

func (r *Repository) Update(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET
			amount_cents = $2, status = $3, pickup_confirmed_at = $4, hauler_marked_done_at = $5,
			dispute_opened_at = $6, dispute_reason = $7, resolution_note = $8, auto_release_at = $9,
			completed_at = $10, cancelled_at = $11, updated_at = $12, pickup_attempts = $13, pickup_locked_until = $14
		WHERE id = $1
	`, b.ID, b.Amount.Cents(), string(b.Status), b.PickupConfirmedAt, b.HaulerMarkedDone, b.DisputeOpenedAt,
		b.DisputeReason, b.ResolutionNote, b.AutoReleaseAt, b.CompletedAt, b.CancelledAt, b.UpdatedAt,
		b.PickupAttempts, b.PickupLockedUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("booking")
	}
	return nil
}

func (r *Repository) SupersedeEvidence(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, kind models.EvidenceKind, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_evidence SET superseded_at = $3
		WHERE booking_id = $1 AND kind = $2 AND superseded_at IS NULL
	`, bookingID, string(kind), at)
	return err
}

func (r *Repository) InsertEvidence(ctx context.Context, tx pgx.Tx, e *models.Evidence) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_evidence (id, booking_id, kind, artifact_ref, lat, lng, captured_at, superseded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.BookingID, string(e.Kind), e.ArtifactRef, e.Lat, e.Lng, e.CapturedAt, e.SupersededAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("booking already has current %s evidence", e.Kind)
	}
	return err
}

func (r *Repository) InsertAmendment(ctx context.Context, tx pgx.Tx, a *models.Amendment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_amendments (id, booking_id, proposed_amount_cents, previous_amount_cents, reason, status,
			created_at, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.BookingID, a.ProposedAmount.Cents(), a.PreviousAmount.Cents(), a.Reason, string(a.Status),
		a.CreatedAt, a.RespondedAt)
	return err
}

func (r *Repository) UpdateAmendment(ctx context.Context, tx pgx.Tx, a *models.Amendment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE booking_amendments SET previous_amount_cents = $2, status = $3, responded_at = $4 WHERE id = $1
	`, a.ID, a.PreviousAmount.Cents(), string(a.Status), a.RespondedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("amendment")
	}
	return nil
}

func (r *Repository) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = 'pending_completion' AND auto_release_at <= $1
		ORDER BY auto_release_at LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) ListOverdueAssigned(ctx context.Context, scheduledBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = 'assigned' AND scheduled_at <= $1
		ORDER BY scheduled_at LIMIT $2
	`, scheduledBefore, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE client_id = $1 OR hauler_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range out {
		if err := attach(ctx, r.pool, b); err != nil {
			return nil, err
		}
	}
	return out, nil
}
