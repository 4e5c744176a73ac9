// Package bookings is the booking state machine: pickup, evidence, completion, disputes, no-shows and
// amendments. Every transition locks the booking row, so transitions on one booking are serialized.
package bookings

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/events"
	"github.com/haulhub/backend/internal/metrics"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

const (
	codeDigits = 6

	defaultPickupMaxAttempts = 5
	defaultPickupLockout     = 15 * time.Minute
)

// errUnchanged ends a transition without writing anything.
var errUnchanged = errors.New("booking unchanged")

// Outcome is an arbiter's decision on a dispute.
type Outcome string

const (
	OutcomeHauler Outcome = "hauler"
	OutcomeClient Outcome = "client"
)

type Jobs interface {
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.JobStatus, at time.Time) error
}

// Escrow is the ledger surface the engine drives. Release and Refund failures are fatal.
type Escrow interface {
	Lock(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
	Release(ctx context.Context, tx pgx.Tx, clientID, haulerID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
	Refund(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
}

// Strikes records a confirmed no-show against a hauler.
type Strikes interface {
	RecordNoShow(ctx context.Context, tx pgx.Tx, haulerID uuid.UUID) (*models.User, error)
}

type EvidenceInput struct {
	Kind        models.EvidenceKind
	ArtifactRef string
	Lat, Lng    *float64
}

type Options struct {
	AutoReleaseGrace      time.Duration
	NoShowWindow          time.Duration
	NoShowAutoCancelAfter time.Duration
	// PickupMaxAttempts wrong pickup codes lock the booking for PickupLockout. Both live on the booking row,
	// so the lockout holds across restarts and instances.
	PickupMaxAttempts int
	PickupLockout     time.Duration
}

type Service interface {
	Spawn(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, job *models.Job, app *models.Application) (*models.Booking, error)
	Get(ctx context.Context, actorID, id uuid.UUID) (*models.Booking, error)
	ListMine(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error)

	ConfirmPickup(ctx context.Context, clientID, id uuid.UUID, code string) (*models.Booking, error)
	AddEvidence(ctx context.Context, haulerID, id uuid.UUID, in EvidenceInput) (*models.Booking, error)
	MarkDone(ctx context.Context, haulerID, id uuid.UUID) (*models.Booking, error)
	Complete(ctx context.Context, clientID, id uuid.UUID) (*models.Booking, error)
	OpenDispute(ctx context.Context, clientID, id uuid.UUID, reason string) (*models.Booking, error)
	Resolve(ctx context.Context, id uuid.UUID, outcome Outcome, note string) (*models.Booking, error)
	ReportNoShow(ctx context.Context, clientID, id uuid.UUID) (*models.Booking, error)

	RequestAmendment(ctx context.Context, haulerID, id uuid.UUID, amount money.Amount, reason string) (*models.Booking, error)
	RespondAmendment(ctx context.Context, clientID, id, amendmentID uuid.UUID, accept bool) (*models.Booking, error)

	// AutoRelease completes a booking whose auto-release deadline has passed. It reports false when the
	// booking is no longer eligible, which includes having been completed or disputed in the meantime.
	AutoRelease(ctx context.Context, id uuid.UUID) (bool, error)
	// AutoCancelNoShow cancels a booking whose hauler never confirmed pickup.
	AutoCancelNoShow(ctx context.Context, id uuid.UUID) (bool, error)
	DueForRelease(ctx context.Context, limit int) ([]uuid.UUID, error)
	OverdueAssigned(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type Deps struct {
	Store   Store
	Jobs    Jobs
	Escrow  Escrow
	Strikes Strikes
	Enqueue events.EnqueueTxFunc
	DB      db.Beginner
}

type service struct {
	Deps
	opts Options
	now  func() time.Time
	log  *slog.Logger
}

func NewService(d Deps, opts Options, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	if opts.PickupMaxAttempts <= 0 {
		opts.PickupMaxAttempts = defaultPickupMaxAttempts
	}
	if opts.PickupLockout <= 0 {
		opts.PickupLockout = defaultPickupLockout
	}
	return &service{Deps: d, opts: opts, now: time.Now, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Spawn(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, job *models.Job, app *models.Application) (*models.Booking, error) {
	code, err := newPickupCode()
	if err != nil {
		return nil, err
	}
	now := s.now()
	b := &models.Booking{
		ID:             bookingID,
		JobID:          job.ID,
		ApplicationID:  app.ID,
		ClientID:       job.ClientID,
		HaulerID:       app.HaulerID,
		Amount:         job.Budget,
		Status:         models.BookingAssigned,
		PickupCode:     code,
		ScheduledAt:    job.ScheduledAt,
		EscrowLockedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
		Evidence:       []models.Evidence{},
		Amendments:     []models.Amendment{},
	}
	if err := s.Store.Create(ctx, tx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func newPickupCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate pickup code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func (s *service) Get(ctx context.Context, actorID, id uuid.UUID) (*models.Booking, error) {
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Participant(actorID) {
		return nil, apperr.Forbidden("not a participant in this booking")
	}
	return b, nil
}

func (s *service) ListMine(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error) {
	return s.Store.ListByParticipant(ctx, userID)
}

// ConfirmPickup checks the client's code. A wrong code is persisted as a failed attempt before the error is
// returned, and PickupMaxAttempts failures lock the booking for PickupLockout.
func (s *service) ConfirmPickup(ctx context.Context, clientID, id uuid.UUID, code string) (*models.Booking, error) {
	mismatch := false
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.ClientID != clientID {
			return apperr.Forbidden("only the client confirms pickup")
		}
		if b.Status != models.BookingAssigned {
			return apperr.InvalidState("booking is %s; pickup can only be confirmed while assigned", b.Status)
		}
		if b.PickupLockedUntil != nil && now.Before(*b.PickupLockedUntil) {
			return apperr.Throttled("too many pickup code attempts; try again after %s", b.PickupLockedUntil.Format(time.RFC3339))
		}
		ok := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(b.PickupCode)) == 1
		metrics.RecordPickupAttempt(ok)
		if !ok {
			mismatch = true
			b.PickupAttempts++
			if b.PickupAttempts >= s.opts.PickupMaxAttempts {
				until := now.Add(s.opts.PickupLockout)
				b.PickupLockedUntil = &until
				b.PickupAttempts = 0
				s.log.Warn("pickup code locked", "booking_id", b.ID, "until", until)
			}
			return nil
		}
		b.PickupAttempts = 0
		b.PickupLockedUntil = nil
		b.Status = models.BookingInProgress
		b.PickupConfirmedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mismatch {
		return nil, apperr.Unauthenticated("pickup code does not match")
	}
	return b, nil
}

// AddEvidence records a pickup or dropoff artifact. A new upload of the same kind supersedes the previous one.
func (s *service) AddEvidence(ctx context.Context, haulerID, id uuid.UUID, in EvidenceInput) (*models.Booking, error) {
	if in.Kind != models.EvidencePickup && in.Kind != models.EvidenceDropoff {
		return nil, apperr.Validation("evidence kind must be pickup or dropoff")
	}
	if strings.TrimSpace(in.ArtifactRef) == "" {
		return nil, apperr.Validation("artifact is required")
	}
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.HaulerID != haulerID {
			return apperr.Forbidden("only the hauler uploads evidence")
		}
		if b.Status != models.BookingAssigned && b.Status != models.BookingInProgress {
			return apperr.InvalidState("booking is %s; evidence is closed", b.Status)
		}
		if err := s.Store.SupersedeEvidence(ctx, tx, b.ID, in.Kind, now); err != nil {
			return err
		}
		e := models.Evidence{
			ID:          uuid.New(),
			BookingID:   b.ID,
			Kind:        in.Kind,
			ArtifactRef: strings.TrimSpace(in.ArtifactRef),
			Lat:         in.Lat,
			Lng:         in.Lng,
			CapturedAt:  now,
		}
		if err := s.Store.InsertEvidence(ctx, tx, &e); err != nil {
			return err
		}
		if prev := b.CurrentEvidence(in.Kind); prev != nil {
			prev.SupersededAt = &now
		}
		b.Evidence = append(b.Evidence, e)
		return nil
	})
	return b, err
}

func (s *service) MarkDone(ctx context.Context, haulerID, id uuid.UUID) (*models.Booking, error) {
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.HaulerID != haulerID {
			return apperr.Forbidden("only the hauler marks a booking done")
		}
		if b.Status != models.BookingInProgress {
			return apperr.InvalidState("booking is %s; only an in-progress booking can be marked done", b.Status)
		}
		var missing []string
		for _, kind := range []models.EvidenceKind{models.EvidencePickup, models.EvidenceDropoff} {
			if b.CurrentEvidence(kind) == nil {
				missing = append(missing, string(kind))
			}
		}
		if len(missing) > 0 {
			return apperr.Precondition("missing %s evidence", strings.Join(missing, " and "))
		}
		deadline := now.Add(s.opts.AutoReleaseGrace)
		b.Status = models.BookingPendingCompletion
		b.HaulerMarkedDone = &now
		b.AutoReleaseAt = &deadline
		return nil
	})
	return b, err
}

// Complete releases escrow to the hauler. Completing an already completed booking returns it unchanged.
func (s *service) Complete(ctx context.Context, clientID, id uuid.UUID) (*models.Booking, error) {
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.ClientID != clientID {
			return apperr.Forbidden("only the client completes a booking")
		}
		switch b.Status {
		case models.BookingCompleted:
			return errUnchanged
		case models.BookingPendingCompletion:
			return s.release(ctx, tx, b, now, "Payment for completed booking")
		}
		return apperr.InvalidState("booking is %s and cannot be completed", b.Status)
	})
	return b, err
}

func (s *service) AutoRelease(ctx context.Context, id uuid.UUID) (bool, error) {
	_, changed, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.Status != models.BookingPendingCompletion || b.AutoReleaseAt == nil || b.AutoReleaseAt.After(now) {
			return errUnchanged
		}
		return s.release(ctx, tx, b, now, "Payment auto-released after grace period")
	})
	return changed, err
}

func (s *service) release(ctx context.Context, tx pgx.Tx, b *models.Booking, now time.Time, desc string) error {
	if err := s.Escrow.Release(ctx, tx, b.ClientID, b.HaulerID, b.Amount, b.ID, desc); err != nil {
		return err
	}
	b.Status = models.BookingCompleted
	b.CompletedAt = &now
	return nil
}

// OpenDispute freezes a pending completion. Clearing the deadline takes the booking out of the auto-release sweep.
func (s *service) OpenDispute(ctx context.Context, clientID, id uuid.UUID, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("dispute reason is required")
	}
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.ClientID != clientID {
			return apperr.Forbidden("only the client opens a dispute")
		}
		if b.Status != models.BookingPendingCompletion {
			return apperr.InvalidState("booking is %s; disputes are only possible while pending completion", b.Status)
		}
		b.Status = models.BookingDisputed
		b.DisputeOpenedAt = &now
		b.DisputeReason = reason
		b.AutoReleaseAt = nil
		return nil
	})
	return b, err
}

func (s *service) Resolve(ctx context.Context, id uuid.UUID, outcome Outcome, note string) (*models.Booking, error) {
	if outcome != OutcomeHauler && outcome != OutcomeClient {
		return nil, apperr.Validation("outcome must be hauler or client")
	}
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.Status != models.BookingDisputed {
			return apperr.InvalidState("booking is %s; only disputed bookings can be resolved", b.Status)
		}
		if outcome == OutcomeHauler {
			if err := s.Escrow.Release(ctx, tx, b.ClientID, b.HaulerID, b.Amount, b.ID, "Dispute resolved for hauler"); err != nil {
				return err
			}
			b.Status = models.BookingResolvedHauler
		} else {
			if err := s.Escrow.Refund(ctx, tx, b.ClientID, b.Amount, b.ID, "Dispute resolved for client"); err != nil {
				return err
			}
			b.Status = models.BookingResolvedClient
		}
		b.ResolutionNote = strings.TrimSpace(note)
		b.CompletedAt = &now
		return nil
	})
	return b, err
}

func (s *service) ReportNoShow(ctx context.Context, clientID, id uuid.UUID) (*models.Booking, error) {
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.ClientID != clientID {
			return apperr.Forbidden("only the client reports a no-show")
		}
		if b.Status != models.BookingAssigned {
			return apperr.InvalidState("booking is %s; no-show only applies before pickup", b.Status)
		}
		if opens := b.ScheduledAt.Add(s.opts.NoShowWindow); now.Before(opens) {
			return apperr.Precondition("no-show can be reported from %s", opens.Format(time.RFC3339))
		}
		return s.cancelNoShow(ctx, tx, b, now, "Refund: hauler did not show")
	})
	return b, err
}

func (s *service) AutoCancelNoShow(ctx context.Context, id uuid.UUID) (bool, error) {
	_, changed, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.Status != models.BookingAssigned || now.Before(b.ScheduledAt.Add(s.opts.NoShowAutoCancelAfter)) {
			return errUnchanged
		}
		return s.cancelNoShow(ctx, tx, b, now, "Refund: pickup never confirmed")
	})
	return changed, err
}

func (s *service) cancelNoShow(ctx context.Context, tx pgx.Tx, b *models.Booking, now time.Time, desc string) error {
	if err := s.Escrow.Refund(ctx, tx, b.ClientID, b.Amount, b.ID, desc); err != nil {
		return err
	}
	if s.Strikes != nil {
		if _, err := s.Strikes.RecordNoShow(ctx, tx, b.HaulerID); err != nil {
			return err
		}
	}
	b.Status = models.BookingCancelled
	b.CancelledAt = &now
	return nil
}

func (s *service) RequestAmendment(ctx context.Context, haulerID, id uuid.UUID, amount money.Amount, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case amount <= 0:
		return nil, apperr.Validation("proposed amount must be greater than zero")
	case reason == "":
		return nil, apperr.Validation("amendment reason is required")
	}
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.HaulerID != haulerID {
			return apperr.Forbidden("only the hauler proposes an amendment")
		}
		if b.Status != models.BookingAssigned && b.Status != models.BookingInProgress {
			return apperr.InvalidState("booking is %s; amendments are closed", b.Status)
		}
		if amount == b.Amount {
			return apperr.Validation("proposed amount equals the current amount")
		}
		for _, a := range b.Amendments {
			if a.Status == models.AmendmentPending {
				return apperr.Conflict("amendment %s is still awaiting a response", a.ID)
			}
		}
		a := models.Amendment{
			ID:             uuid.New(),
			BookingID:      b.ID,
			ProposedAmount: amount,
			PreviousAmount: b.Amount,
			Reason:         reason,
			Status:         models.AmendmentPending,
			CreatedAt:      now,
		}
		if err := s.Store.InsertAmendment(ctx, tx, &a); err != nil {
			return err
		}
		b.Amendments = append(b.Amendments, a)
		return nil
	})
	return b, err
}

// RespondAmendment settles a pending amendment. Accepting moves the difference between the client's available
// balance and escrow; rejecting moves nothing.
func (s *service) RespondAmendment(ctx context.Context, clientID, id, amendmentID uuid.UUID, accept bool) (*models.Booking, error) {
	b, _, err := s.transition(ctx, id, func(tx pgx.Tx, b *models.Booking, now time.Time) error {
		if b.ClientID != clientID {
			return apperr.Forbidden("only the client responds to an amendment")
		}
		a := b.Amendment(amendmentID)
		if a == nil {
			return apperr.NotFound("amendment")
		}
		if a.Status != models.AmendmentPending {
			return apperr.InvalidState("amendment is already %s", a.Status)
		}
		if !accept {
			a.Status = models.AmendmentRejected
			a.RespondedAt = &now
			return s.Store.UpdateAmendment(ctx, tx, a)
		}
		if b.Status != models.BookingAssigned && b.Status != models.BookingInProgress {
			return apperr.InvalidState("booking is %s; the amount can no longer change", b.Status)
		}
		switch diff := a.ProposedAmount - b.Amount; {
		case diff > 0:
			if err := s.Escrow.Lock(ctx, tx, b.ClientID, diff, b.ID, "Escrow increase from amendment"); err != nil {
				return err
			}
		case diff < 0:
			if err := s.Escrow.Refund(ctx, tx, b.ClientID, -diff, b.ID, "Escrow decrease from amendment"); err != nil {
				return err
			}
		}
		a.PreviousAmount = b.Amount
		b.Amount = a.ProposedAmount
		a.Status = models.AmendmentAccepted
		a.RespondedAt = &now
		return s.Store.UpdateAmendment(ctx, tx, a)
	})
	return b, err
}

func (s *service) DueForRelease(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.Store.ListDueForRelease(ctx, s.now(), limit)
}

func (s *service) OverdueAssigned(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.Store.ListOverdueAssigned(ctx, s.now().Add(-s.opts.NoShowAutoCancelAfter), limit)
}

// expireAmendments rejects whatever amendment is still pending once the booking is closed.
func (s *service) expireAmendments(ctx context.Context, tx pgx.Tx, b *models.Booking, now time.Time) error {
	for i := range b.Amendments {
		a := &b.Amendments[i]
		if a.Status != models.AmendmentPending {
			continue
		}
		a.Status = models.AmendmentRejected
		a.RespondedAt = &now
		if err := s.Store.UpdateAmendment(ctx, tx, a); err != nil {
			return err
		}
		s.log.Info("amendment expired", "booking_id", b.ID, "amendment_id", a.ID, "status", b.Status)
	}
	return nil
}

// transition locks the booking, applies fn and persists the result. A status change is mirrored onto the job,
// and a terminal status rejects pending amendments and enqueues its event in the same transaction.
func (s *service) transition(ctx context.Context, id uuid.UUID, fn func(tx pgx.Tx, b *models.Booking, now time.Time) error) (*models.Booking, bool, error) {
	var (
		out  *models.Booking
		from models.BookingStatus
	)
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		b, err := s.Store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = b.Status
		out = b
		now := s.now()
		if err := fn(tx, b, now); err != nil {
			return err
		}
		if b.Status != from && b.Status.Terminal() {
			if err := s.expireAmendments(ctx, tx, b, now); err != nil {
				return err
			}
		}
		b.UpdatedAt = now
		if err := s.Store.Update(ctx, tx, b); err != nil {
			return err
		}
		if b.Status != from {
			if js := b.Status.JobStatus(); js != from.JobStatus() {
				if err := s.Jobs.UpdateStatus(ctx, tx, b.JobID, js, now); err != nil {
					return err
				}
			}
			if b.Status.Terminal() && s.Enqueue != nil {
				err := s.Enqueue(ctx, tx, events.Event{
					ID:         uuid.New(),
					Type:       "booking." + string(b.Status),
					JobID:      b.JobID,
					BookingID:  &b.ID,
					ClientID:   b.ClientID,
					HaulerID:   b.HaulerID,
					OccurredAt: now,
				})
				if err != nil {
					return fmt.Errorf("enqueue booking event: %w", err)
				}
			}
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return out, false, nil
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvariant {
			s.log.Error("ledger invariant violated during booking transition", "booking_id", id, "error", err)
		}
		return nil, false, err
	}
	changed := out.Status != from
	if changed {
		metrics.RecordTransition("booking", string(out.Status))
		if js := out.Status.JobStatus(); js != from.JobStatus() {
			metrics.RecordTransition("job", string(js))
		}
		s.log.Info("booking transition", "booking_id", out.ID, "job_id", out.JobID, "from", from, "to", out.Status)
	}
	return out, changed, nil
}
