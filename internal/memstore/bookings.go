package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
)

type Bookings struct{ s *Store }

func (r *Bookings) Create(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	st := r.s.in(tx)
	for _, existing := range st.bookings {
		if existing.JobID == b.JobID {
			return apperr.Conflict("job already has a booking")
		}
	}
	row := *b
	row.Evidence, row.Amendments = nil, nil
	st.bookings[b.ID] = row
	return nil
}

func (r *Bookings) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var out *models.Booking
	r.s.locked(func(st *state) { out = st.assemble(id) })
	if out == nil {
		return nil, apperr.NotFound("booking")
	}
	return out, nil
}

func (r *Bookings) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	out := r.s.in(tx).assemble(id)
	if out == nil {
		return nil, apperr.NotFound("booking")
	}
	return out, nil
}

func (r *Bookings) Update(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	st := r.s.in(tx)
	if _, ok := st.bookings[b.ID]; !ok {
		return apperr.NotFound("booking")
	}
	row := *b
	row.Evidence, row.Amendments = nil, nil
	st.bookings[b.ID] = row
	return nil
}

func (r *Bookings) SupersedeEvidence(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, kind models.EvidenceKind, at time.Time) error {
	st := r.s.in(tx)
	for i := range st.evidence {
		e := &st.evidence[i]
		if e.BookingID == bookingID && e.Kind == kind && e.SupersededAt == nil {
			t := at
			e.SupersededAt = &t
		}
	}
	return nil
}

func (r *Bookings) InsertEvidence(ctx context.Context, tx pgx.Tx, e *models.Evidence) error {
	st := r.s.in(tx)
	for _, existing := range st.evidence {
		if existing.BookingID == e.BookingID && existing.Kind == e.Kind && existing.SupersededAt == nil {
			return apperr.Conflict("booking already has current %s evidence", e.Kind)
		}
	}
	st.evidence = append(st.evidence, *e)
	return nil
}

func (r *Bookings) InsertAmendment(ctx context.Context, tx pgx.Tx, a *models.Amendment) error {
	st := r.s.in(tx)
	st.amendments = append(st.amendments, *a)
	return nil
}

func (r *Bookings) UpdateAmendment(ctx context.Context, tx pgx.Tx, a *models.Amendment) error {
	st := r.s.in(tx)
	for i := range st.amendments {
		if st.amendments[i].ID == a.ID {
			st.amendments[i] = *a
			return nil
		}
	}
	return apperr.NotFound("amendment")
}

func (r *Bookings) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return r.ids(func(b *models.Booking) bool {
		return b.Status == models.BookingPendingCompletion && b.AutoReleaseAt != nil && !b.AutoReleaseAt.After(now)
	}, limit), nil
}

func (r *Bookings) ListOverdueAssigned(ctx context.Context, scheduledBefore time.Time, limit int) ([]uuid.UUID, error) {
	return r.ids(func(b *models.Booking) bool {
		return b.Status == models.BookingAssigned && !b.ScheduledAt.After(scheduledBefore)
	}, limit), nil
}

func (r *Bookings) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error) {
	var out []*models.Booking
	r.s.locked(func(st *state) {
		for id, b := range st.bookings {
			if b.Participant(userID) {
				out = append(out, st.assemble(id))
			}
		}
	})
	slices.SortFunc(out, func(a, b *models.Booking) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// SetAutoReleaseAt moves a booking's deadline, for tests that need an already-due booking.
func (r *Bookings) SetAutoReleaseAt(id uuid.UUID, at time.Time) {
	r.s.locked(func(st *state) {
		b := st.bookings[id]
		b.AutoReleaseAt = &at
		st.bookings[id] = b
	})
}

func (r *Bookings) ids(keep func(*models.Booking) bool, limit int) []uuid.UUID {
	var matched []*models.Booking
	r.s.locked(func(st *state) {
		for _, b := range st.bookings {
			if keep(&b) {
				matched = append(matched, &b)
			}
		}
	})
	slices.SortFunc(matched, func(a, b *models.Booking) int { return a.CreatedAt.Compare(b.CreatedAt) })
	out := make([]uuid.UUID, 0, len(matched))
	for _, b := range matched {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, b.ID)
	}
	return out
}

func (st *state) assemble(id uuid.UUID) *models.Booking {
	b, ok := st.bookings[id]
	if !ok {
		return nil
	}
	b.Evidence = []models.Evidence{}
	for _, e := range st.evidence {
		if e.BookingID == id {
			b.Evidence = append(b.Evidence, e)
		}
	}
	b.Amendments = []models.Amendment{}
	for _, a := range st.amendments {
		if a.BookingID == id {
			b.Amendments = append(b.Amendments, a)
		}
	}
	return &b
}
