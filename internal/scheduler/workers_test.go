package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/applications"
	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/bookings"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/memstore"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

type fakeBookings struct {
	mu       sync.Mutex
	due      []uuid.UUID
	fail     map[uuid.UUID]bool
	released []uuid.UUID
}

func (f *fakeBookings) DueForRelease(ctx context.Context, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, id := range f.due {
		if !contains(f.released, id) && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeBookings) AutoRelease(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return false, apperr.Invariant(errors.New("escrow short"), "release %s", id)
	}
	f.released = append(f.released, id)
	return true, nil
}

func (f *fakeBookings) OverdueAssigned(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, errors.New("db down")
}

func (f *fakeBookings) AutoCancelNoShow(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestAutoReleaseSkipsFailures(t *testing.T) {
	bad := uuid.New()
	good := []uuid.UUID{uuid.New(), uuid.New()}
	f := &fakeBookings{due: []uuid.UUID{good[0], bad, good[1]}, fail: map[uuid.UUID]bool{bad: true}}

	err := NewAutoReleaseWorker(f, nil).Work(context.Background(), &river.Job[AutoReleaseArgs]{})
	require.NoError(t, err)
	assert.ElementsMatch(t, good, f.released)
}

func TestAutoReleaseDrainsSeveralBatches(t *testing.T) {
	f := &fakeBookings{fail: map[uuid.UUID]bool{}}
	for range batchSize + 7 {
		f.due = append(f.due, uuid.New())
	}

	require.NoError(t, NewAutoReleaseWorker(f, nil).Work(context.Background(), &river.Job[AutoReleaseArgs]{}))
	assert.Len(t, f.released, batchSize+7)
}

func TestListFailureIsRetried(t *testing.T) {
	err := NewNoShowWorker(&fakeBookings{}, nil).Work(context.Background(), &river.Job[NoShowArgs]{})
	assert.ErrorContains(t, err, "db down")
}

func TestPeriodicJobs(t *testing.T) {
	jobs, err := PeriodicJobs("*/15 * * * *", "0 2 * * *")
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	_, err = PeriodicJobs("every minute", "0 2 * * *")
	assert.Error(t, err)
}

// TestSweepReleasesDueBooking runs the auto-release sweep against the real booking engine.
func TestSweepReleasesDueBooking(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	users := auth.NewService(st.Users(), "test-secret", 1, nil)
	ldg := ledger.NewService(st.Ledger(), st, ledger.Options{}, nil)
	engine := bookings.NewService(bookings.Deps{Store: st.Bookings(), Jobs: st.Jobs(), Escrow: ldg, DB: st},
		bookings.Options{AutoReleaseGrace: time.Hour}, nil)
	apps := applications.NewService(applications.Deps{
		Store: st.Applications(), Jobs: st.Jobs(), Users: users, Escrow: ldg, Bookings: engine, DB: st,
	}, nil)

	client, err := users.Register(ctx, "client@example.com", "password123", "C", models.RoleClient)
	require.NoError(t, err)
	hauler, err := users.Register(ctx, "hauler@example.com", "password123", "H", models.RoleHauler)
	require.NoError(t, err)
	st.Ledger().Seed(models.Account{UserID: client.ID, Available: money.MustParse("200.00")})
	now := time.Now()
	job := &models.Job{ID: uuid.New(), ClientID: client.ID, Title: "Boxes", Category: "packing",
		Budget: money.MustParse("150.00"), ScheduledAt: now.Add(time.Hour), Status: models.JobOpen, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.Jobs().Create(ctx, job))

	app, err := apps.Apply(ctx, hauler.ID, job.ID, "ok")
	require.NoError(t, err)
	_, err = apps.Act(ctx, client.ID, app.ID, applications.StartChat{})
	require.NoError(t, err)
	res, err := apps.Act(ctx, client.ID, app.ID, applications.Hire{})
	require.NoError(t, err)
	id := res.Booking.ID

	_, err = engine.ConfirmPickup(ctx, client.ID, id, res.Booking.PickupCode)
	require.NoError(t, err)
	for _, kind := range []models.EvidenceKind{models.EvidencePickup, models.EvidenceDropoff} {
		_, err = engine.AddEvidence(ctx, hauler.ID, id, bookings.EvidenceInput{Kind: kind, ArtifactRef: "ref"})
		require.NoError(t, err)
	}
	_, err = engine.MarkDone(ctx, hauler.ID, id)
	require.NoError(t, err)

	w := NewAutoReleaseWorker(engine, nil)
	require.NoError(t, w.Work(ctx, &river.Job[AutoReleaseArgs]{}))
	b, err := st.Bookings().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPendingCompletion, b.Status, "deadline not reached")

	st.Bookings().SetAutoReleaseAt(id, time.Now().Add(-time.Second))
	for range 3 {
		require.NoError(t, w.Work(ctx, &river.Job[AutoReleaseArgs]{}))
	}
	b, err = st.Bookings().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, b.Status)

	releases := 0
	for _, tx := range st.Ledger().Transactions() {
		if tx.Type == models.TxEscrowRelease {
			releases++
		}
	}
	assert.Equal(t, 1, releases)
	acct, err := st.Ledger().GetAccount(ctx, hauler.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("150.00"), acct.Available)
}

type fakeLedger struct{ matured, released int }

func (f *fakeLedger) MatureDeposits(context.Context) (int, error)  { return f.matured, nil }
func (f *fakeLedger) ReleaseReserves(context.Context) (int, error) { return f.released, nil }

func TestMaturityWorker(t *testing.T) {
	require.NoError(t, NewMaturityWorker(&fakeLedger{matured: 2, released: 1}, nil).Work(context.Background(), &river.Job[MaturityArgs]{}))
}
