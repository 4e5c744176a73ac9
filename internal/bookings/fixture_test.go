package bookings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/applications"
	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/events"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/memstore"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

const grace = 48 * time.Hour

var testOptions = Options{
	AutoReleaseGrace:      grace,
	NoShowWindow:          30 * time.Minute,
	NoShowAutoCancelAfter: 2 * time.Hour,
	PickupMaxAttempts:     5,
	PickupLockout:         15 * time.Minute,
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type env struct {
	st     *memstore.Store
	clock  *clock
	users  auth.Service
	ledger ledger.Service
	apps   applications.Service
	svc    *service

	mu     sync.Mutex
	events []events.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	e := &env{st: st, clock: &clock{t: time.Now().UTC().Truncate(time.Second)}}
	e.users = auth.NewService(st.Users(), "test-secret", 1, nil)
	e.ledger = ledger.NewService(st.Ledger(), st, ledger.Options{Now: e.clock.now}, nil)
	e.svc = NewService(Deps{
		Store:   st.Bookings(),
		Jobs:    st.Jobs(),
		Escrow:  e.ledger,
		Strikes: e.users,
		Enqueue: e.record,
		DB:      st,
	}, testOptions, nil)
	e.svc.now = e.clock.now
	e.apps = applications.NewService(applications.Deps{
		Store:    st.Applications(),
		Jobs:     st.Jobs(),
		Users:    e.users,
		Escrow:   e.ledger,
		Bookings: e.svc,
		Enqueue:  e.record,
		DB:       st,
	}, nil)
	return e
}

func (e *env) record(_ context.Context, _ pgx.Tx, ev events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *env) eventTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func (e *env) user(t *testing.T, role models.Role) uuid.UUID {
	t.Helper()
	u, err := e.users.Register(context.Background(), uuid.NewString()+"@example.com", "password123", "U", role)
	require.NoError(t, err)
	return u.ID
}

func (e *env) fund(userID uuid.UUID, available string) {
	e.st.Ledger().Seed(models.Account{UserID: userID, Available: money.MustParse(available)})
}

func (e *env) account(t *testing.T, userID uuid.UUID) *models.Account {
	t.Helper()
	a, err := e.st.Ledger().GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return a
}

func (e *env) booking(t *testing.T, id uuid.UUID) *models.Booking {
	t.Helper()
	b, err := e.st.Bookings().Get(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (e *env) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := e.st.Jobs().Get(context.Background(), id)
	require.NoError(t, err)
	return j
}

type hired struct {
	client, hauler uuid.UUID
	job            *models.Job
	booking        *models.Booking
}

// hire walks a job from posting to an assigned booking: the client holds 200.00 and the budget is 150.00.
func (e *env) hire(t *testing.T) hired {
	t.Helper()
	ctx := context.Background()
	client := e.user(t, models.RoleClient)
	hauler := e.user(t, models.RoleHauler)
	e.fund(client, "200.00")

	now := e.clock.now()
	job := &models.Job{
		ID:          uuid.New(),
		ClientID:    client,
		Title:       "Move a sofa",
		Category:    "furniture_moving",
		Budget:      money.MustParse("150.00"),
		ScheduledAt: now.Add(24 * time.Hour),
		Status:      models.JobOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.st.Jobs().Create(ctx, job))

	app, err := e.apps.Apply(ctx, hauler, job.ID, "I have a van")
	require.NoError(t, err)
	_, err = e.apps.Act(ctx, client, app.ID, applications.StartChat{})
	require.NoError(t, err)
	res, err := e.apps.Act(ctx, client, app.ID, applications.Hire{})
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	return hired{client: client, hauler: hauler, job: job, booking: res.Booking}
}

// inProgress hires and confirms pickup.
func (e *env) inProgress(t *testing.T) hired {
	t.Helper()
	h := e.hire(t)
	_, err := e.svc.ConfirmPickup(context.Background(), h.client, h.booking.ID, h.booking.PickupCode)
	require.NoError(t, err)
	return h
}

// pendingCompletion hires, confirms pickup, uploads both photos and marks the booking done.
func (e *env) pendingCompletion(t *testing.T) hired {
	t.Helper()
	ctx := context.Background()
	h := e.inProgress(t)
	for _, kind := range []models.EvidenceKind{models.EvidencePickup, models.EvidenceDropoff} {
		_, err := e.svc.AddEvidence(ctx, h.hauler, h.booking.ID, EvidenceInput{Kind: kind, ArtifactRef: "s3://bucket/" + string(kind)})
		require.NoError(t, err)
	}
	_, err := e.svc.MarkDone(ctx, h.hauler, h.booking.ID)
	require.NoError(t, err)
	return h
}

func (e *env) totalHeld(t *testing.T, ids ...uuid.UUID) money.Amount {
	t.Helper()
	var sum money.Amount
	for _, id := range ids {
		sum += e.account(t, id).Total()
	}
	return sum
}
