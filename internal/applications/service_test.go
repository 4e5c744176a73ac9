package applications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/bookings"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/events"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/memstore"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

type env struct {
	st     *memstore.Store
	users  auth.Service
	svc    *service
	mu     sync.Mutex
	events []events.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	e := &env{st: st}
	e.users = auth.NewService(st.Users(), "test-secret", 1, nil)
	ldg := ledger.NewService(st.Ledger(), st, ledger.Options{}, nil)
	spawner := bookings.NewService(bookings.Deps{Store: st.Bookings(), Jobs: st.Jobs(), Escrow: ldg, DB: st}, bookings.Options{}, nil)
	e.svc = NewService(Deps{
		Store:    st.Applications(),
		Jobs:     st.Jobs(),
		Users:    e.users,
		Escrow:   ldg,
		Bookings: spawner,
		Enqueue: func(_ context.Context, _ pgx.Tx, ev events.Event) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.events = append(e.events, ev)
			return nil
		},
		DB: st,
	}, nil)
	return e
}

func (e *env) user(t *testing.T, role models.Role) uuid.UUID {
	t.Helper()
	u, err := e.users.Register(context.Background(), uuid.NewString()+"@example.com", "password123", "U", role)
	require.NoError(t, err)
	return u.ID
}

func (e *env) job(t *testing.T, client uuid.UUID, budget string) *models.Job {
	t.Helper()
	now := time.Now()
	j := &models.Job{
		ID:          uuid.New(),
		ClientID:    client,
		Title:       "Haul old fridge",
		Category:    "appliance",
		Budget:      money.MustParse(budget),
		ScheduledAt: now.Add(24 * time.Hour),
		Status:      models.JobOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.st.Jobs().Create(context.Background(), j))
	return j
}

func (e *env) negotiating(t *testing.T, client, jobID uuid.UUID) *models.Application {
	t.Helper()
	ctx := context.Background()
	app, err := e.svc.Apply(ctx, e.user(t, models.RoleHauler), jobID, "available tomorrow")
	require.NoError(t, err)
	res, err := e.svc.Act(ctx, client, app.ID, StartChat{})
	require.NoError(t, err)
	return res.Application
}

func (e *env) app(t *testing.T, id uuid.UUID) *models.Application {
	t.Helper()
	a, err := e.st.Applications().Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	hauler := e.user(t, models.RoleHauler)
	job := e.job(t, client, "150.00")

	app, err := e.svc.Apply(ctx, hauler, job.ID, "  I have a van  ")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationPending, app.Status)
	assert.Equal(t, "I have a van", app.Proposal)

	_, err = e.svc.Apply(ctx, hauler, job.ID, "again")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = e.svc.Apply(ctx, client, job.ID, "clients cannot apply")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestApplyAfterRejectionIsAllowed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	hauler := e.user(t, models.RoleHauler)
	job := e.job(t, client, "80.00")

	app, err := e.svc.Apply(ctx, hauler, job.ID, "first try")
	require.NoError(t, err)
	_, err = e.svc.Act(ctx, client, app.ID, Reject{})
	require.NoError(t, err)

	_, err = e.svc.Apply(ctx, hauler, job.ID, "second try")
	assert.NoError(t, err)
}

func TestApplyToClosedJob(t *testing.T) {
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	job := e.job(t, client, "80.00")
	require.NoError(t, db.WithTx(context.Background(), e.st, func(tx pgx.Tx) error {
		return e.st.Jobs().UpdateStatus(context.Background(), tx, job.ID, models.JobCancelled, time.Now())
	}))

	_, err := e.svc.Apply(context.Background(), e.user(t, models.RoleHauler), job.ID, "late")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestSuspendedHaulerCannotApply(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	hauler := e.user(t, models.RoleHauler)
	job := e.job(t, client, "80.00")
	for range 2 {
		require.NoError(t, db.WithTx(context.Background(), e.st, func(tx pgx.Tx) error {
			_, err := e.users.RecordNoShow(ctx, tx, hauler)
			return err
		}))
	}

	_, err := e.svc.Apply(ctx, hauler, job.ID, "please")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestStartChatOpensRoom(t *testing.T) {
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	job := e.job(t, client, "150.00")

	app := e.negotiating(t, client, job.ID)
	assert.Equal(t, models.ApplicationNegotiating, app.Status)
	require.NotNil(t, app.ChatRoomID)
	assert.Contains(t, *app.ChatRoomID, "room_")

	require.Len(t, e.events, 1)
	assert.Equal(t, events.TypeApplicationNegotiating, e.events[0].Type)
	assert.Equal(t, *app.ChatRoomID, e.events[0].ChatRoomID)

	_, err := e.svc.Act(context.Background(), client, app.ID, StartChat{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestActionsAreOwnerOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	job := e.job(t, client, "150.00")
	app, err := e.svc.Apply(ctx, e.user(t, models.RoleHauler), job.ID, "hi")
	require.NoError(t, err)

	for _, cmd := range []Command{StartChat{}, Reject{}} {
		_, err := e.svc.Act(ctx, e.user(t, models.RoleClient), app.ID, cmd)
		assert.True(t, errors.Is(err, apperr.ErrAuthorization), "%T", cmd)
	}
	assert.Equal(t, models.ApplicationPending, e.app(t, app.ID).Status)
}

func TestHireRequiresNegotiation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	e.st.Ledger().Seed(models.Account{UserID: client, Available: money.MustParse("500.00")})
	job := e.job(t, client, "150.00")
	app, err := e.svc.Apply(ctx, e.user(t, models.RoleHauler), job.ID, "hi")
	require.NoError(t, err)

	_, err = e.svc.Act(ctx, client, app.ID, Hire{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestHireWithoutFundsChangesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	e.st.Ledger().Seed(models.Account{UserID: client, Available: money.MustParse("100.00")})
	job := e.job(t, client, "150.00")
	app := e.negotiating(t, client, job.ID)

	_, err := e.svc.Act(ctx, client, app.ID, Hire{})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds))

	assert.Equal(t, models.ApplicationNegotiating, e.app(t, app.ID).Status)
	j, err := e.st.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobOpen, j.Status)
	acct, err := e.st.Ledger().GetAccount(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("100.00"), acct.Available)
	assert.Equal(t, money.Amount(0), acct.Escrow)
	assert.Empty(t, e.st.Ledger().Transactions())
	mine, err := e.st.Bookings().ListByParticipant(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestHireRejectsSiblingsEagerly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	e.st.Ledger().Seed(models.Account{UserID: client, Available: money.MustParse("200.00")})
	job := e.job(t, client, "150.00")

	chosen := e.negotiating(t, client, job.ID)
	talking := e.negotiating(t, client, job.ID)
	waiting, err := e.svc.Apply(ctx, e.user(t, models.RoleHauler), job.ID, "pick me")
	require.NoError(t, err)

	res, err := e.svc.Act(ctx, client, chosen.ID, Hire{})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationAccepted, res.Application.Status)
	require.NotNil(t, res.Booking)
	assert.Equal(t, models.BookingAssigned, res.Booking.Status)
	assert.Equal(t, job.Budget, res.Booking.Amount)

	assert.Equal(t, models.ApplicationRejected, e.app(t, talking.ID).Status)
	assert.Equal(t, models.ApplicationRejected, e.app(t, waiting.ID).Status)

	for _, cmd := range []Command{Hire{}, Reject{}, StartChat{}} {
		_, err := e.svc.Act(ctx, client, talking.ID, cmd)
		assert.True(t, errors.Is(err, apperr.ErrConflict), "%T on a sibling", cmd)
	}
	_, err = e.svc.Apply(ctx, e.user(t, models.RoleHauler), job.ID, "too late")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	acct, err := e.st.Ledger().GetAccount(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("50.00"), acct.Available)
	assert.Equal(t, money.MustParse("150.00"), acct.Escrow)
}

func TestConcurrentHiresOnSiblings(t *testing.T) {
	ctx := context.Background()
	for range 20 {
		e := newEnv(t)
		client := e.user(t, models.RoleClient)
		e.st.Ledger().Seed(models.Account{UserID: client, Available: money.MustParse("1000.00")})
		job := e.job(t, client, "150.00")
		apps := []*models.Application{e.negotiating(t, client, job.ID), e.negotiating(t, client, job.ID)}

		var wg sync.WaitGroup
		errs := make([]error, len(apps))
		for i, a := range apps {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = e.svc.Act(ctx, client, a.ID, Hire{})
			}()
		}
		wg.Wait()

		var won int
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			assert.True(t, errors.Is(err, apperr.ErrConflict), "loser got %v", err)
		}
		assert.Equal(t, 1, won)

		accepted := 0
		for _, a := range apps {
			if e.app(t, a.ID).Status == models.ApplicationAccepted {
				accepted++
			}
		}
		assert.Equal(t, 1, accepted)
		acct, err := e.st.Ledger().GetAccount(ctx, client)
		require.NoError(t, err)
		assert.Equal(t, money.MustParse("150.00"), acct.Escrow)
		list, err := e.st.Bookings().ListByParticipant(ctx, client)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	}
}

func TestListForJobIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	client := e.user(t, models.RoleClient)
	job := e.job(t, client, "150.00")
	hauler := e.user(t, models.RoleHauler)
	_, err := e.svc.Apply(ctx, hauler, job.ID, "hello")
	require.NoError(t, err)

	list, err := e.svc.ListForJob(ctx, client, job.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = e.svc.ListForJob(ctx, hauler, job.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	mine, err := e.svc.ListMine(ctx, hauler)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestParseCommand(t *testing.T) {
	for action, want := range map[string]Command{"chat": StartChat{}, "hire": Hire{}, "reject": Reject{}} {
		got, err := ParseCommand(action)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCommand("archive")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
