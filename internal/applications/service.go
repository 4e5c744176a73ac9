// Package applications runs the negotiation between a job's owner and the haulers who apply to it.
package applications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/chat"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/events"
	"github.com/haulhub/backend/internal/metrics"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

// Jobs is the slice of the job registry the engine locks and updates.
type Jobs interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.JobStatus, at time.Time) error
}

type Users interface {
	RequireActive(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error)
}

// Escrow locks the hired budget.
type Escrow interface {
	Lock(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
}

// BookingSpawner creates the booking for a hire inside the hire transaction.
type BookingSpawner interface {
	Spawn(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, job *models.Job, app *models.Application) (*models.Booking, error)
}

// Result is the outcome of a client action. Booking is set only for a hire.
type Result struct {
	Application *models.Application `json:"application"`
	Booking     *models.Booking     `json:"booking,omitempty"`
}

type Service interface {
	Apply(ctx context.Context, haulerID, jobID uuid.UUID, proposal string) (*models.Application, error)
	Act(ctx context.Context, clientID, applicationID uuid.UUID, cmd Command) (*Result, error)
	ListForJob(ctx context.Context, clientID, jobID uuid.UUID) ([]*models.Application, error)
	ListMine(ctx context.Context, haulerID uuid.UUID) ([]*models.Application, error)
}

type Deps struct {
	Store    Store
	Jobs     Jobs
	Users    Users
	Escrow   Escrow
	Bookings BookingSpawner
	Rooms    chat.Rooms
	Enqueue  events.EnqueueTxFunc
	DB       db.Beginner
}

type service struct {
	Deps
	now func() time.Time
	log *slog.Logger
}

func NewService(d Deps, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	if d.Rooms == nil {
		d.Rooms = chat.DerivedRooms{}
	}
	return &service{Deps: d, now: time.Now, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Apply(ctx context.Context, haulerID, jobID uuid.UUID, proposal string) (*models.Application, error) {
	if _, err := s.Users.RequireActive(ctx, haulerID, models.RoleHauler); err != nil {
		return nil, err
	}
	now := s.now()
	app := &models.Application{
		ID:        uuid.New(),
		JobID:     jobID,
		HaulerID:  haulerID,
		Proposal:  strings.TrimSpace(proposal),
		Status:    models.ApplicationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		job, err := s.Jobs.GetForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobOpen {
			return apperr.Conflict("job is %s and no longer takes applications", job.Status)
		}
		if job.ClientID == haulerID {
			return apperr.Forbidden("cannot apply to your own job")
		}
		live, err := s.Store.FindLive(ctx, tx, jobID, haulerID)
		if err != nil {
			return err
		}
		if live != nil {
			return apperr.Conflict("hauler already has a %s application on this job", live.Status)
		}
		return s.Store.Create(ctx, tx, app)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition("application", string(app.Status))
	s.log.Info("application created", "application_id", app.ID, "job_id", jobID, "hauler_id", haulerID)
	return app, nil
}

// Act runs a client command. The job row is locked first, so actions on sibling applications of one job,
// hire in particular, are serialized.
func (s *service) Act(ctx context.Context, clientID, applicationID uuid.UUID, cmd Command) (*Result, error) {
	if _, ok := cmd.(Hire); ok {
		if _, err := s.Users.RequireActive(ctx, clientID, models.RoleClient); err != nil {
			return nil, err
		}
	}
	current, err := s.Store.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var res Result
	var rejected []uuid.UUID
	err = db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		job, err := s.Jobs.GetForUpdate(ctx, tx, current.JobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return apperr.Forbidden("only the job owner can act on its applications")
		}
		app, err := s.Store.GetForUpdate(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if job.Status != models.JobOpen {
			return apperr.Conflict("job is %s; its applications are closed", job.Status)
		}
		res.Application = app

		switch cmd.(type) {
		case StartChat:
			return s.startChat(ctx, tx, job, app)
		case Reject:
			return s.reject(ctx, tx, app)
		case Hire:
			res.Booking, rejected, err = s.hire(ctx, tx, job, app)
			return err
		}
		return apperr.Validation("unsupported command %T", cmd)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition("application", string(res.Application.Status))
	s.log.Info("application updated", "application_id", applicationID, "job_id", current.JobID,
		"action", cmd.action(), "status", res.Application.Status)
	if res.Booking != nil {
		metrics.RecordTransition("booking", string(res.Booking.Status))
		metrics.RecordTransition("job", string(models.JobAssigned))
		for range rejected {
			metrics.RecordTransition("application", string(models.ApplicationRejected))
		}
		s.log.Info("hauler hired", "job_id", current.JobID, "booking_id", res.Booking.ID,
			"amount", res.Booking.Amount.String(), "siblings_rejected", len(rejected))
	}
	return &res, nil
}

func (s *service) startChat(ctx context.Context, tx pgx.Tx, job *models.Job, app *models.Application) error {
	if app.Status != models.ApplicationPending {
		return apperr.InvalidState("application is %s; chat can only start from pending", app.Status)
	}
	room, err := s.Rooms.OpenRoom(ctx, app.ID, job.ClientID, app.HaulerID)
	if err != nil {
		return fmt.Errorf("open chat room: %w", err)
	}
	app.Status = models.ApplicationNegotiating
	app.ChatRoomID = &room
	app.UpdatedAt = s.now()
	if err := s.Store.Update(ctx, tx, app); err != nil {
		return err
	}
	return s.enqueue(ctx, tx, events.Event{
		Type:          events.TypeApplicationNegotiating,
		JobID:         job.ID,
		ApplicationID: &app.ID,
		ClientID:      job.ClientID,
		HaulerID:      app.HaulerID,
		ChatRoomID:    room,
	})
}

func (s *service) reject(ctx context.Context, tx pgx.Tx, app *models.Application) error {
	if app.Status != models.ApplicationPending && app.Status != models.ApplicationNegotiating {
		return apperr.InvalidState("application is %s and cannot be rejected", app.Status)
	}
	app.Status = models.ApplicationRejected
	app.UpdatedAt = s.now()
	return s.Store.Update(ctx, tx, app)
}

// hire locks the budget in escrow, spawns the booking, assigns the job and rejects every sibling application.
// Any failure rolls the whole hire back.
func (s *service) hire(ctx context.Context, tx pgx.Tx, job *models.Job, app *models.Application) (*models.Booking, []uuid.UUID, error) {
	if app.Status != models.ApplicationNegotiating {
		return nil, nil, apperr.InvalidState("application is %s; only a negotiating application can be hired", app.Status)
	}
	now := s.now()
	bookingID := uuid.New()
	desc := fmt.Sprintf("Escrow for job: %s", job.Title)
	if err := s.Escrow.Lock(ctx, tx, job.ClientID, job.Budget, bookingID, desc); err != nil {
		return nil, nil, err
	}
	booking, err := s.Bookings.Spawn(ctx, tx, bookingID, job, app)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Jobs.UpdateStatus(ctx, tx, job.ID, models.JobAssigned, now); err != nil {
		return nil, nil, err
	}
	app.Status = models.ApplicationAccepted
	app.UpdatedAt = now
	if err := s.Store.Update(ctx, tx, app); err != nil {
		return nil, nil, err
	}
	rejected, err := s.Store.RejectSiblings(ctx, tx, job.ID, app.ID, now)
	if err != nil {
		return nil, nil, err
	}
	return booking, rejected, nil
}

func (s *service) enqueue(ctx context.Context, tx pgx.Tx, e events.Event) error {
	if s.Enqueue == nil {
		return nil
	}
	e.ID = uuid.New()
	e.OccurredAt = s.now()
	return s.Enqueue(ctx, tx, e)
}

func (s *service) ListForJob(ctx context.Context, clientID, jobID uuid.UUID) ([]*models.Application, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, apperr.Forbidden("only the job owner can list its applications")
	}
	return s.Store.ListByJob(ctx, jobID)
}

func (s *service) ListMine(ctx context.Context, haulerID uuid.UUID) ([]*models.Application, error) {
	return s.Store.ListByHauler(ctx, haulerID)
}
