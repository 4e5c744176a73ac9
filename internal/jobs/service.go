// Package jobs is the job registry: clients post jobs, and the open ones are listed for haulers.
package jobs

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/metrics"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

const pageSize = 50

type PostInput struct {
	Title           string
	Description     string
	Category        string
	Budget          money.Amount
	LocationAddress string
	City            string
	Lat, Lng        *float64
	ScheduledAt     time.Time
}

// Users is the account check the registry needs.
type Users interface {
	RequireActive(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error)
}

type Service interface {
	Post(ctx context.Context, clientID uuid.UUID, in PostInput) (*models.Job, error)
	Cancel(ctx context.Context, clientID, jobID uuid.UUID) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ListOpen yields open jobs matching f, newest first, starting after the cursor. Pages are fetched
	// lazily, so jobs posted or taken while iterating may or may not appear.
	ListOpen(ctx context.Context, f models.JobFilter, after *models.JobCursor) iter.Seq2[*models.Job, error]
	ListMine(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error)
}

type service struct {
	repo  Store
	db    db.Beginner
	users Users
	now   func() time.Time
	log   *slog.Logger
}

func NewService(repo Store, beginner db.Beginner, users Users, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, db: beginner, users: users, now: time.Now, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Post(ctx context.Context, clientID uuid.UUID, in PostInput) (*models.Job, error) {
	if _, err := s.users.RequireActive(ctx, clientID, models.RoleClient); err != nil {
		return nil, err
	}
	now := s.now()
	if err := validatePost(in, now); err != nil {
		return nil, err
	}
	job := &models.Job{
		ID:              uuid.New(),
		ClientID:        clientID,
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		Category:        in.Category,
		Budget:          in.Budget,
		LocationAddress: strings.TrimSpace(in.LocationAddress),
		City:            strings.TrimSpace(in.City),
		Lat:             in.Lat,
		Lng:             in.Lng,
		ScheduledAt:     in.ScheduledAt.UTC(),
		Status:          models.JobOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}
	metrics.RecordTransition("job", string(job.Status))
	s.log.Info("job posted", "job_id", job.ID, "client_id", clientID, "budget", job.Budget.String())
	return job, nil
}

func validatePost(in PostInput, now time.Time) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return apperr.Validation("title is required")
	case in.Budget <= 0:
		return apperr.Validation("budget must be greater than zero")
	case in.ScheduledAt.IsZero():
		return apperr.Validation("scheduled time is required")
	case !in.ScheduledAt.After(now):
		return apperr.Validation("scheduled time must be in the future")
	case !models.ValidCategory(in.Category):
		return apperr.Validation("unknown category %q", in.Category)
	case (in.Lat == nil) != (in.Lng == nil):
		return apperr.Validation("lat and lng must be given together")
	}
	return nil
}

func (s *service) Cancel(ctx context.Context, clientID, jobID uuid.UUID) (*models.Job, error) {
	var job *models.Job
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		job, err = s.repo.GetForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return apperr.Forbidden("only the job owner can cancel it")
		}
		if job.Status != models.JobOpen {
			return apperr.InvalidState("job is %s; only open jobs can be cancelled", job.Status)
		}
		job.Status = models.JobCancelled
		job.UpdatedAt = s.now()
		return s.repo.UpdateStatus(ctx, tx, job.ID, job.Status, job.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition("job", string(job.Status))
	s.log.Info("job cancelled", "job_id", job.ID)
	return job, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) ListOpen(ctx context.Context, f models.JobFilter, after *models.JobCursor) iter.Seq2[*models.Job, error] {
	return func(yield func(*models.Job, error) bool) {
		cursor := after
		for {
			page, err := s.repo.ListOpen(ctx, f, cursor, pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, j := range page {
				if !yield(j, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &models.JobCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

func (s *service) ListMine(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	return s.repo.ListByClient(ctx, clientID)
}
