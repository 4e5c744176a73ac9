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

type Applications struct{ s *Store }

func (r *Applications) Create(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	st := r.s.in(tx)
	for _, existing := range st.applications {
		if existing.JobID == a.JobID && existing.HaulerID == a.HaulerID && existing.Status != models.ApplicationRejected {
			return apperr.Conflict("hauler already applied to this job")
		}
	}
	st.applications[a.ID] = *a
	return nil
}

func (r *Applications) FindLive(ctx context.Context, tx pgx.Tx, jobID, haulerID uuid.UUID) (*models.Application, error) {
	for _, a := range r.s.in(tx).applications {
		if a.JobID == jobID && a.HaulerID == haulerID && a.Status != models.ApplicationRejected {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *Applications) Get(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var out *models.Application
	r.s.locked(func(st *state) {
		if a, ok := st.applications[id]; ok {
			out = &a
		}
	})
	if out == nil {
		return nil, apperr.NotFound("application")
	}
	return out, nil
}

func (r *Applications) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error) {
	a, ok := r.s.in(tx).applications[id]
	if !ok {
		return nil, apperr.NotFound("application")
	}
	return &a, nil
}

func (r *Applications) Update(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	st := r.s.in(tx)
	if _, ok := st.applications[a.ID]; !ok {
		return apperr.NotFound("application")
	}
	if a.Status == models.ApplicationAccepted {
		for _, other := range st.applications {
			if other.JobID == a.JobID && other.ID != a.ID && other.Status == models.ApplicationAccepted {
				return apperr.Conflict("job already has an accepted application")
			}
		}
	}
	st.applications[a.ID] = *a
	return nil
}

func (r *Applications) RejectSiblings(ctx context.Context, tx pgx.Tx, jobID, keepID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	st := r.s.in(tx)
	var rejected []uuid.UUID
	for id, a := range st.applications {
		if a.JobID != jobID || id == keepID {
			continue
		}
		if a.Status == models.ApplicationPending || a.Status == models.ApplicationNegotiating {
			a.Status = models.ApplicationRejected
			a.UpdatedAt = at
			st.applications[id] = a
			rejected = append(rejected, id)
		}
	}
	return rejected, nil
}

func (r *Applications) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	return r.list(func(a *models.Application) bool { return a.JobID == jobID }), nil
}

func (r *Applications) ListByHauler(ctx context.Context, haulerID uuid.UUID) ([]*models.Application, error) {
	return r.list(func(a *models.Application) bool { return a.HaulerID == haulerID }), nil
}

func (r *Applications) list(keep func(*models.Application) bool) []*models.Application {
	var out []*models.Application
	r.s.locked(func(st *state) {
		for _, a := range st.applications {
			if keep(&a) {
				out = append(out, &a)
			}
		}
	})
	slices.SortFunc(out, func(a, b *models.Application) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
