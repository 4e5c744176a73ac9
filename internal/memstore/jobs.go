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

type Jobs struct{ s *Store }

func (r *Jobs) Create(ctx context.Context, j *models.Job) error {
	r.s.locked(func(st *state) { st.jobs[j.ID] = *j })
	return nil
}

func (r *Jobs) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var out *models.Job
	r.s.locked(func(st *state) {
		if j, ok := st.jobs[id]; ok {
			out = &j
		}
	})
	if out == nil {
		return nil, apperr.NotFound("job")
	}
	return out, nil
}

func (r *Jobs) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, ok := r.s.in(tx).jobs[id]
	if !ok {
		return nil, apperr.NotFound("job")
	}
	return &j, nil
}

func (r *Jobs) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.JobStatus, at time.Time) error {
	st := r.s.in(tx)
	j, ok := st.jobs[id]
	if !ok {
		return apperr.NotFound("job")
	}
	j.Status = status
	j.UpdatedAt = at
	st.jobs[id] = j
	return nil
}

func (r *Jobs) ListOpen(ctx context.Context, f models.JobFilter, after *models.JobCursor, limit int) ([]*models.Job, error) {
	var all []*models.Job
	r.s.locked(func(st *state) {
		for _, j := range st.jobs {
			if j.Status == models.JobOpen && f.Match(&j) && after.After(&j) {
				all = append(all, &j)
			}
		}
	})
	sortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *Jobs) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	var out []*models.Job
	r.s.locked(func(st *state) {
		for _, j := range st.jobs {
			if j.ClientID == clientID {
				out = append(out, &j)
			}
		}
	})
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(jobs []*models.Job) {
	slices.SortFunc(jobs, func(a, b *models.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID.String() > b.ID.String():
			return -1
		case a.ID.String() < b.ID.String():
			return 1
		}
		return 0
	})
}
