package memstore

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
)

type Users struct{ s *Store }

func (r *Users) Create(ctx context.Context, u *models.User) error {
	var err error
	r.s.locked(func(st *state) {
		for _, existing := range st.users {
			if strings.EqualFold(existing.Email, u.Email) {
				err = apperr.Conflict("email already registered")
				return
			}
		}
		st.users[u.ID] = *u
	})
	return err
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	r.s.locked(func(st *state) {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				out = &u
				return
			}
		}
	})
	if out == nil {
		return nil, apperr.NotFound("user")
	}
	return out, nil
}

func (r *Users) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	r.s.locked(func(st *state) {
		if u, ok := st.users[id]; ok {
			out = &u
		}
	})
	if out == nil {
		return nil, apperr.NotFound("user")
	}
	return out, nil
}

func (r *Users) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	u, ok := r.s.in(tx).users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return &u, nil
}

func (r *Users) UpdateStanding(ctx context.Context, tx pgx.Tx, u *models.User) error {
	st := r.s.in(tx)
	cur, ok := st.users[u.ID]
	if !ok {
		return apperr.NotFound("user")
	}
	cur.Status = u.Status
	cur.NoShowCount = u.NoShowCount
	cur.UpdatedAt = u.UpdatedAt
	st.users[u.ID] = cur
	return nil
}
