package applications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, tx pgx.Tx, a *models.Application) error
	// FindLive returns the hauler's non-rejected application on the job, or nil.
	FindLive(ctx context.Context, tx pgx.Tx, jobID, haulerID uuid.UUID) (*models.Application, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Application, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error)
	Update(ctx context.Context, tx pgx.Tx, a *models.Application) error
	// RejectSiblings rejects every pending or negotiating application on the job except keepID.
	RejectSiblings(ctx context.Context, tx pgx.Tx, jobID, keepID uuid.UUID, at time.Time) ([]uuid.UUID, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error)
	ListByHauler(ctx context.Context, haulerID uuid.UUID) ([]*models.Application, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const applicationColumns = `id, job_id, hauler_id, proposal, status, chat_room_id, created_at, updated_at`

func scanApplication(row pgx.Row) (*models.Application, error) {
	var a models.Application
	var status string
	err := row.Scan(&a.ID, &a.JobID, &a.HaulerID, &a.Proposal, &status, &a.ChatRoomID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("application")
	}
	if err != nil {
		return nil, err
	}
	a.Status = models.ApplicationStatus(status)
	return &a, nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.JobID, a.HaulerID, a.Proposal, string(a.Status), a.ChatRoomID, a.CreatedAt, a.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("hauler already applied to this job")
	}
	return err
}

func (r *Repository) FindLive(ctx context.Context, tx pgx.Tx, jobID, haulerID uuid.UUID) (*models.Application, error) {
	a, err := scanApplication(tx.QueryRow(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE job_id = $1 AND hauler_id = $2 AND status <> 'rejected'
	`, jobID, haulerID))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return scanApplication(r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Application, error) {
	return scanApplication(tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) Update(ctx context.Context, tx pgx.Tx, a *models.Application) error {
	tag, err := tx.Exec(ctx, `
		UPDATE applications SET status = $2, chat_room_id = $3, updated_at = $4 WHERE id = $1
	`, a.ID, string(a.Status), a.ChatRoomID, a.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return apperr.Conflict("job already has an accepted application")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("application")
	}
	return nil
}

func (r *Repository) RejectSiblings(ctx context.Context, tx pgx.Tx, jobID, keepID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		UPDATE applications SET status = 'rejected', updated_at = $3
		WHERE job_id = $1 AND id <> $2 AND status IN ('pending', 'negotiating')
		RETURNING id
	`, jobID, keepID, at)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	return r.list(ctx, `WHERE job_id = $1`, jobID)
}

func (r *Repository) ListByHauler(ctx context.Context, haulerID uuid.UUID) ([]*models.Application, error) {
	return r.list(ctx, `WHERE hauler_id = $1`, haulerID)
}

func (r *Repository) list(ctx context.Context, where string, arg any) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+applicationColumns+` FROM applications `+where+` ORDER BY created_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
