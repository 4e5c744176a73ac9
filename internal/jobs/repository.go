package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.JobStatus, at time.Time) error
	ListOpen(ctx context.Context, f models.JobFilter, after *models.JobCursor, limit int) ([]*models.Job, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const jobColumns = `id, client_id, title, description, category, budget_cents, location_address, city, lat, lng,
	scheduled_at, status, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var status string
	err := row.Scan(&j.ID, &j.ClientID, &j.Title, &j.Description, &j.Category, &j.Budget, &j.LocationAddress,
		&j.City, &j.Lat, &j.Lng, &j.ScheduledAt, &status, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job")
	}
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, j *models.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, j.ID, j.ClientID, j.Title, j.Description, j.Category, j.Budget.Cents(), j.LocationAddress, j.City, j.Lat, j.Lng,
		j.ScheduledAt, string(j.Status), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.JobStatus, at time.Time) error {
	tag, err := tx.Exec(ctx, `UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("job")
	}
	return nil
}

// ListOpen pages through open jobs in (created_at DESC, id DESC) order.
func (r *Repository) ListOpen(ctx context.Context, f models.JobFilter, after *models.JobCursor, limit int) ([]*models.Job, error) {
	where := []string{"status = 'open'"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.City != "" {
		add("city ILIKE '%%' || $%d || '%%'", f.City)
	}
	if f.MinBudget > 0 {
		add("budget_cents >= $%d", f.MinBudget.Cents())
	}
	if f.MaxBudget > 0 {
		add("budget_cents <= $%d", f.MaxBudget.Cents())
	}
	if f.ScheduledFrom != nil {
		add("scheduled_at >= $%d", *f.ScheduledFrom)
	}
	if f.ScheduledTo != nil {
		add("scheduled_at <= $%d", *f.ScheduledTo)
	}
	if after != nil {
		args = append(args, after.CreatedAt, after.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *Repository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE client_id = $1 ORDER BY created_at DESC, id DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}
