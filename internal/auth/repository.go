package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	UpdateStanding(ctx context.Context, tx pgx.Tx, u *models.User) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const userColumns = `id, email, display_name, password_hash, role, verification_tier, account_status, no_show_count, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role, status string
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &role, &u.VerificationTier, &status,
		&u.NoShowCount, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Status = models.AccountStatus(status)
	return &u, nil
}

// Create inserts the user together with an empty ledger account.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, string(u.Role), u.VerificationTier, string(u.Status),
		u.NoShowCount, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("email already registered")
		}
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO accounts (user_id) VALUES ($1)`, u.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) UpdateStanding(ctx context.Context, tx pgx.Tx, u *models.User) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET account_status = $2, no_show_count = $3, updated_at = $4 WHERE id = $1
	`, u.ID, string(u.Status), u.NoShowCount, u.UpdatedAt)
	return err
}
