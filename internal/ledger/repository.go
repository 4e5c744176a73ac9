package ledger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

// Store is the persistence the ledger needs. Methods taking a tx run inside the caller's transaction.
type Store interface {
	LockAccounts(ctx context.Context, tx pgx.Tx, userIDs []uuid.UUID) (map[uuid.UUID]*models.Account, error)
	SaveAccount(ctx context.Context, tx pgx.Tx, a *models.Account) error
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	FindTransactionByExternalRef(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error)
	LockMaturing(ctx context.Context, tx pgx.Tx, typ models.TransactionType, now time.Time, limit int) ([]*models.Transaction, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
	// SumDeposits totals the external deposits credited to userID at or after since.
	SumDeposits(ctx context.Context, userID uuid.UUID, since time.Time) (money.Amount, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// LockAccounts creates missing accounts and locks every row FOR UPDATE in ascending id order.
func (r *Repository) LockAccounts(ctx context.Context, tx pgx.Tx, userIDs []uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	ids := slices.Clone(userIDs)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return compareIDs(a, b) })
	ids = slices.Compact(ids)

	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (user_id) SELECT unnest($1::uuid[]) ON CONFLICT (user_id) DO NOTHING
	`, ids); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*models.Account, len(ids))
	for _, id := range ids {
		a := &models.Account{UserID: id}
		err := tx.QueryRow(ctx, `
			SELECT available_cents, escrow_cents, reserve_cents, pending_cents, updated_at
			FROM accounts WHERE user_id = $1 FOR UPDATE
		`, id).Scan(&a.Available, &a.Escrow, &a.Reserve, &a.Pending, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (r *Repository) SaveAccount(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts
		SET available_cents = $2, escrow_cents = $3, reserve_cents = $4, pending_cents = $5, updated_at = now()
		WHERE user_id = $1
	`, a.UserID, a.Available.Cents(), a.Escrow.Cents(), a.Reserve.Cents(), a.Pending.Cents())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return apperr.Invariant(err, "account %s balance check failed", a.UserID)
	}
	return err
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, tx_type, amount_cents, debit_user_id, debit_bucket, credit_user_id, credit_bucket,
			reference_id, external_ref, description, available_at, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, t.ID, string(t.Type), t.Amount.Cents(), t.DebitUserID, string(t.DebitBucket), t.CreditUserID, string(t.CreditBucket),
		t.ReferenceID, t.ExternalRef, t.Description, t.AvailableAt, t.Processed, t.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflict("transaction already recorded (%s)", pgErr.ConstraintName)
	}
	return err
}

const transactionColumns = `id, tx_type, amount_cents, debit_user_id, debit_bucket, credit_user_id, credit_bucket,
	reference_id, external_ref, description, available_at, processed, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var typ, debit, credit string
	err := row.Scan(&t.ID, &typ, &t.Amount, &t.DebitUserID, &debit, &t.CreditUserID, &credit,
		&t.ReferenceID, &t.ExternalRef, &t.Description, &t.AvailableAt, &t.Processed, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.DebitBucket = models.Bucket(debit)
	t.CreditBucket = models.Bucket(credit)
	return &t, nil
}

func (r *Repository) FindTransactionByExternalRef(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// LockMaturing returns unprocessed rows of typ whose available_at has passed, skipping rows another sweep holds.
func (r *Repository) LockMaturing(ctx context.Context, tx pgx.Tx, typ models.TransactionType, now time.Time, limit int) ([]*models.Transaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE tx_type = $1 AND processed = FALSE AND available_at <= $2
		ORDER BY available_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, string(typ), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE transactions SET processed = TRUE WHERE id = $1`, id)
	return err
}

func (r *Repository) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	a := &models.Account{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT available_cents, escrow_cents, reserve_cents, pending_cents, updated_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&a.Available, &a.Escrow, &a.Reserve, &a.Pending, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil
	}
	return a, err
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE debit_user_id = $1 OR credit_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) SumDeposits(ctx context.Context, userID uuid.UUID, since time.Time) (money.Amount, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)::BIGINT FROM transactions
		WHERE tx_type = $1 AND credit_user_id = $2 AND created_at >= $3
	`, string(models.TxDeposit), userID, since).Scan(&total)
	return money.Amount(total), err
}

func compareIDs(a, b uuid.UUID) int {
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}
