package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

type Ledger struct{ s *Store }

func (r *Ledger) LockAccounts(ctx context.Context, tx pgx.Tx, userIDs []uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	st := r.s.in(tx)
	out := make(map[uuid.UUID]*models.Account, len(userIDs))
	for _, id := range userIDs {
		a, ok := st.accounts[id]
		if !ok {
			a = models.Account{UserID: id}
			st.accounts[id] = a
		}
		out[id] = &a
	}
	return out, nil
}

func (r *Ledger) SaveAccount(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	st := r.s.in(tx)
	for _, b := range []models.Bucket{models.BucketAvailable, models.BucketEscrow, models.BucketReserve, models.BucketPending} {
		if *a.Balance(b) < 0 {
			return apperr.Invariant(nil, "account %s %s bucket would go negative", a.UserID, b)
		}
	}
	st.accounts[a.UserID] = *a
	return nil
}

func (r *Ledger) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	st := r.s.in(tx)
	for _, existing := range st.transactions {
		if t.ExternalRef != nil && existing.ExternalRef != nil && *existing.ExternalRef == *t.ExternalRef {
			return apperr.Conflict("external reference %s already recorded", *t.ExternalRef)
		}
		if t.Type == models.TxEscrowRelease && existing.Type == models.TxEscrowRelease &&
			t.ReferenceID != nil && existing.ReferenceID != nil && *t.ReferenceID == *existing.ReferenceID {
			return apperr.Conflict("escrow for %s already released", *t.ReferenceID)
		}
	}
	st.transactions = append(st.transactions, *t)
	return nil
}

func (r *Ledger) FindTransactionByExternalRef(ctx context.Context, tx pgx.Tx, ref string) (*models.Transaction, error) {
	st := r.s.in(tx)
	for _, t := range st.transactions {
		if t.ExternalRef != nil && *t.ExternalRef == ref {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *Ledger) LockMaturing(ctx context.Context, tx pgx.Tx, typ models.TransactionType, now time.Time, limit int) ([]*models.Transaction, error) {
	st := r.s.in(tx)
	var out []*models.Transaction
	for _, t := range st.transactions {
		if t.Type != typ || t.Processed || t.AvailableAt == nil || t.AvailableAt.After(now) {
			continue
		}
		out = append(out, &t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Ledger) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	st := r.s.in(tx)
	for i := range st.transactions {
		if st.transactions[i].ID == id {
			st.transactions[i].Processed = true
			return nil
		}
	}
	return apperr.NotFound("transaction")
}

func (r *Ledger) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	out := &models.Account{UserID: userID}
	r.s.locked(func(st *state) {
		if a, ok := st.accounts[userID]; ok {
			*out = a
		}
	})
	return out, nil
}

func (r *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	r.s.locked(func(st *state) {
		for i := len(st.transactions) - 1; i >= 0; i-- {
			t := st.transactions[i]
			if (t.DebitUserID != nil && *t.DebitUserID == userID) || (t.CreditUserID != nil && *t.CreditUserID == userID) {
				out = append(out, &t)
			}
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, nil
}

func (r *Ledger) SumDeposits(ctx context.Context, userID uuid.UUID, since time.Time) (money.Amount, error) {
	var total money.Amount
	r.s.locked(func(st *state) {
		for _, t := range st.transactions {
			if t.Type == models.TxDeposit && t.CreditUserID != nil && *t.CreditUserID == userID && !t.CreatedAt.Before(since) {
				total += t.Amount
			}
		}
	})
	return total, nil
}

// Transactions returns every recorded transaction in insertion order.
func (r *Ledger) Transactions() []models.Transaction {
	var out []models.Transaction
	r.s.locked(func(st *state) { out = slices.Clone(st.transactions) })
	return out
}

// Seed sets an account's balances directly.
func (r *Ledger) Seed(a models.Account) {
	r.s.locked(func(st *state) { st.accounts[a.UserID] = a })
}
