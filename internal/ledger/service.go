// Package ledger keeps per-user balances in four buckets and records every movement as one immutable,
// balanced transaction row.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/metrics"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

const maturityBatch = 100

// Leg is one side of a transfer. A leg on BucketExternal is the funding boundary.
type Leg struct {
	UserID uuid.UUID
	Bucket models.Bucket
}

var External = Leg{Bucket: models.BucketExternal}

func (l Leg) external() bool { return l.Bucket == models.BucketExternal }

type Transfer struct {
	Type        models.TransactionType
	Amount      money.Amount
	From, To    Leg
	ReferenceID *uuid.UUID
	ExternalRef *string
	Description string
	// MaturesAt marks the row for a later maturity sweep.
	MaturesAt *time.Time
}

type Wallet struct {
	Account      *models.Account       `json:"account"`
	Total        money.Amount          `json:"total"`
	Transactions []*models.Transaction `json:"transactions"`
}

type Service interface {
	// Transfer applies t inside tx. Only a shortfall in an available bucket is a business error.
	Transfer(ctx context.Context, tx pgx.Tx, t Transfer) (*models.Transaction, error)
	Lock(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
	Release(ctx context.Context, tx pgx.Tx, clientID, haulerID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
	Refund(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error
	// Fund records an external deposit once per externalRef. applied is false when the ref was already funded.
	Fund(ctx context.Context, userID uuid.UUID, amount money.Amount, externalRef string) (t *models.Transaction, applied bool, err error)
	Withdraw(ctx context.Context, userID uuid.UUID, amount money.Amount) (*models.Transaction, error)
	MatureDeposits(ctx context.Context) (int, error)
	ReleaseReserves(ctx context.Context) (int, error)
	Wallet(ctx context.Context, userID uuid.UUID, limit int) (*Wallet, error)
	// DepositedSince totals the deposits credited to userID at or after since.
	DepositedSince(ctx context.Context, userID uuid.UUID, since time.Time) (money.Amount, error)
}

type Options struct {
	DepositHold         time.Duration
	ReservePctBPS       int
	ReserveReleaseAfter time.Duration
	Now                 func() time.Time
}

type service struct {
	store Store
	db    db.Beginner
	opts  Options
	log   *slog.Logger
}

func NewService(store Store, beginner db.Beginner, opts Options, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{store: store, db: beginner, opts: opts, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Transfer(ctx context.Context, tx pgx.Tx, t Transfer) (*models.Transaction, error) {
	if t.Amount <= 0 {
		return nil, apperr.Validation("transfer amount must be positive, got %s", t.Amount)
	}
	if t.From == t.To || (t.From.external() && t.To.external()) {
		return nil, apperr.Invariant(nil, "%s transfer has identical legs", t.Type)
	}

	var users []uuid.UUID
	for _, l := range []Leg{t.From, t.To} {
		if !l.external() {
			users = append(users, l.UserID)
		}
	}
	accounts, err := s.store.LockAccounts(ctx, tx, users)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}

	if !t.From.external() {
		from := accounts[t.From.UserID].Balance(t.From.Bucket)
		if from == nil {
			return nil, apperr.Invariant(nil, "unknown bucket %q", t.From.Bucket)
		}
		if *from < t.Amount {
			if t.From.Bucket == models.BucketAvailable {
				return nil, apperr.InsufficientFunds("available balance %s is less than %s", *from, t.Amount)
			}
			metrics.RecordInvariantViolation()
			s.log.Error("ledger invariant violation",
				"type", t.Type, "amount", t.Amount.String(),
				"from_user", t.From.UserID, "from_bucket", t.From.Bucket, "balance", from.String(),
				"to_user", t.To.UserID, "to_bucket", t.To.Bucket)
			return nil, apperr.Invariant(nil, "%s of %s exceeds %s bucket of %s", t.Type, t.Amount, t.From.Bucket, t.From.UserID)
		}
		*from -= t.Amount
	}
	if !t.To.external() {
		to := accounts[t.To.UserID].Balance(t.To.Bucket)
		if to == nil {
			return nil, apperr.Invariant(nil, "unknown bucket %q", t.To.Bucket)
		}
		*to += t.Amount
	}
	for _, a := range accounts {
		if err := s.store.SaveAccount(ctx, tx, a); err != nil {
			return nil, err
		}
	}

	row := &models.Transaction{
		ID:           uuid.New(),
		Type:         t.Type,
		Amount:       t.Amount,
		DebitBucket:  t.From.Bucket,
		CreditBucket: t.To.Bucket,
		ReferenceID:  t.ReferenceID,
		ExternalRef:  t.ExternalRef,
		Description:  t.Description,
		AvailableAt:  t.MaturesAt,
		Processed:    t.MaturesAt == nil,
		CreatedAt:    s.opts.Now(),
	}
	if !t.From.external() {
		id := t.From.UserID
		row.DebitUserID = &id
	}
	if !t.To.external() {
		id := t.To.UserID
		row.CreditUserID = &id
	}
	if err := s.store.InsertTransaction(ctx, tx, row); err != nil {
		return nil, err
	}
	metrics.RecordTransfer(string(t.Type), t.Amount.Cents())
	return row, nil
}

func (s *service) Lock(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error {
	_, err := s.Transfer(ctx, tx, Transfer{
		Type:        models.TxEscrowLock,
		Amount:      amount,
		From:        Leg{clientID, models.BucketAvailable},
		To:          Leg{clientID, models.BucketEscrow},
		ReferenceID: &bookingID,
		Description: desc,
	})
	return err
}

func (s *service) Release(ctx context.Context, tx pgx.Tx, clientID, haulerID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error {
	_, err := s.Transfer(ctx, tx, Transfer{
		Type:        models.TxEscrowRelease,
		Amount:      amount,
		From:        Leg{clientID, models.BucketEscrow},
		To:          Leg{haulerID, models.BucketAvailable},
		ReferenceID: &bookingID,
		Description: desc,
	})
	return err
}

func (s *service) Refund(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, amount money.Amount, bookingID uuid.UUID, desc string) error {
	_, err := s.Transfer(ctx, tx, Transfer{
		Type:        models.TxEscrowRefund,
		Amount:      amount,
		From:        Leg{clientID, models.BucketEscrow},
		To:          Leg{clientID, models.BucketAvailable},
		ReferenceID: &bookingID,
		Description: desc,
	})
	return err
}

func (s *service) Fund(ctx context.Context, userID uuid.UUID, amount money.Amount, externalRef string) (*models.Transaction, bool, error) {
	var out *models.Transaction
	applied := false
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		existing, err := s.store.FindTransactionByExternalRef(ctx, tx, externalRef)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		now := s.opts.Now()
		t := Transfer{
			Type:        models.TxDeposit,
			Amount:      amount,
			From:        External,
			To:          Leg{userID, models.BucketAvailable},
			ExternalRef: &externalRef,
			Description: "Wallet deposit",
		}
		if s.opts.DepositHold > 0 {
			matures := now.Add(s.opts.DepositHold)
			t.To.Bucket = models.BucketPending
			t.MaturesAt = &matures
		}
		out, err = s.Transfer(ctx, tx, t)
		if err != nil {
			return err
		}
		if s.opts.DepositHold <= 0 {
			if err := s.holdReserve(ctx, tx, userID, amount, out.ID, now); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.log.Info("wallet funded", "user_id", userID, "amount", amount.String(), "external_ref", externalRef)
	}
	return out, applied, nil
}

// holdReserve keeps the configured share of a deposit in reserve until the release delay passes.
func (s *service) holdReserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, deposit money.Amount, depositID uuid.UUID, now time.Time) error {
	share := deposit.Percent(s.opts.ReservePctBPS)
	if share <= 0 {
		return nil
	}
	releaseAt := now.Add(s.opts.ReserveReleaseAfter)
	_, err := s.Transfer(ctx, tx, Transfer{
		Type:        models.TxReserveHold,
		Amount:      share,
		From:        Leg{userID, models.BucketAvailable},
		To:          Leg{userID, models.BucketReserve},
		ReferenceID: &depositID,
		Description: "Chargeback reserve",
		MaturesAt:   &releaseAt,
	})
	return err
}

func (s *service) Withdraw(ctx context.Context, userID uuid.UUID, amount money.Amount) (*models.Transaction, error) {
	var out *models.Transaction
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		out, err = s.Transfer(ctx, tx, Transfer{
			Type:        models.TxWithdrawal,
			Amount:      amount,
			From:        Leg{userID, models.BucketAvailable},
			To:          External,
			Description: "Wallet withdrawal",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("wallet withdrawal", "user_id", userID, "amount", amount.String())
	return out, nil
}

func (s *service) MatureDeposits(ctx context.Context) (int, error) {
	n := 0
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		now := s.opts.Now()
		due, err := s.store.LockMaturing(ctx, tx, models.TxDeposit, now, maturityBatch)
		if err != nil {
			return err
		}
		for _, d := range due {
			if d.CreditUserID == nil || d.CreditBucket != models.BucketPending {
				continue
			}
			userID, depositID := *d.CreditUserID, d.ID
			if _, err := s.Transfer(ctx, tx, Transfer{
				Type:        models.TxDepositMatured,
				Amount:      d.Amount,
				From:        Leg{userID, models.BucketPending},
				To:          Leg{userID, models.BucketAvailable},
				ReferenceID: &depositID,
				Description: "Deposit cleared",
			}); err != nil {
				return err
			}
			if err := s.holdReserve(ctx, tx, userID, d.Amount, depositID, now); err != nil {
				return err
			}
			if err := s.store.MarkProcessed(ctx, tx, depositID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *service) ReleaseReserves(ctx context.Context) (int, error) {
	n := 0
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		due, err := s.store.LockMaturing(ctx, tx, models.TxReserveHold, s.opts.Now(), maturityBatch)
		if err != nil {
			return err
		}
		for _, h := range due {
			if h.CreditUserID == nil {
				continue
			}
			userID, holdID := *h.CreditUserID, h.ID
			if _, err := s.Transfer(ctx, tx, Transfer{
				Type:        models.TxReserveRelease,
				Amount:      h.Amount,
				From:        Leg{userID, models.BucketReserve},
				To:          Leg{userID, models.BucketAvailable},
				ReferenceID: &holdID,
				Description: "Chargeback reserve released",
			}); err != nil {
				return err
			}
			if err := s.store.MarkProcessed(ctx, tx, holdID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *service) Wallet(ctx context.Context, userID uuid.UUID, limit int) (*Wallet, error) {
	acc, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	return &Wallet{Account: acc, Total: acc.Total(), Transactions: txs}, nil
}

func (s *service) DepositedSince(ctx context.Context, userID uuid.UUID, since time.Time) (money.Amount, error) {
	return s.store.SumDeposits(ctx, userID, since)
}

// IsFatal reports whether err means the ledger is inconsistent.
func IsFatal(err error) bool {
	return errors.Is(err, apperr.ErrInvariant)
}
