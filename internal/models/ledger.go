package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/money"
)

// Bucket names one balance of a ledger account. BucketExternal is the funding boundary and has no balance.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketEscrow    Bucket = "escrow"
	BucketReserve   Bucket = "reserve"
	BucketPending   Bucket = "pending"
	BucketExternal  Bucket = "external"
)

type TransactionType string

const (
	TxDeposit        TransactionType = "deposit"
	TxDepositMatured TransactionType = "deposit_matured"
	TxReserveHold    TransactionType = "reserve_hold"
	TxReserveRelease TransactionType = "reserve_release"
	TxEscrowLock     TransactionType = "escrow_lock"
	TxEscrowRelease  TransactionType = "escrow_release"
	TxEscrowRefund   TransactionType = "escrow_refund"
	TxWithdrawal     TransactionType = "withdrawal"
)

type Account struct {
	UserID    uuid.UUID    `json:"user_id"`
	Available money.Amount `json:"available"`
	Escrow    money.Amount `json:"escrow"`
	Reserve   money.Amount `json:"reserve"`
	Pending   money.Amount `json:"pending"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (a *Account) Total() money.Amount {
	return a.Available + a.Escrow + a.Reserve + a.Pending
}

// Balance returns a pointer to the named bucket, or nil for the external boundary.
func (a *Account) Balance(b Bucket) *money.Amount {
	switch b {
	case BucketAvailable:
		return &a.Available
	case BucketEscrow:
		return &a.Escrow
	case BucketReserve:
		return &a.Reserve
	case BucketPending:
		return &a.Pending
	}
	return nil
}

// Transaction is one immutable balanced movement. A nil user id on a side is the external boundary.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	Type         TransactionType `json:"type"`
	Amount       money.Amount    `json:"amount"`
	DebitUserID  *uuid.UUID      `json:"debit_user_id,omitempty"`
	DebitBucket  Bucket          `json:"debit_bucket"`
	CreditUserID *uuid.UUID      `json:"credit_user_id,omitempty"`
	CreditBucket Bucket          `json:"credit_bucket"`
	ReferenceID  *uuid.UUID      `json:"reference_id,omitempty"`
	ExternalRef  *string         `json:"external_ref,omitempty"`
	Description  string          `json:"description"`
	AvailableAt  *time.Time      `json:"available_at,omitempty"`
	Processed    bool            `json:"processed"`
	CreatedAt    time.Time       `json:"created_at"`
}
