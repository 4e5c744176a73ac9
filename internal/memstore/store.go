// Package memstore is an in-memory implementation of every repository, used by package tests.
//
// A transaction holds the store's lock from Begin until Commit or Rollback, so transactions are fully
// serialized and Rollback restores the snapshot taken at Begin. Methods without a tx parameter take the
// lock themselves and must not be called while the same goroutine holds an open transaction.
package memstore

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/haulhub/backend/internal/models"
)

var errUnsupported = errors.New("memstore: raw SQL is not supported")

type state struct {
	users        map[uuid.UUID]models.User
	accounts     map[uuid.UUID]models.Account
	transactions []models.Transaction
	jobs         map[uuid.UUID]models.Job
	applications map[uuid.UUID]models.Application
	bookings     map[uuid.UUID]models.Booking
	evidence     []models.Evidence
	amendments   []models.Amendment
}

func newState() *state {
	return &state{
		users:        make(map[uuid.UUID]models.User),
		accounts:     make(map[uuid.UUID]models.Account),
		jobs:         make(map[uuid.UUID]models.Job),
		applications: make(map[uuid.UUID]models.Application),
		bookings:     make(map[uuid.UUID]models.Booking),
	}
}

func (s *state) clone() *state {
	return &state{
		users:        cloneMap(s.users),
		accounts:     cloneMap(s.accounts),
		transactions: slices.Clone(s.transactions),
		jobs:         cloneMap(s.jobs),
		applications: cloneMap(s.applications),
		bookings:     cloneMap(s.bookings),
		evidence:     slices.Clone(s.evidence),
		amendments:   slices.Clone(s.amendments),
	}
}

func cloneMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// Begin locks the store until the returned transaction ends.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	return &Tx{store: s, snapshot: s.st.clone()}, nil
}

func (s *Store) Users() *Users               { return &Users{s} }
func (s *Store) Ledger() *Ledger             { return &Ledger{s} }
func (s *Store) Jobs() *Jobs                 { return &Jobs{s} }
func (s *Store) Applications() *Applications { return &Applications{s} }
func (s *Store) Bookings() *Bookings         { return &Bookings{s} }

// locked runs fn under the store lock outside any transaction.
func (s *Store) locked(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// in checks that tx is a live transaction on this store and returns the state it guards.
func (s *Store) in(tx pgx.Tx) *state {
	t, ok := tx.(*Tx)
	if !ok || t.store != s || t.done {
		panic("memstore: operation requires an open transaction from this store")
	}
	return s.st
}

// Tx implements pgx.Tx over the in-memory state.
type Tx struct {
	store    *Store
	snapshot *state
	done     bool
}

var _ pgx.Tx = (*Tx)(nil)

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.st = t.snapshot
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return nil, errUnsupported }
func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errUnsupported
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errUnsupported }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return errRow{} }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}
func (t *Tx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(...any) error { return errUnsupported }
