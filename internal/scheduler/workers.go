// Package scheduler runs the periodic sweeps on river: auto-release of pending completions, no-show
// cancellation and deposit maturity. Each sweep re-checks eligibility per booking under its row lock, so
// running it twice, late, or on several instances at once has no double effect.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/metrics"
)

const batchSize = 100

// Bookings is the booking engine surface the sweeps drive.
type Bookings interface {
	DueForRelease(ctx context.Context, limit int) ([]uuid.UUID, error)
	AutoRelease(ctx context.Context, id uuid.UUID) (bool, error)
	OverdueAssigned(ctx context.Context, limit int) ([]uuid.UUID, error)
	AutoCancelNoShow(ctx context.Context, id uuid.UUID) (bool, error)
}

type Ledger interface {
	MatureDeposits(ctx context.Context) (int, error)
	ReleaseReserves(ctx context.Context) (int, error)
}

type AutoReleaseArgs struct{}

func (AutoReleaseArgs) Kind() string { return "auto_release_sweep" }

type NoShowArgs struct{}

func (NoShowArgs) Kind() string { return "no_show_sweep" }

type MaturityArgs struct{}

func (MaturityArgs) Kind() string { return "deposit_maturity_sweep" }

// AutoReleaseWorker completes every booking whose auto-release deadline has passed.
type AutoReleaseWorker struct {
	river.WorkerDefaults[AutoReleaseArgs]
	bookings Bookings
	log      *slog.Logger
}

func NewAutoReleaseWorker(b Bookings, log *slog.Logger) *AutoReleaseWorker {
	if log == nil {
		log = slog.Default()
	}
	return &AutoReleaseWorker{bookings: b, log: log}
}

func (w *AutoReleaseWorker) Work(ctx context.Context, job *river.Job[AutoReleaseArgs]) error {
	return sweep(ctx, w.log, "auto_release", w.bookings.DueForRelease, w.bookings.AutoRelease)
}

// NoShowWorker cancels bookings whose pickup was never confirmed well after the scheduled time.
type NoShowWorker struct {
	river.WorkerDefaults[NoShowArgs]
	bookings Bookings
	log      *slog.Logger
}

func NewNoShowWorker(b Bookings, log *slog.Logger) *NoShowWorker {
	if log == nil {
		log = slog.Default()
	}
	return &NoShowWorker{bookings: b, log: log}
}

func (w *NoShowWorker) Work(ctx context.Context, job *river.Job[NoShowArgs]) error {
	return sweep(ctx, w.log, "no_show", w.bookings.OverdueAssigned, w.bookings.AutoCancelNoShow)
}

// sweep lists due bookings and finalizes each one. A failure on one booking is logged and skipped; only a
// failure to list is returned, so river retries the whole sweep.
func sweep(ctx context.Context, log *slog.Logger, name string,
	list func(context.Context, int) ([]uuid.UUID, error),
	finalize func(context.Context, uuid.UUID) (bool, error),
) error {
	var done, skipped, failed int
	for {
		ids, err := list(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("%s sweep: list due bookings: %w", name, err)
		}
		progress := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			changed, err := finalize(ctx, id)
			switch {
			case err != nil:
				failed++
				metrics.RecordSweepItem(name, "failed")
				log.Error("sweep item failed", "sweep", name, "booking_id", id, "fatal", ledger.IsFatal(err), "error", err)
			case changed:
				done++
				progress++
				metrics.RecordSweepItem(name, "finalized")
			default:
				skipped++
				metrics.RecordSweepItem(name, "skipped")
			}
		}
		if len(ids) < batchSize || progress == 0 {
			break
		}
	}
	if done+skipped+failed > 0 {
		log.Info("sweep finished", "sweep", name, "finalized", done, "skipped", skipped, "failed", failed)
	}
	return nil
}

// MaturityWorker moves matured deposits to available and releases matured chargeback reserves.
type MaturityWorker struct {
	river.WorkerDefaults[MaturityArgs]
	ledger Ledger
	log    *slog.Logger
}

func NewMaturityWorker(l Ledger, log *slog.Logger) *MaturityWorker {
	if log == nil {
		log = slog.Default()
	}
	return &MaturityWorker{ledger: l, log: log}
}

func (w *MaturityWorker) Work(ctx context.Context, job *river.Job[MaturityArgs]) error {
	deposits, err := w.ledger.MatureDeposits(ctx)
	if err != nil {
		return fmt.Errorf("mature deposits: %w", err)
	}
	reserves, err := w.ledger.ReleaseReserves(ctx)
	if err != nil {
		return fmt.Errorf("release reserves: %w", err)
	}
	for range deposits {
		metrics.RecordSweepItem("deposit_maturity", "finalized")
	}
	for range reserves {
		metrics.RecordSweepItem("reserve_release", "finalized")
	}
	if deposits+reserves > 0 {
		w.log.Info("maturity sweep finished", "deposits", deposits, "reserves", reserves)
	}
	return nil
}

func (w *MaturityWorker) Timeout(*river.Job[MaturityArgs]) time.Duration { return 5 * time.Minute }
