package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
)

// Register adds every sweep worker to workers.
func Register(workers *river.Workers, b Bookings, l Ledger, log *slog.Logger) {
	river.AddWorker(workers, NewAutoReleaseWorker(b, log))
	river.AddWorker(workers, NewNoShowWorker(b, log))
	river.AddWorker(workers, NewMaturityWorker(l, log))
}

// PeriodicJobs schedules the sweeps from standard five-field cron expressions. The booking sweeps share
// autoReleaseCron.
func PeriodicJobs(autoReleaseCron, maturityCron string) ([]*river.PeriodicJob, error) {
	bookingSchedule, err := cron.ParseStandard(autoReleaseCron)
	if err != nil {
		return nil, fmt.Errorf("parse auto-release cron %q: %w", autoReleaseCron, err)
	}
	maturitySchedule, err := cron.ParseStandard(maturityCron)
	if err != nil {
		return nil, fmt.Errorf("parse maturity cron %q: %w", maturityCron, err)
	}
	opts := &river.PeriodicJobOpts{RunOnStart: true}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(bookingSchedule, func() (river.JobArgs, *river.InsertOpts) {
			return AutoReleaseArgs{}, nil
		}, opts),
		river.NewPeriodicJob(bookingSchedule, func() (river.JobArgs, *river.InsertOpts) {
			return NoShowArgs{}, nil
		}, opts),
		river.NewPeriodicJob(maturitySchedule, func() (river.JobArgs, *river.InsertOpts) {
			return MaturityArgs{}, nil
		}, opts),
	}, nil
}
