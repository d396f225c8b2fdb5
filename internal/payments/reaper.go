package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// DefaultReaperInterval is how often the expiry sweep runs.
const DefaultReaperInterval = 30 * time.Minute

type ExpirePaymentsArgs struct{}

func (ExpirePaymentsArgs) Kind() string { return "expire_payments" }

// StalePaymentRepo is the repository slice the reaper needs.
type StalePaymentRepo interface {
	ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ExpirePaymentsWorker sweeps CREATED orders older than the expiry window to
// FAILED. This is advisory cleanup: the settlement engine re-checks expiry
// itself, so correctness never depends on sweep timing.
type ExpirePaymentsWorker struct {
	river.WorkerDefaults[ExpirePaymentsArgs]
	payments StalePaymentRepo
	window   time.Duration
	log      *slog.Logger
}

func NewExpirePaymentsWorker(payments StalePaymentRepo, window time.Duration, log *slog.Logger) *ExpirePaymentsWorker {
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	return &ExpirePaymentsWorker{payments: payments, window: window, log: log}
}

func (w *ExpirePaymentsWorker) Work(ctx context.Context, _ *river.Job[ExpirePaymentsArgs]) error {
	cutoff := time.Now().UTC().Add(-w.window)
	orderIDs, err := w.payments.ExpireStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(orderIDs) == 0 {
		w.log.Info("no expired payment orders")
		return nil
	}
	for _, id := range orderIDs {
		w.log.Info("expired payment order", "order_id", id)
	}
	w.log.Info("expired stale payment orders", "count", len(orderIDs))
	return nil
}

// NewPeriodicExpireJob schedules the sweep on a fixed interval, starting with
// an immediate run so stale orders from before a restart are cleaned up.
func NewPeriodicExpireJob(interval time.Duration) *river.PeriodicJob {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ExpirePaymentsArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
