package worker

import (
	"context"
	"time"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
)

type Sweeper interface {
	Sweep(ctx context.Context, asOf time.Time) (*model.SweepReport, error)
}

// ExpirationSweeper completes lapsed protocols on a fixed interval.
type ExpirationSweeper struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func NewExpirationSweeper(sweeper Sweeper, interval time.Duration, logger *logger.Logger) *ExpirationSweeper {
	if interval <= 0 {
		panic("sweep interval must be greater than 0")
	}
	return &ExpirationSweeper{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (w *ExpirationSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting expiration sweeper", "interval", w.interval.String())
	w.run(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down expiration sweeper")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *ExpirationSweeper) run(ctx context.Context) {
	report, err := w.sweeper.Sweep(ctx, w.now())
	if err != nil {
		// next tick retries
		w.logger.Error(err, "Expiration sweep failed")
		return
	}
	if report.Count > 0 {
		ids := make([]string, len(report.Protocols))
		for i, p := range report.Protocols {
			ids[i] = p.ID.String()
		}
		w.logger.Info("Protocols expired", "count", report.Count, "protocol_ids", ids)
	}
}
