package worker

import (
	"context"
	"time"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
)

type Advancer interface {
	AdvanceDue(ctx context.Context, asOf time.Time) (*model.AutoAdvanceReport, error)
}

// JourneyAdvancer moves protocols whose stage conditions are met.
type JourneyAdvancer struct {
	advancer Advancer
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func NewJourneyAdvancer(advancer Advancer, interval time.Duration, logger *logger.Logger) *JourneyAdvancer {
	if interval <= 0 {
		panic("advance interval must be greater than 0")
	}
	return &JourneyAdvancer{
		advancer: advancer,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (w *JourneyAdvancer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting journey advancer", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down journey advancer")
			return
		case <-ticker.C:
			report, err := w.advancer.AdvanceDue(ctx, w.now())
			if err != nil {
				w.logger.Error(err, "Journey auto-advance failed")
				continue
			}
			w.logger.Info("Journey auto-advance pass finished",
				"evaluated", report.Evaluated, "advanced", len(report.Advanced))
		}
	}
}
