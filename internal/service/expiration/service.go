package expiration

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type Config struct {
	// LagDays is how many days after end_date a protocol stays active.
	LagDays int
	// ExcludedProgramTypes are never completed by date.
	ExcludedProgramTypes []model.ProgramType
}

// DefaultConfig sweeps protocols that ended before today and leaves weight
// loss and hormone therapy alone.
func DefaultConfig() Config {
	return Config{
		LagDays:              1,
		ExcludedProgramTypes: model.NonExpiringProgramTypes(),
	}
}

type Service struct {
	store   repository.Store
	events  event.Emitter
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(store repository.Store, events event.Emitter, config Config, logger *logger.Logger, metrics *metrics.Metrics) *Service {
	if config.LagDays < 0 {
		config.LagDays = 0
	}
	return &Service{
		store:   store,
		events:  events,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Cutoff is the latest end date swept when running as of asOf.
func (s *Service) Cutoff(asOf time.Time) time.Time {
	return model.DateOf(asOf).AddDate(0, 0, -s.config.LagDays)
}

// Sweep completes every active protocol whose end date is on or before the
// cutoff. The update is a single conditional statement, so a rerun or a
// concurrent sweep finds nothing left to complete.
func (s *Service) Sweep(ctx context.Context, asOf time.Time) (*model.SweepReport, error) {
	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	cutoff := s.Cutoff(asOf)
	completed, err := s.store.Protocols().CompleteExpired(ctx, cutoff, s.config.ExcludedProgramTypes, time.Now().UTC())
	if err != nil {
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		s.logger.Error(err, "expiration sweep failed", "cutoff", cutoff.Format(model.DateLayout))
		return nil, service.StoreError(err, "protocol")
	}
	s.metrics.SweepRuns.WithLabelValues("success").Inc()
	s.metrics.ProtocolsExpired.Add(float64(len(completed)))

	warnings := service.NewWarnings(s.logger)
	for _, p := range completed {
		if err := s.events.Emit(ctx, model.EventProtocolExpired, event.NewProtocolPayload(p)); err != nil {
			warnings.Add(err, "failed to queue "+model.EventProtocolExpired+" event", "protocol_id", p.ID.String())
		}
	}

	if completed == nil {
		completed = []*model.Protocol{}
	}
	s.logger.Info("expiration sweep finished",
		"as_of", model.DateOf(asOf).Format(model.DateLayout),
		"cutoff", cutoff.Format(model.DateLayout),
		"completed", len(completed))

	return &model.SweepReport{
		AsOf:      model.DateOf(asOf),
		Cutoff:    cutoff,
		Count:     len(completed),
		Protocols: completed,
		Warnings:  warnings.List(),
	}, nil
}
