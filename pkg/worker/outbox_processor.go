package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/messaging"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts is the number of publish attempts per event in one batch.
	RetryAttempts int
	// RetryDelay is the wait before the second attempt; it doubles after that.
	RetryDelay time.Duration
	Channel    string
}

// OutboxProcessor relays pending outbox events to the broker so the CRM and
// notification layer can react to protocol and journey changes. Delivery is
// at least once: a batch whose status writes fail is published again.
type OutboxProcessor struct {
	store   repository.Store
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	sleep   func(time.Duration)
}

func NewOutboxProcessor(
	store repository.Store,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	switch {
	case config.BatchSize <= 0:
		panic("BatchSize must be greater than 0")
	case config.PollInterval <= 0:
		panic("PollInterval must be greater than 0")
	case config.RetryAttempts <= 0:
		panic("RetryAttempts must be greater than 0")
	case config.RetryDelay < 0:
		panic("RetryDelay must not be negative")
	case config.Channel == "":
		panic("Channel is required")
	}

	return &OutboxProcessor{
		store:   store,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		sleep:   time.Sleep,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "channel", p.config.Channel)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process outbox batch")
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were
// delivered. The rows stay locked against other processors until every
// status is written.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	delivered := 0
	err := p.store.WithTx(ctx, func(tx repository.Store) error {
		delivered = 0
		events, err := tx.Outbox().GetPendingEventsWithLock(ctx, p.config.BatchSize)
		if err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
			return fmt.Errorf("failed to get pending events: %w", err)
		}
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

		for _, event := range events {
			ok, err := p.deliver(ctx, tx.Outbox(), event)
			if err != nil {
				return err
			}
			if ok {
				delivered++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return delivered, nil
}

// deliver publishes one event and records the outcome. Only a failed status
// write is returned as an error.
func (p *OutboxProcessor) deliver(ctx context.Context, outbox repository.OutboxRepository, event *model.OutboxEvent) (bool, error) {
	msg := messaging.Message{
		ID:      event.ID.String(),
		Type:    event.EventType,
		Payload: event.Payload,
	}

	var publishErr error
	delay := p.config.RetryDelay
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
			p.sleep(delay)
			delay *= 2
		}
		if publishErr = p.broker.Publish(ctx, p.config.Channel, msg); publishErr == nil {
			break
		}
	}

	if publishErr != nil {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(publishErr, "Failed to publish event",
			"event_id", event.ID.String(),
			"event_type", event.EventType)
		reason := publishErr.Error()
		if err := outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &reason); err != nil {
			return false, fmt.Errorf("failed to mark event %s failed: %w", event.ID, err)
		}
		return false, nil
	}

	if err := outbox.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil); err != nil {
		return false, fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}
	p.metrics.OutboxEventsProcessed.Inc()
	return true, nil
}
