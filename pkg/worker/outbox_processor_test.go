package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/memory"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/messaging"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []messaging.Message
	channels  []string
	failures  int
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, message.(messaging.Message))
	b.channels = append(b.channels, channel)
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBroker) Close() error { return nil }

func newProcessor(t *testing.T, broker *fakeBroker, attempts int) (*OutboxProcessor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	p := NewOutboxProcessor(store, broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    10 * time.Millisecond,
		Channel:       "protocol-ledger.events",
	}, logger.Nop(), metrics.New("test"))
	p.sleep = func(time.Duration) {}
	return p, store
}

func queue(t *testing.T, store *memory.Store, eventType string) *model.OutboxEvent {
	t.Helper()
	e := &model.OutboxEvent{EventType: eventType, Payload: json.RawMessage(`{"protocol_id":"x"}`)}
	require.NoError(t, store.Outbox().Create(context.Background(), e))
	return e
}

func TestProcessBatch_PublishesAndMarksProcessed(t *testing.T) {
	broker := &fakeBroker{}
	p, store := newProcessor(t, broker, 3)
	created := queue(t, store, model.EventProtocolCreated)
	queue(t, store, model.EventJourneyStageChanged)

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	require.Len(t, broker.published, 2)
	assert.Equal(t, created.ID.String(), broker.published[0].ID)
	assert.Equal(t, model.EventProtocolCreated, broker.published[0].Type)
	assert.Equal(t, []string{"protocol-ledger.events", "protocol-ledger.events"}, broker.channels)

	for _, e := range store.OutboxEvents() {
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
		assert.NotNil(t, e.ProcessedAt)
	}

	delivered, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestProcessBatch_RetriesThenSucceeds(t *testing.T) {
	broker := &fakeBroker{failures: 2}
	p, store := newProcessor(t, broker, 3)
	queue(t, store, model.EventProtocolRenewed)

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, model.OutboxStatusProcessed, store.OutboxEvents()[0].Status)
}

func TestProcessBatch_BacksOffBetweenAttempts(t *testing.T) {
	broker := &fakeBroker{failures: 3}
	p, store := newProcessor(t, broker, 4)
	var waits []time.Duration
	p.sleep = func(d time.Duration) { waits = append(waits, d) }
	queue(t, store, model.EventProtocolCompleted)

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, waits)
}

func TestProcessBatch_StatusWriteFailureRollsBack(t *testing.T) {
	broker := &fakeBroker{}
	p, store := newProcessor(t, broker, 1)
	queue(t, store, model.EventProtocolCreated)
	store.InjectFailure("outbox.update_status", errors.New("connection reset"), 1)

	_, err := p.ProcessBatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.OutboxStatusPending, store.OutboxEvents()[0].Status)

	// the next poll publishes it again
	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, broker.published, 2)
}

func TestProcessBatch_MarksFailedAfterRetries(t *testing.T) {
	broker := &fakeBroker{failures: 5}
	p, store := newProcessor(t, broker, 2)
	queue(t, store, model.EventProtocolExpired)

	delivered, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)

	e := store.OutboxEvents()[0]
	assert.Equal(t, model.OutboxStatusFailed, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, "broker unavailable", *e.ErrorMessage)
}

func TestNewOutboxProcessor_ValidatesConfig(t *testing.T) {
	store := memory.NewStore()
	assert.Panics(t, func() {
		NewOutboxProcessor(store, &fakeBroker{}, OutboxProcessorConfig{
			BatchSize: 10, PollInterval: time.Second, RetryAttempts: 1,
		}, logger.Nop(), metrics.New("test"))
	})
}
