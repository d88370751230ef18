package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(Settings{
		Name:                "test",
		MaxRequests:         1,
		Timeout:             time.Hour,
		ConsecutiveFailures: 2,
		OnStateChange: func(name, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})

	failure := errors.New("redis down")
	calls := 0
	fn := func() error {
		calls++
		return failure
	}

	assert.ErrorIs(t, cb.Execute(fn), failure)
	assert.ErrorIs(t, cb.Execute(fn), failure)
	assert.Equal(t, "open", cb.State())

	err := cb.Execute(fn)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:                "test",
		MaxRequests:         1,
		Timeout:             10 * time.Millisecond,
		ConsecutiveFailures: 1,
	})

	require.Error(t, cb.Execute(func() error { return errors.New("fail") }))
	assert.Equal(t, "open", cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "half-open", cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "closed", cb.State())
}
