package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRetriesUntilSuccess(t *testing.T) {
	c := &Consumer{backoff: time.Millisecond}
	calls := 0

	err := c.handle(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		calls++
		if calls < handlerAttempts {
			return errors.New("redis down")
		}
		return nil
	}, kafka.Message{Offset: 4})

	require.NoError(t, err)
	assert.Equal(t, handlerAttempts, calls)
}

func TestHandleGivesUpAfterAttempts(t *testing.T) {
	c := &Consumer{backoff: time.Millisecond}
	calls := 0

	err := c.handle(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		calls++
		return errors.New("redis down")
	}, kafka.Message{Offset: 4})

	assert.EqualError(t, err, "redis down")
	assert.Equal(t, handlerAttempts, calls)
}

func TestHandleStopsOnCancel(t *testing.T) {
	c := &Consumer{backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := c.handle(ctx, func(ctx context.Context, msg kafka.Message) error {
		calls++
		cancel()
		return errors.New("redis down")
	}, kafka.Message{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
