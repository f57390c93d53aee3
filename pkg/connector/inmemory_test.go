package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueuePublishAndReceive(t *testing.T) {
	q := NewInMemoryQueue(QueueConfig{MaxWaitTime: time.Second})
	id := q.Publish("hello")

	m, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "hello", m.Body)
	assert.Equal(t, 0, m.DeliveryCount)
}

func TestInMemoryQueueReceiveTimesOutWithNoMessage(t *testing.T) {
	q := NewInMemoryQueue(QueueConfig{MaxWaitTime: 50 * time.Millisecond})
	m, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestInMemoryQueueCompleteRemovesMessage(t *testing.T) {
	q := NewInMemoryQueue(QueueConfig{MaxWaitTime: time.Second})
	q.Publish("x")
	m, err := q.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Complete(context.Background(), m.ID))
	assert.Error(t, q.Complete(context.Background(), m.ID))
}

func TestInMemoryQueueAbandonRedeliversWithIncrementedCount(t *testing.T) {
	q := NewInMemoryQueue(QueueConfig{MaxWaitTime: time.Second})
	q.Publish("retry-me")

	first, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Abandon(context.Background(), first.ID))

	second, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.DeliveryCount)
}

func TestInMemoryQueueDeadLetterMovesMessageOffQueue(t *testing.T) {
	q := NewInMemoryQueue(QueueConfig{MaxWaitTime: 50 * time.Millisecond})
	q.Publish("poison")
	m, err := q.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.DeadLetter(context.Background(), m.ID, "PoisonMessage"))

	again, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, q.DeadLettered(), 1)
}

func TestInMemoryQueueReceiveRespectsContextCancellation(t *testing.T) {
	q := NewInMemoryQueue(QueueConfig{MaxWaitTime: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx)
	assert.Error(t, err)
}
