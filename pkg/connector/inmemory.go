package connector

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/agentctl/pkg/apierrors"
	"github.com/google/uuid"
)

// QueueConfig mirrors the recognized ServiceBusConnector options (§6):
// PrefetchCount and MaxConcurrentCalls govern the worker's pull side and
// are honored by the caller, not the queue itself.
type QueueConfig struct {
	MaxWaitTime      time.Duration
	MaxDeliveryCount int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxWaitTime == 0 {
		c.MaxWaitTime = 5 * time.Second
	}
	if c.MaxDeliveryCount == 0 {
		c.MaxDeliveryCount = 3
	}
	return c
}

// InMemoryQueue is a PeekLock-shaped queue standing in for a real broker
// client (no message-queue SDK is available in the reference pack; this
// reproduces the same receive/complete/abandon/dead-letter contract so the
// worker pipeline and its tests don't depend on an external broker).
type InMemoryQueue struct {
	cfg QueueConfig

	mu       sync.Mutex
	pending  []*Message
	inFlight map[string]*Message
	dlq      []*Message
	notify   chan struct{}
}

// NewInMemoryQueue builds an empty queue.
func NewInMemoryQueue(cfg QueueConfig) *InMemoryQueue {
	return &InMemoryQueue{
		cfg:      cfg.withDefaults(),
		inFlight: make(map[string]*Message),
		notify:   make(chan struct{}, 1),
	}
}

// Publish enqueues a new message and returns its id.
func (q *InMemoryQueue) Publish(body string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := &Message{ID: uuid.New().String(), Body: body}
	q.pending = append(q.pending, m)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return m.ID
}

func (q *InMemoryQueue) Receive(ctx context.Context) (*Message, error) {
	deadline := time.NewTimer(q.cfg.MaxWaitTime)
	defer deadline.Stop()

	for {
		if m, ok := q.tryDequeue(); ok {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *InMemoryQueue) tryDequeue() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight[m.ID] = m
	return m, true
}

func (q *InMemoryQueue) Complete(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[messageID]; !ok {
		return apierrors.NotFound("message %s is not locked", messageID)
	}
	delete(q.inFlight, messageID)
	return nil
}

// Abandon returns the message to the queue and increments its delivery
// count, exactly as a real broker would after the lock expires.
func (q *InMemoryQueue) Abandon(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inFlight[messageID]
	if !ok {
		return apierrors.NotFound("message %s is not locked", messageID)
	}
	delete(q.inFlight, messageID)
	m.DeliveryCount++
	q.pending = append(q.pending, m)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *InMemoryQueue) DeadLetter(ctx context.Context, messageID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inFlight[messageID]
	if !ok {
		return apierrors.NotFound("message %s is not locked", messageID)
	}
	delete(q.inFlight, messageID)
	q.dlq = append(q.dlq, m)
	return nil
}

// DeadLettered returns a snapshot of the dead-letter queue, for tests and
// operator inspection.
func (q *InMemoryQueue) DeadLettered() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Message, len(q.dlq))
	copy(out, q.dlq)
	return out
}

// MaxDeliveryCount exposes the configured poison-message threshold.
func (q *InMemoryQueue) MaxDeliveryCount() int { return q.cfg.MaxDeliveryCount }
