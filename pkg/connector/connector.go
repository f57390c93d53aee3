// Package connector implements the worker's external I/O boundary (spec
// §4.5.3): receiving one input message per lease from a queue-shaped
// source, and delivering a run's result to an HTTP sink with retry and
// idempotency.
package connector

import "context"

// Message is one unit of work received from the input connector.
type Message struct {
	ID            string
	Body          string
	DeliveryCount int
}

// InputConnector models a message-queue receive with at-least-once
// delivery and explicit lock/complete semantics (PeekLock-style): a
// received message stays invisible to other receivers until Complete,
// Abandon or DeadLetter is called on it.
type InputConnector interface {
	// Receive waits up to maxWait for one message. A nil Message with a nil
	// error means none arrived within maxWait.
	Receive(ctx context.Context) (*Message, error)
	Complete(ctx context.Context, messageID string) error
	Abandon(ctx context.Context, messageID string) error
	DeadLetter(ctx context.Context, messageID, reason string) error
}

// OutputSink delivers a run's result to an external endpoint.
type OutputSink interface {
	Deliver(ctx context.Context, idempotencyKey string, body []byte) error
}
