// Package events implements the control plane's run-lifecycle event bus.
// Consuming it is out of scope for this system (spec.md §1) beyond its own
// REST/reconciler/lease-service publishers, but the publish side is ambient
// infrastructure every long-running component carries regardless.
package events

import (
	"sync"
	"time"

	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/google/uuid"
)

// EventType identifies what happened to an Agent, Deployment, Run or Node.
type EventType string

const (
	EventAgentCreated       EventType = "agent.created"
	EventAgentUpdated       EventType = "agent.updated"
	EventAgentDeleted       EventType = "agent.deleted"
	EventDeploymentCreated  EventType = "deployment.created"
	EventDeploymentPromoted EventType = "deployment.promoted"
	EventRunPending         EventType = "run.pending"
	EventRunAssigned        EventType = "run.assigned"
	EventRunRunning         EventType = "run.running"
	EventRunCompleted       EventType = "run.completed"
	EventRunFailed          EventType = "run.failed"
	EventRunCancelled       EventType = "run.cancelled"
	EventNodeJoined         EventType = "node.joined"
	EventNodeUnreachable    EventType = "node.unreachable"
	EventNodeRecovered      EventType = "node.recovered"
)

// Event is one control-plane lifecycle transition.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// subscription is one consumer's inbox, optionally filtered to a subset of
// event types. An unfiltered subscription (types is empty) receives
// everything.
type subscription struct {
	ch    chan *Event
	types map[EventType]struct{}
}

// Subscriber is the channel handed back by Subscribe.
type Subscriber <-chan *Event

// Broker fans published events out to subscribers without letting a slow
// subscriber block a publisher: Publish enqueues onto an internal buffer
// and a single dispatch goroutine drains it, dropping (and counting) any
// event a subscriber's own buffer can't absorb.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan *Event]*subscription
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan *Event]*subscription),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops dispatching. Publish after Stop is a no-op.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a channel receiving every future event. Filter it to a
// subset of types with SubscribeTo.
func (b *Broker) Subscribe() Subscriber {
	return b.SubscribeTo()
}

// SubscribeTo returns a channel receiving only events whose Type is in
// types. No types means no filter.
func (b *Broker) SubscribeTo(types ...EventType) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}

	ch := make(chan *Event, 50)
	b.subscribers[ch] = &subscription{ch: ch, types: set}
	return ch
}

// Unsubscribe removes a subscription created by Subscribe/SubscribeTo and
// closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		if Subscriber(ch) == sub {
			delete(b.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish queues event for delivery, stamping an ID and timestamp if unset.
// It blocks only until the internal buffer accepts it or the broker stops.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if len(sub.types) > 0 {
			if _, wants := sub.types[event.Type]; !wants {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
