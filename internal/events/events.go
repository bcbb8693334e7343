// Package events is the observable boundary of the upload engine.
// Sessions publish state transitions and progress; observers (progress
// bars, host UIs) subscribe without ever touching session internals.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType defines the types of events a session can emit.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventProgress    EventType = "progress"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventCancelled   EventType = "cancelled"
	EventRetry       EventType = "retry"
)

// defaultBufferSize is the subscriber channel depth when the caller
// passes zero. Publishing never blocks; a full buffer drops the event.
const defaultBufferSize = 256

// Event is the base interface for all session events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides the common event fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// StateChangeEvent marks a session state transition.
type StateChangeEvent struct {
	BaseEvent
	SessionID string
	OldState  string
	NewState  string
}

// ProgressEvent reports transfer progress after an acknowledged chunk.
type ProgressEvent struct {
	BaseEvent
	SessionID    string
	Percent      float64 // 0.0 to 100.0; capped at 99.9 until completion
	BytesCurrent int64
	BytesTotal   int64
	Speed        float64 // bytes/sec, EMA-smoothed
}

// CompletedEvent reports a finished transfer and the remote object
// identifier, which may be empty when the server never reported one.
type CompletedEvent struct {
	BaseEvent
	SessionID string
	CID       string
	Duration  time.Duration
}

// FailedEvent reports a terminal failure with the originating error.
type FailedEvent struct {
	BaseEvent
	SessionID string
	Err       error
}

// CancelledEvent reports caller-initiated cancellation.
type CancelledEvent struct {
	BaseEvent
	SessionID string
}

// RetryEvent reports that a chunk or creation attempt failed and will
// be retried after a delay.
type RetryEvent struct {
	BaseEvent
	SessionID string
	Attempt   int
	Delay     time.Duration
	Err       error
}

// Bus manages event subscriptions and publishing for sessions.
type Bus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewBus creates an event bus with the given subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to every event type.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish sends an event to all matching subscribers without blocking.
// Events to a full subscriber buffer are dropped and counted.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Unsubscribe removes a subscription channel from a specific event type.
func (b *Bus) Unsubscribe(eventType EventType, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			subs[i] = subs[len(subs)-1]
			b.subscribers[eventType] = subs[:len(subs)-1]
			break
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// Dropped returns how many events were discarded because a subscriber
// buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
