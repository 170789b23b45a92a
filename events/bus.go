// Package events provides a lightweight pub/sub event bus for run observability.
//
// Graph scheduling, backtest runs, market-data downloads and order emission all
// publish typed events here. Listeners (metrics exporters, loggers, the feed
// server) subscribe without coupling those packages to each other.
package events

import "sync"

// Listener is a function that handles events.
type Listener func(*Event)

const (
	defaultWorkerPoolSize  = 4
	defaultEventBufferSize = 256
)

// Option configures an EventBus.
type Option func(*EventBus)

// WithWorkerPoolSize sets the number of dispatch workers.
// Values < 1 are ignored.
func WithWorkerPoolSize(n int) Option {
	return func(eb *EventBus) {
		if n > 0 {
			eb.poolSize = n
		}
	}
}

// WithEventBufferSize sets the capacity of the internal event queue.
// Values < 1 are ignored.
func WithEventBufferSize(n int) Option {
	return func(eb *EventBus) {
		if n > 0 {
			eb.bufferSize = n
		}
	}
}

// subscription wraps a listener so it can be identified for removal.
type subscription struct {
	fn Listener
}

// EventBus distributes events to listeners through a worker pool.
// Publishing never blocks the caller; delivery order is preserved only
// when the pool has a single worker.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]*subscription
	globalListeners []*subscription

	poolSize   int
	bufferSize int

	queue     chan *Event
	workers   sync.WaitGroup
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewEventBus creates a new event bus and starts its dispatch workers.
func NewEventBus(opts ...Option) *EventBus {
	eb := &EventBus{
		listeners:  make(map[EventType][]*subscription),
		poolSize:   defaultWorkerPoolSize,
		bufferSize: defaultEventBufferSize,
	}
	for _, opt := range opts {
		opt(eb)
	}

	eb.queue = make(chan *Event, eb.bufferSize)
	for range eb.poolSize {
		eb.workers.Add(1)
		go eb.dispatchLoop()
	}
	return eb
}

// Subscribe registers a listener for a specific event type and returns a
// function that removes it.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	sub := &subscription{fn: listener}
	eb.mu.Lock()
	eb.listeners[eventType] = append(eb.listeners[eventType], sub)
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = removeSubscription(eb.listeners[eventType], sub)
	}
}

// SubscribeAll registers a listener for all event types and returns a
// function that removes it.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	sub := &subscription{fn: listener}
	eb.mu.Lock()
	eb.globalListeners = append(eb.globalListeners, sub)
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = removeSubscription(eb.globalListeners, sub)
	}
}

// Publish enqueues an event for asynchronous delivery. It reports false when
// the bus is closed or the queue is full; events are never delivered inline.
func (eb *EventBus) Publish(event *Event) bool {
	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()

	if eb.closed {
		return false
	}

	select {
	case eb.queue <- event:
		return true
	default:
		return false
	}
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]*subscription)
	eb.globalListeners = nil
}

// Close stops accepting events and waits for queued events to be delivered.
// It is safe to call multiple times.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closeMu.Lock()
		eb.closed = true
		eb.closeMu.Unlock()

		close(eb.queue)
		eb.workers.Wait()
	})
}

func (eb *EventBus) dispatchLoop() {
	defer eb.workers.Done()
	for event := range eb.queue {
		eb.dispatch(event)
	}
}

func (eb *EventBus) dispatch(event *Event) {
	eb.mu.RLock()
	typed := eb.listeners[event.Type]
	subs := make([]*subscription, 0, len(typed)+len(eb.globalListeners))
	subs = append(subs, typed...)
	subs = append(subs, eb.globalListeners...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		safeInvoke(sub.fn, event)
	}
}

func removeSubscription(subs []*subscription, target *subscription) []*subscription {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// safeInvoke shields the bus from panicking listeners.
func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
