package cardano

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// EventQueue fans events out to subscribers. Each subscriber runs its
// callback on its own goroutine, in broadcast order.
type EventQueue[T any] struct {
	subscribers map[int]*eventSubscriber[T]
	nextID      int
	mu          *sync.RWMutex
	pending     sync.WaitGroup
	closed      atomic.Bool
}

type eventSubscriber[T any] struct {
	events   chan T
	callback func(event T)
}

func NewEventQueue[T any]() *EventQueue[T] {
	return &EventQueue[T]{
		subscribers: map[int]*eventSubscriber[T]{},
		mu:          &sync.RWMutex{},
	}
}

// On registers callback and returns a function removing it.
func (q *EventQueue[T]) On(callback func(event T)) (cleanup func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return func() {}
	}

	id := q.nextID
	q.nextID++

	sub := &eventSubscriber[T]{
		events:   make(chan T, 100),
		callback: callback,
	}
	q.subscribers[id] = sub

	go func() {
		for event := range sub.events {
			sub.callback(event)
			q.pending.Done()
		}
	}()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if s, ok := q.subscribers[id]; ok {
			delete(q.subscribers, id)
			close(s.events)
		}
	}
}

// Broadcast never blocks: a subscriber whose buffer is full gets the event
// on a separate goroutine.
func (q *EventQueue[T]) Broadcast(event T) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		return
	}

	for _, sub := range q.subscribers {
		q.pending.Add(1)
		select {
		case sub.events <- event:
		default:
			go func(s *eventSubscriber[T]) {
				s.callback(event)
				q.pending.Done()
			}(sub)
		}
	}
}

// Wait blocks until every broadcast event has been handled.
func (q *EventQueue[T]) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for events to be handled")
	}
}

func (q *EventQueue[T]) Close() {
	if q.closed.Swap(true) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for id, sub := range q.subscribers {
		close(sub.events)
		delete(q.subscribers, id)
	}
}
