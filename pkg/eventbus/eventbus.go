package eventbus

import (
	"context"
	"sync"
)

// Handler receives one published event.
type Handler[T any] func(ctx context.Context, event T)

type subscription[T any] struct {
	id      uint64
	name    string
	handler Handler[T]
}

// EventBus provides in-process pub/sub for a single event type. Publish
// delivers synchronously in subscription order, so subscribers observe
// events in the order they were published.
type EventBus[T any] struct {
	mu     sync.RWMutex
	subs   []subscription[T]
	nextID uint64
	wg     sync.WaitGroup
}

func New[T any]() *EventBus[T] {
	return &EventBus[T]{}
}

// Subscribe registers handler under name and returns a function that removes it.
func (b *EventBus[T]) Subscribe(name string, handler Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription[T]{id: id, name: name, handler: handler})
	return func() { b.remove(id) }
}

func (b *EventBus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *EventBus[T]) snapshot() []subscription[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription[T], len(b.subs))
	copy(out, b.subs)
	return out
}

// Publish delivers event to every subscriber before returning.
func (b *EventBus[T]) Publish(ctx context.Context, event T) {
	for _, s := range b.snapshot() {
		s.handler(ctx, event)
	}
}

// PublishAsync delivers event to every subscriber on its own goroutine.
// Use Wait to block until in-flight deliveries finish.
func (b *EventBus[T]) PublishAsync(ctx context.Context, event T) {
	for _, s := range b.snapshot() {
		b.wg.Add(1)
		go func(h Handler[T]) {
			defer b.wg.Done()
			h(ctx, event)
		}(s.handler)
	}
}

// Wait blocks until all PublishAsync deliveries have returned.
func (b *EventBus[T]) Wait() {
	b.wg.Wait()
}

// Subscribers returns the names of the current subscribers.
func (b *EventBus[T]) Subscribers() []string {
	subs := b.snapshot()
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.name
	}
	return names
}

func (b *EventBus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
