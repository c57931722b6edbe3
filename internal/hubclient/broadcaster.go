package hubclient

import "sync"

// broadcaster fans gateway events out to facade subscribers. Subscribers are
// called synchronously on the stream goroutine, outside the lock.
type broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[*subscriber[T]]struct{}
}

type subscriber[T any] struct {
	fn func(T)
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{
		subscribers: make(map[*subscriber[T]]struct{}),
	}
}

// Subscribe adds fn. Calling the returned function removes it.
func (b *broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s := &subscriber[T]{fn: fn}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, s)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every current subscriber.
func (b *broadcaster[T]) Publish(ev T) {
	b.mu.RLock()
	fns := make([]func(T), 0, len(b.subscribers))
	for s := range b.subscribers {
		fns = append(fns, s.fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Count returns the number of subscribers.
func (b *broadcaster[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
