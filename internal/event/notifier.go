package event

import "sync"

// Notifier is a subscribe-only notification point with any number of
// independent subscribers. Emit invokes every subscriber on the calling
// goroutine, in subscription order. Subscriptions cannot be removed.
type Notifier[T any] struct {
	mu       sync.Mutex
	handlers []func(T)
}

// NewNotifier creates a notification point with no subscribers.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{}
}

// Subscribe registers a handler. It is safe to call from any goroutine.
func (n *Notifier[T]) Subscribe(handler func(T)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.handlers = append(n.handlers, handler)
}

// Emit delivers value to every subscriber. Handlers run synchronously on the
// caller's goroutine; the lock is not held while they run.
func (n *Notifier[T]) Emit(value T) {
	n.mu.Lock()
	handlers := make([]func(T), len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()

	for _, handler := range handlers {
		handler(value)
	}
}
