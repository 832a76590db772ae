// Package signal implements the typed, in-process pub/sub the Store uses to
// announce post-commit changes (spec.md §9 "Subject-observer signals"
// Design Note), grounded on aioxmpp.callbacks.Signal usage throughout
// original_source and generalized from the teacher's ad-hoc channel fan-out
// in internal/rooms/manager.go into an explicit subscribe/unsubscribe bus.
package signal

import (
	"sort"
	"sync"
)

// Bus is a synchronous, many-subscriber signal of a single value type T.
// Handlers are invoked synchronously, in subscription order, by whichever
// goroutine calls Emit — matching spec.md §4.1's "emits ... post-commit"
// and §5's "change signals fire after commit, in commit order per-row".
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[int]func(T)
	next int
}

// NewBus constructs an empty Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers handler and returns a token usable with Unsubscribe.
func (b *Bus[T]) Subscribe(handler func(T)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := b.next
	b.next++
	b.subs[token] = handler
	return token
}

// Unsubscribe removes a previously registered handler.
func (b *Bus[T]) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, token)
}

// Emit invokes every current subscriber with value, synchronously.
func (b *Bus[T]) Emit(value T) {
	b.mu.Lock()
	tokens := make([]int, 0, len(b.subs))
	for token := range b.subs {
		tokens = append(tokens, token)
	}
	sort.Ints(tokens)
	handlers := make([]func(T), 0, len(tokens))
	for _, token := range tokens {
		handlers = append(handlers, b.subs[token])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(value)
	}
}
