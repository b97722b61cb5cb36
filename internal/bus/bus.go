// Package bus is a synchronous observer registry.
package bus

// Bus fans each notification out to every current subscriber, on the calling
// goroutine, in registration order. It is not safe for concurrent use; the
// owner serializes access (the event loop in this module).
type Bus[E any] struct {
	subs   []subscriber[E]
	nextID uint64
}

type subscriber[E any] struct {
	id uint64
	fn func(E)
}

// Subscribe registers fn and returns the function that removes it. Calling
// the returned function more than once is harmless.
func (b *Bus[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[E]{id: id, fn: fn})
	return func() { b.remove(id) }
}

// Notify delivers e to the subscribers registered when the call started.
// Subscribing or unsubscribing from inside a callback affects later calls.
func (b *Bus[E]) Notify(e E) {
	if len(b.subs) == 0 {
		return
	}
	snapshot := make([]subscriber[E], len(b.subs))
	copy(snapshot, b.subs)
	for _, s := range snapshot {
		s.fn(e)
	}
}

// Len is the number of subscribers.
func (b *Bus[E]) Len() int { return len(b.subs) }

func (b *Bus[E]) remove(id uint64) {
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}
