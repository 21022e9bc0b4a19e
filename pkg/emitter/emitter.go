// Package emitter provides a typed listener registry that components hold
// and delegate to for their notifications.
package emitter

import "slices"

// Handle identifies a registered listener.
type Handle uint64

// listener pairs a callback with its registration metadata.
type listener[P any] struct {
	handle Handle
	fn     func(P)
	once   bool
}

// Emitter dispatches payloads of type P to listeners registered under keys of type K.
// It is not safe for concurrent use.
type Emitter[K comparable, P any] struct {
	listeners map[K][]listener[P]
	next      Handle
}

// New creates an empty emitter.
func New[K comparable, P any]() *Emitter[K, P] {
	return &Emitter[K, P]{listeners: make(map[K][]listener[P])}
}

// On registers fn for key and returns a handle for Off.
func (em *Emitter[K, P]) On(key K, fn func(P)) Handle {
	return em.add(key, fn, false)
}

// Once registers fn for key; it is removed after the first emission.
func (em *Emitter[K, P]) Once(key K, fn func(P)) Handle {
	return em.add(key, fn, true)
}

// Off removes the listener with handle h. It reports whether one was removed.
func (em *Emitter[K, P]) Off(h Handle) bool {
	for key, list := range em.listeners {
		idx := slices.IndexFunc(list, func(l listener[P]) bool { return l.handle == h })
		if idx < 0 {
			continue
		}

		em.listeners[key] = slices.Delete(list, idx, idx+1)

		return true
	}

	return false
}

// Emit calls every listener registered for key with payload, in registration
// order. Listeners added or removed during emission take effect on the next Emit.
func (em *Emitter[K, P]) Emit(key K, payload P) {
	list := em.listeners[key]
	if len(list) == 0 {
		return
	}

	snapshot := slices.Clone(list)

	for _, l := range snapshot {
		if l.once {
			em.Off(l.handle)
		}

		l.fn(payload)
	}
}

// Len returns the number of listeners registered for key.
func (em *Emitter[K, P]) Len(key K) int {
	return len(em.listeners[key])
}

// Clear removes every listener for key.
func (em *Emitter[K, P]) Clear(key K) {
	delete(em.listeners, key)
}

func (em *Emitter[K, P]) add(key K, fn func(P), once bool) Handle {
	em.next++
	em.listeners[key] = append(em.listeners[key], listener[P]{handle: em.next, fn: fn, once: once})

	return em.next
}
