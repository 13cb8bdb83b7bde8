package cache

import (
	"context"
	"sync"
	"sync/atomic"
)

/* Watcher keeps a view of one key up to date.
 * It is the subscription side of the query executor: the current entry is
 * delivered on attach, missing or stale data is fetched in the background, and
 * every later change of the entry is delivered until Close.
 */
type Watcher[T any] struct {
	client *Client
	fetch  func(context.Context, Key) (T, error)
	fn     func(View[T])
	mu     sync.Mutex
	sub    *Subscription
	key    Key
	gen    atomic.Uint64
	closed bool
}

// Watch subscribes fn to key. fn must not block: it runs on the goroutine that changed the entry.
func Watch[T any](c *Client, key Key, fetch func(context.Context, Key) (T, error), fn func(View[T])) *Watcher[T] {
	w := &Watcher[T]{
		client: c,
		fetch:  fetch,
		fn:     fn,
	}
	w.attach(key)
	return w
}

// Key returns the key currently watched.
func (w *Watcher[T]) Key() Key {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key
}

// Current returns the view of the watched key as it is in the store right now.
func (w *Watcher[T]) Current() View[T] {
	key := w.Key()
	e, ok := w.client.store.Get(key)
	if !ok {
		return View[T]{Key: key, Status: Pending}
	}
	return viewOf[T](e)
}

/* Switch moves the watcher to another key.
 * Changes of the previous key are no longer delivered, even when they come from
 * a fetch that was already in flight. That fetch is not aborted.
 */
func (w *Watcher[T]) Switch(key Key) {
	w.attach(key)
}

// Refetch reloads the watched key from the backend. The result arrives through the watcher.
func (w *Watcher[T]) Refetch() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	key := w.key
	w.mu.Unlock()
	w.client.background(key, erase(key, w.fetch))
}

// Close stops deliveries and releases the subscription. Calling it more than once is a no-op.
func (w *Watcher[T]) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.gen.Add(1)
	if w.sub != nil {
		w.sub.Unsubscribe()
		w.sub = nil
	}
}

func (w *Watcher[T]) attach(key Key) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	gen := w.gen.Add(1)
	// The initial snapshot and store notifications race; older versions are dropped.
	var (
		order sync.Mutex
		seen  uint64
	)
	deliver := func(e Entry) {
		if w.gen.Load() != gen {
			return
		}
		order.Lock()
		defer order.Unlock()
		if e.Version <= seen {
			return
		}
		seen = e.Version
		w.fn(viewOf[T](e))
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	w.sub = w.client.store.Subscribe(key, deliver)
	w.key = key
	w.mu.Unlock()

	w.client.ensure(key, erase(key, w.fetch), deliver)
}
