package query

import (
	"context"
	"sync"
)

type watcher[T any] struct {
	ch   chan T
	stop chan struct{}
}

// Observable holds a value and notifies watchers whenever it changes. Watch channels
// conflate: a slow reader skips intermediate values but always sees the latest one.
type Observable[T any] struct {
	mu       sync.Mutex
	value    T
	watchers map[*watcher[T]]struct{}
	closed   bool
}

// NewObservable creates an Observable holding initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{
		value:    initial,
		watchers: make(map[*watcher[T]]struct{}),
	}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set stores v and pushes it to every watcher.
func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = v
	for w := range o.watchers {
		// Drop the unread value, if any, so the send below never blocks.
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- v:
		default:
		}
	}
}

// Watch returns a channel primed with the current value that receives every later
// value. The channel is closed when ctx is done or the Observable is closed.
func (o *Observable[T]) Watch(ctx context.Context) <-chan T {
	w := &watcher[T]{
		ch:   make(chan T, 1),
		stop: make(chan struct{}),
	}

	o.mu.Lock()
	w.ch <- o.value
	if o.closed {
		o.mu.Unlock()
		close(w.ch)
		return w.ch
	}
	o.watchers[w] = struct{}{}
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			o.remove(w)
		case <-w.stop:
		}
	}()
	return w.ch
}

func (o *Observable[T]) remove(w *watcher[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.watchers[w]; !ok {
		return
	}
	delete(o.watchers, w)
	close(w.ch)
}

// Close closes every watch channel. Later Set calls still update Get; later Watch calls
// receive the current value and a closed channel.
func (o *Observable[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for w := range o.watchers {
		delete(o.watchers, w)
		close(w.stop)
		close(w.ch)
	}
}
