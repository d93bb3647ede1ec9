package query_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-query/pkg/cache"
	"github.com/illmade-knight/go-query/pkg/query"
)

// --- manualScheduler ---

// manualTimer is a timer that only fires when the test says so.
type manualTimer struct {
	fn       func()
	periodic bool
	stopped  atomic.Bool
}

func (t *manualTimer) Stop() {
	t.stopped.Store(true)
}

// manualScheduler is a query.Scheduler whose timers fire only on Fire.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) After(_ time.Duration, fn func()) query.Timer {
	return s.add(fn, false)
}

func (s *manualScheduler) Every(_ time.Duration, fn func()) query.Timer {
	return s.add(fn, true)
}

func (s *manualScheduler) add(fn func(), periodic bool) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{fn: fn, periodic: periodic}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) live(periodic bool) []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if t.periodic == periodic && !t.stopped.Load() {
			out = append(out, t)
		}
	}
	return out
}

// LiveRetries returns the number of one-shot timers that have not fired or been stopped.
func (s *manualScheduler) LiveRetries() int {
	return len(s.live(false))
}

// LiveIntervals returns the number of periodic timers that have not been stopped.
func (s *manualScheduler) LiveIntervals() int {
	return len(s.live(true))
}

// FireRetries fires every live one-shot timer and returns how many fired.
func (s *manualScheduler) FireRetries() int {
	timers := s.live(false)
	for _, t := range timers {
		t.stopped.Store(true)
		t.fn()
	}
	return len(timers)
}

// FireIntervals ticks every live periodic timer once and returns how many ticked.
func (s *manualScheduler) FireIntervals() int {
	timers := s.live(true)
	for _, t := range timers {
		t.fn()
	}
	return len(timers)
}

// --- scriptedFetch ---

type fetchResult[T any] struct {
	value T
	err   error
}

// scriptedFetch blocks every call until the test pushes a result, or the fetch
// context is cancelled.
type scriptedFetch[T any] struct {
	calls   atomic.Int32
	results chan fetchResult[T]
}

func newScriptedFetch[T any]() *scriptedFetch[T] {
	return &scriptedFetch[T]{results: make(chan fetchResult[T], 10)}
}

func (f *scriptedFetch[T]) Fetch(ctx context.Context) (T, error) {
	f.calls.Add(1)
	select {
	case r := <-f.results:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *scriptedFetch[T]) Succeed(v T) {
	f.results <- fetchResult[T]{value: v}
}

func (f *scriptedFetch[T]) Fail(err error) {
	f.results <- fetchResult[T]{err: err}
}

func (f *scriptedFetch[T]) Calls() int {
	return int(f.calls.Load())
}

// --- slowFirstWriteCache ---

// slowFirstWriteCache is an in-memory cache whose first write is delayed, so a later
// write can overtake it.
type slowFirstWriteCache[V any] struct {
	*cache.InMemoryCache[string, V]
	delay  time.Duration
	writes atomic.Int32
}

func newSlowFirstWriteCache[V any](delay time.Duration) *slowFirstWriteCache[V] {
	return &slowFirstWriteCache[V]{InMemoryCache: cache.NewInMemoryCache[string, V](), delay: delay}
}

func (c *slowFirstWriteCache[V]) WriteToCache(ctx context.Context, key string, value V) error {
	if c.writes.Add(1) == 1 {
		time.Sleep(c.delay)
	}
	return c.InMemoryCache.WriteToCache(ctx, key, value)
}
