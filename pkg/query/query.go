package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-query/pkg/cache"
	"github.com/rs/zerolog"
)

// ErrPanic wraps a value recovered from a panicking fetch function.
var ErrPanic = errors.New("fetch function panicked")

// FetchFunc produces a query's value. It is called at most once per fetch and must
// honour ctx: a cancelled fetch's result is discarded anyway.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Option customises a Query.
type Option[T any] func(*Query[T])

// WithCache seeds the query from c on construction and writes every successful value
// back to c under the key's Hash.
func WithCache[T any](c cache.Cache[string, T]) Option[T] {
	return func(q *Query[T]) {
		q.cache = c
	}
}

// Query drives one keyed fetch operation: it owns the query's State, runs the fetch
// function, retries failures on a fixed delay, refetches on an interval and reacts to
// invalidation and subscriber broadcasts whose key is a complete subset of its own.
//
// All state mutation happens under a single mutex, so completions are applied one at a
// time. Every fetch and timer carries a token; anything that finishes after being
// superseded is dropped.
type Query[T any] struct {
	key       Key
	fetch     FetchFunc[T]
	client    *Client
	cfg       QueryConfig
	scheduler Scheduler
	cache     cache.Cache[string, T]
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subIDs []string

	mu          sync.Mutex
	state       State[T]
	observable  *Observable[State[T]]
	generation  uint64
	inFlight    bool
	cancelFetch context.CancelFunc
	paused      bool
	subscribers int
	closed      bool

	timerSeq     uint64
	refetchTimer Timer
	refetchToken uint64
	retryTimer   Timer
	retryToken   uint64

	// writeMu orders cache write-backs; lastWritten is the generation of the newest
	// value written so far.
	writeMu     sync.Mutex
	lastWritten uint64
}

// NewQuery registers key with client, subscribes to its broadcasts and starts the first
// fetch. A nil cfg uses DefaultQueryConfig.
func NewQuery[T any](
	cfg *QueryConfig,
	client *Client,
	key Key,
	fetch FetchFunc[T],
	logger zerolog.Logger,
	opts ...Option[T],
) (*Query[T], error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetch function cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultQueryConfig()
	}
	settings := *cfg
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("invalid query config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Query[T]{
		key:       key,
		fetch:     fetch,
		client:    client,
		cfg:       settings,
		scheduler: settings.Scheduler,
		logger:    logger.With().Str("component", "Query").Str("query_key", key.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     newState[T](),
	}
	if q.scheduler == nil {
		q.scheduler = RealScheduler{}
	}
	if q.cfg.Policy.Kind == PolicySubscription {
		q.subscribers = q.cfg.Policy.InitialSubscribers
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.cache != nil {
		if v, err := q.cache.FetchFromCache(ctx, key.Hash()); err == nil {
			q.state.Data = &v
			q.state.Status = StatusSuccess
			q.logger.Debug().Msg("Seeded query from cache.")
		}
	}
	q.observable = NewObservable(q.state.clone())

	client.Register(key)
	matches := func(k Key) bool { return k.IsCompleteSubset(q.key) }
	bus := client.Bus()
	q.subIDs = []string{
		bus.Subscribe(ChannelInvalidate, matches, func(Key) { q.Invalidate() }),
		bus.Subscribe(ChannelSubscriberOn, matches, func(Key) { q.subscriberAttached() }),
		bus.Subscribe(ChannelSubscriberOff, matches, func(Key) { q.subscriberDetached() }),
	}

	q.Invalidate()
	return q, nil
}

// Key returns the query's key.
func (q *Query[T]) Key() Key {
	return q.key
}

// State returns a snapshot of the query's current state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.clone()
}

// Watch streams state snapshots, starting with the current one, until ctx is done or
// the query is closed.
func (q *Query[T]) Watch(ctx context.Context) <-chan State[T] {
	return q.observable.Watch(ctx)
}

// SubscriberCount returns the subscriber count tracked for PolicySubscription.
func (q *Query[T]) SubscriberCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.subscribers
}

// Refetch starts a fetch unless one is already in flight. If the query is paused, or
// subscription-gated with no subscribers, it only marks the query as paused.
func (q *Query[T]) Refetch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refetchLocked()
}

// Invalidate cancels pending timers and any in-flight fetch, then refetches. It affects
// only this query; use Client.InvalidateQuery to reach every matching query.
func (q *Query[T]) Invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.stopRefetchTimerLocked()
	q.stopRetryTimerLocked()
	q.cancelInFlightLocked()
	q.refetchLocked()
}

// Pause defers every later fetch request until Resume.
func (q *Query[T]) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume clears Pause. It does not fetch by itself; the next scheduled or
// invalidation-driven refetch proceeds.
func (q *Query[T]) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// Close stops timers, cancels any in-flight fetch, detaches from the client's bus and
// closes all watch channels. The key stays registered. Close is idempotent.
func (q *Query[T]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.stopRefetchTimerLocked()
	q.stopRetryTimerLocked()
	q.cancelInFlightLocked()
	q.cancel()
	q.mu.Unlock()

	for _, id := range q.subIDs {
		q.client.Bus().Unsubscribe(id)
	}
	q.observable.Close()
	q.logger.Debug().Msg("Query closed.")
	return nil
}

func (q *Query[T]) subscriberAttached() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.cfg.Policy.Kind != PolicySubscription {
		return
	}
	q.subscribers++
	if q.subscribers == 1 {
		q.refetchLocked()
	}
}

func (q *Query[T]) subscriberDetached() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.cfg.Policy.Kind != PolicySubscription {
		return
	}
	if q.subscribers > 0 {
		q.subscribers--
	}
}

func (q *Query[T]) refetchLocked() {
	if q.closed || q.inFlight {
		return
	}
	if q.paused || (q.cfg.Policy.Kind == PolicySubscription && q.subscribers == 0) {
		q.state.FetchStatus = FetchStatusPaused
		pausedFetchesTotal.Inc()
		q.publishLocked()
		return
	}

	q.stopRetryTimerLocked()
	q.generation++
	gen := q.generation
	fetchCtx, cancel := context.WithCancel(q.ctx)
	q.inFlight = true
	q.cancelFetch = cancel
	q.state.FetchStatus = FetchStatusFetching
	q.publishLocked()

	go q.run(fetchCtx, gen)
}

func (q *Query[T]) run(ctx context.Context, gen uint64) {
	start := time.Now()
	value, err := q.callFetch(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.inFlight || gen != q.generation {
		staleCompletionsTotal.Inc()
		return
	}
	q.inFlight = false
	q.cancelFetch()
	q.cancelFetch = nil
	fetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		q.failLocked(err)
		return
	}
	q.succeedLocked(value, gen)
}

func (q *Query[T]) callFetch(ctx context.Context) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return q.fetch(ctx)
}

func (q *Query[T]) succeedLocked(value T, gen uint64) {
	fetchesTotal.WithLabelValues("success").Inc()
	now := time.Now()
	q.state.Data = &value
	q.state.DataUpdatedAt = &now
	q.state.Status = StatusSuccess
	q.state.Error = nil
	q.state.ErrorUpdatedAt = nil
	q.state.FailureCount = 0
	q.state.FetchStatus = FetchStatusIdle

	if q.refetchTimer == nil && q.cfg.RefetchInterval > 0 {
		q.startRefetchTimerLocked()
	}
	q.publishLocked()
	q.logger.Debug().Msg("Fetch succeeded.")

	if q.cache != nil {
		go q.writeBack(value, gen)
	}
}

func (q *Query[T]) failLocked(err error) {
	outcome := "error"
	if errors.Is(err, ErrPanic) {
		outcome = "panic"
	}
	fetchesTotal.WithLabelValues(outcome).Inc()
	now := time.Now()
	q.state.Error = err
	q.state.ErrorUpdatedAt = &now
	q.state.Status = StatusError
	q.state.FailureCount++
	q.stopRefetchTimerLocked()
	q.state.FetchStatus = FetchStatusIdle

	if q.state.FailureCount > 0 && q.state.FailureCount <= q.cfg.RetryLimit {
		q.scheduleRetryLocked()
		q.logger.Debug().Err(err).Uint("failure_count", q.state.FailureCount).Dur("retry_delay", q.cfg.RetryDelay).Msg("Fetch failed, retry scheduled.")
	} else {
		q.logger.Warn().Err(err).Uint("failure_count", q.state.FailureCount).Msg("Fetch failed, retries exhausted.")
	}
	q.publishLocked()
}

// writeBack stores value unless a newer generation has already been written.
func (q *Query[T]) writeBack(value T, gen uint64) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if gen <= q.lastWritten {
		q.logger.Debug().Uint64("generation", gen).Msg("Skipped superseded cache write-back.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.cache.WriteToCache(ctx, q.key.Hash(), value); err != nil {
		q.logger.Error().Err(err).Msg("Failed to write query data to cache.")
		return
	}
	q.lastWritten = gen
}

func (q *Query[T]) publishLocked() {
	q.observable.Set(q.state.clone())
}

func (q *Query[T]) cancelInFlightLocked() {
	if q.cancelFetch != nil {
		q.cancelFetch()
		q.cancelFetch = nil
	}
	q.inFlight = false
	// Any completion still on its way now carries a stale generation.
	q.generation++
}

func (q *Query[T]) startRefetchTimerLocked() {
	q.timerSeq++
	token := q.timerSeq
	q.refetchToken = token
	q.refetchTimer = q.scheduler.Every(q.cfg.RefetchInterval, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed || q.refetchTimer == nil || q.refetchToken != token {
			staleCompletionsTotal.Inc()
			return
		}
		q.refetchLocked()
	})
}

func (q *Query[T]) stopRefetchTimerLocked() {
	if q.refetchTimer != nil {
		q.refetchTimer.Stop()
		q.refetchTimer = nil
	}
}

func (q *Query[T]) scheduleRetryLocked() {
	q.stopRetryTimerLocked()
	q.timerSeq++
	token := q.timerSeq
	q.retryToken = token
	q.retryTimer = q.scheduler.After(q.cfg.RetryDelay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed || q.retryTimer == nil || q.retryToken != token {
			staleCompletionsTotal.Inc()
			return
		}
		q.retryTimer = nil
		q.refetchLocked()
	})
	retriesScheduledTotal.Inc()
}

func (q *Query[T]) stopRetryTimerLocked() {
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
}
