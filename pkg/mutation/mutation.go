// Package mutation provides a one-shot write helper with the same fixed-delay retry
// behaviour as queries, but without caching. A successful mutation can optionally
// invalidate queries through a shared query.Client.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-query/pkg/query"
	"github.com/rs/zerolog"
)

var (
	// ErrSuperseded is returned to MutateAndWait callers whose attempt was replaced by a
	// newer Mutate or by Reset.
	ErrSuperseded = errors.New("mutation superseded")
	// ErrClosed is returned once the mutation has been closed.
	ErrClosed = errors.New("mutation closed")
	// ErrPanic wraps a value recovered from a panicking mutate function.
	ErrPanic = errors.New("mutate function panicked")
)

// Status is the lifecycle stage of the latest mutation.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusError
	StatusSuccess
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusError:
		return "error"
	case StatusSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MutateFunc performs the write.
type MutateFunc[Req any, Resp any] func(ctx context.Context, req Req) (Resp, error)

// State is a snapshot of a mutation.
type State[Req any, Resp any] struct {
	Status         Status
	Request        *Req
	Data           *Resp
	DataUpdatedAt  *time.Time
	Error          error
	ErrorUpdatedAt *time.Time
	FailureCount   uint
}

func (s State[Req, Resp]) IsIdle() bool    { return s.Status == StatusIdle }
func (s State[Req, Resp]) IsPending() bool { return s.Status == StatusPending }
func (s State[Req, Resp]) IsError() bool   { return s.Status == StatusError }
func (s State[Req, Resp]) IsSuccess() bool { return s.Status == StatusSuccess }

// clone copies the pointer fields so a snapshot never aliases the live state.
func (s State[Req, Resp]) clone() State[Req, Resp] {
	out := s
	if s.Request != nil {
		r := *s.Request
		out.Request = &r
	}
	if s.Data != nil {
		d := *s.Data
		out.Data = &d
	}
	if s.DataUpdatedAt != nil {
		t := *s.DataUpdatedAt
		out.DataUpdatedAt = &t
	}
	if s.ErrorUpdatedAt != nil {
		t := *s.ErrorUpdatedAt
		out.ErrorUpdatedAt = &t
	}
	return out
}

// Config holds retry settings for a Mutation.
type Config struct {
	RetryLimit uint          `yaml:"retry_limit"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Scheduler creates retry timers. Nil means query.RealScheduler.
	Scheduler query.Scheduler `yaml:"-"`
}

// Option customises a Mutation.
type Option[Req any, Resp any] func(*Mutation[Req, Resp])

// WithOnSuccess registers a callback run after a successful mutation.
func WithOnSuccess[Req any, Resp any](fn func(resp Resp, req Req)) Option[Req, Resp] {
	return func(m *Mutation[Req, Resp]) { m.onSuccess = fn }
}

// WithOnError registers a callback run once retries are exhausted. Resp cannot be
// inferred from fn, so callers give both type arguments explicitly:
//
//	mutation.WithOnError[CreateUser, User](func(err error, req CreateUser) { ... })
func WithOnError[Req any, Resp any](fn func(err error, req Req)) Option[Req, Resp] {
	return func(m *Mutation[Req, Resp]) { m.onError = fn }
}

// WithOnSettled registers a callback run after OnSuccess or OnError. resp is nil on error.
func WithOnSettled[Req any, Resp any](fn func(resp *Resp, err error, req Req)) Option[Req, Resp] {
	return func(m *Mutation[Req, Resp]) { m.onSettled = fn }
}

// WithInvalidation invalidates keys through client after every successful mutation.
func WithInvalidation[Req any, Resp any](client *query.Client, keys ...query.Key) Option[Req, Resp] {
	return func(m *Mutation[Req, Resp]) {
		m.client = client
		m.invalidates = keys
	}
}

// attempt is one Mutate call, including its retries.
type attempt[Resp any] struct {
	done chan struct{}
	resp Resp
	err  error
}

func (a *attempt[Resp]) settle(resp Resp, err error) {
	a.resp = resp
	a.err = err
	close(a.done)
}

// Mutation runs a write with bounded fixed-delay retries and reports progress through
// State, Watch and the lifecycle callbacks. Only the latest Mutate call is live.
type Mutation[Req any, Resp any] struct {
	fn        MutateFunc[Req, Resp]
	cfg       Config
	scheduler query.Scheduler
	logger    zerolog.Logger

	onSuccess   func(resp Resp, req Req)
	onError     func(err error, req Req)
	onSettled   func(resp *Resp, err error, req Req)
	client      *query.Client
	invalidates []query.Key

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State[Req, Resp]
	observable *query.Observable[State[Req, Resp]]
	current    *attempt[Resp]
	cancelRun  context.CancelFunc
	retryTimer query.Timer
	closed     bool
}

// NewMutation creates an idle Mutation. A nil cfg means no retries.
func NewMutation[Req any, Resp any](
	cfg *Config,
	fn MutateFunc[Req, Resp],
	logger zerolog.Logger,
	opts ...Option[Req, Resp],
) (*Mutation[Req, Resp], error) {
	if fn == nil {
		return nil, fmt.Errorf("mutate function cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay cannot be negative: %s", cfg.RetryDelay)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Mutation[Req, Resp]{
		fn:        fn,
		cfg:       *cfg,
		scheduler: cfg.Scheduler,
		logger:    logger.With().Str("component", "Mutation").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if m.scheduler == nil {
		m.scheduler = query.RealScheduler{}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.observable = query.NewObservable(m.state.clone())
	return m, nil
}

// State returns a snapshot of the latest mutation.
func (m *Mutation[Req, Resp]) State() State[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Watch streams state snapshots until ctx is done or the mutation is closed.
func (m *Mutation[Req, Resp]) Watch(ctx context.Context) <-chan State[Req, Resp] {
	return m.observable.Watch(ctx)
}

// Mutate starts a mutation for req, superseding any earlier one still running or
// waiting to retry. It returns immediately.
func (m *Mutation[Req, Resp]) Mutate(req Req) {
	m.start(req)
}

// MutateAndWait starts a mutation and blocks until it settles or ctx is done.
// Cancelling ctx does not cancel the mutation itself.
func (m *Mutation[Req, Resp]) MutateAndWait(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	a := m.start(req)
	if a == nil {
		return zero, ErrClosed
	}
	select {
	case <-a.done:
		return a.resp, a.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Reset abandons any running mutation and returns to idle.
func (m *Mutation[Req, Resp]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.supersedeLocked(ErrSuperseded)
	m.state = State[Req, Resp]{}
	m.observable.Set(m.state.clone())
}

// Close abandons any running mutation and closes all watch channels.
func (m *Mutation[Req, Resp]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.supersedeLocked(ErrClosed)
	m.cancel()
	m.mu.Unlock()
	m.observable.Close()
	return nil
}

func (m *Mutation[Req, Resp]) start(req Req) *attempt[Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.supersedeLocked(ErrSuperseded)

	a := &attempt[Resp]{done: make(chan struct{})}
	m.current = a
	m.state = State[Req, Resp]{Status: StatusPending, Request: &req}
	m.observable.Set(m.state.clone())
	m.runLocked(a, req)
	return a
}

func (m *Mutation[Req, Resp]) supersedeLocked(err error) {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.cancelRun != nil {
		m.cancelRun()
		m.cancelRun = nil
	}
	if m.current != nil {
		var zero Resp
		m.current.settle(zero, err)
		m.current = nil
	}
}

func (m *Mutation[Req, Resp]) runLocked(a *attempt[Resp], req Req) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelRun = cancel
	go m.execute(ctx, a, req)
}

func (m *Mutation[Req, Resp]) execute(ctx context.Context, a *attempt[Resp], req Req) {
	resp, err := m.call(ctx, req)

	m.mu.Lock()
	if m.closed || m.current != a {
		m.mu.Unlock()
		return
	}
	m.cancelRun()
	m.cancelRun = nil
	now := time.Now()

	if err == nil {
		attemptsTotal.WithLabelValues("success").Inc()
		m.state.Status = StatusSuccess
		m.state.Data = &resp
		m.state.DataUpdatedAt = &now
		m.state.Error = nil
		m.state.ErrorUpdatedAt = nil
		m.state.FailureCount = 0
		m.current = nil
		a.settle(resp, nil)
		m.observable.Set(m.state.clone())
		m.mu.Unlock()

		m.logger.Debug().Msg("Mutation succeeded.")
		m.settled(&resp, nil, req)
		return
	}

	attemptsTotal.WithLabelValues("error").Inc()
	m.state.Status = StatusError
	m.state.Error = err
	m.state.ErrorUpdatedAt = &now
	m.state.FailureCount++

	if m.state.FailureCount <= m.cfg.RetryLimit {
		m.scheduleRetryLocked(a, req)
		m.observable.Set(m.state.clone())
		failures := m.state.FailureCount
		m.mu.Unlock()
		m.logger.Debug().Err(err).Uint("failure_count", failures).Msg("Mutation failed, retry scheduled.")
		return
	}

	m.current = nil
	var zero Resp
	a.settle(zero, err)
	m.observable.Set(m.state.clone())
	failures := m.state.FailureCount
	m.mu.Unlock()

	m.logger.Warn().Err(err).Uint("failure_count", failures).Msg("Mutation failed, retries exhausted.")
	m.settled(nil, err, req)
}

func (m *Mutation[Req, Resp]) scheduleRetryLocked(a *attempt[Resp], req Req) {
	var timer query.Timer
	timer = m.scheduler.After(m.cfg.RetryDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.current != a || m.retryTimer != timer {
			return
		}
		m.retryTimer = nil
		m.state.Status = StatusPending
		m.observable.Set(m.state.clone())
		m.runLocked(a, req)
	})
	m.retryTimer = timer
}

func (m *Mutation[Req, Resp]) call(ctx context.Context, req Req) (resp Resp, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return m.fn(ctx, req)
}

// settled runs the lifecycle callbacks and invalidations outside the lock.
func (m *Mutation[Req, Resp]) settled(resp *Resp, err error, req Req) {
	if err == nil {
		if m.onSuccess != nil {
			m.guard("OnSuccess", func() { m.onSuccess(*resp, req) })
		}
		if m.client != nil && len(m.invalidates) > 0 {
			m.client.InvalidateQueries(m.invalidates...)
		}
	} else if m.onError != nil {
		m.guard("OnError", func() { m.onError(err, req) })
	}
	if m.onSettled != nil {
		m.guard("OnSettled", func() { m.onSettled(resp, err, req) })
	}
}

func (m *Mutation[Req, Resp]) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().Str("callback", name).Interface("panic", r).Msg("Recovered panic in mutation callback.")
		}
	}()
	fn()
}
