package mutation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-query/pkg/mutation"
	"github.com/illmade-knight/go-query/pkg/query"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createUser struct {
	Name string
}

type user struct {
	ID   int
	Name string
}

// callbackLog records callback invocations in order.
type callbackLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callbackLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *callbackLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func callbackOptions(log *callbackLog) []mutation.Option[createUser, user] {
	return []mutation.Option[createUser, user]{
		mutation.WithOnSuccess(func(resp user, req createUser) { log.add("success:" + resp.Name) }),
		mutation.WithOnError[createUser, user](func(err error, req createUser) { log.add("error:" + err.Error()) }),
		mutation.WithOnSettled(func(resp *user, err error, req createUser) {
			if resp != nil {
				log.add("settled:ok")
				return
			}
			log.add("settled:err")
		}),
	}
}

func TestNewMutation_Validation(t *testing.T) {
	_, err := mutation.NewMutation[createUser, user](nil, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = mutation.NewMutation[createUser, user](&mutation.Config{RetryDelay: -1},
		func(ctx context.Context, req createUser) (user, error) { return user{}, nil }, zerolog.Nop())
	require.Error(t, err)
}

func TestMutation_Success(t *testing.T) {
	// Arrange
	log := &callbackLog{}
	m, err := mutation.NewMutation[createUser, user](nil,
		func(ctx context.Context, req createUser) (user, error) {
			return user{ID: 1, Name: req.Name}, nil
		}, zerolog.Nop(), callbackOptions(log)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	assert.True(t, m.State().IsIdle())

	// Act
	resp, err := m.MutateAndWait(context.Background(), createUser{Name: "ada"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, user{ID: 1, Name: "ada"}, resp)
	s := m.State()
	assert.True(t, s.IsSuccess())
	require.NotNil(t, s.Data)
	assert.Equal(t, "ada", s.Data.Name)
	require.NotNil(t, s.Request)
	assert.Equal(t, "ada", s.Request.Name)
	require.Eventually(t, func() bool { return len(log.Entries()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"success:ada", "settled:ok"}, log.Entries())
}

func TestMutation_RetriesThenSucceeds(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	log := &callbackLog{}
	cfg := &mutation.Config{RetryLimit: 3, RetryDelay: 5 * time.Millisecond}
	m, err := mutation.NewMutation[createUser, user](cfg,
		func(ctx context.Context, req createUser) (user, error) {
			if calls.Add(1) <= 2 {
				return user{}, errors.New("transient")
			}
			return user{ID: 9, Name: req.Name}, nil
		}, zerolog.Nop(), callbackOptions(log)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	// Act
	resp, err := m.MutateAndWait(context.Background(), createUser{Name: "bob"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 9, resp.ID)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint(0), m.State().FailureCount)
	require.Eventually(t, func() bool { return len(log.Entries()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"success:bob", "settled:ok"}, log.Entries(), "intermediate failures fire no callbacks")
}

func TestMutation_RetriesExhausted(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	log := &callbackLog{}
	cfg := &mutation.Config{RetryLimit: 1, RetryDelay: 5 * time.Millisecond}
	m, err := mutation.NewMutation[createUser, user](cfg,
		func(ctx context.Context, req createUser) (user, error) {
			calls.Add(1)
			return user{}, errors.New("rejected")
		}, zerolog.Nop(), callbackOptions(log)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	// Act
	_, err = m.MutateAndWait(context.Background(), createUser{Name: "eve"})

	// Assert
	require.EqualError(t, err, "rejected")
	assert.Equal(t, int32(2), calls.Load())
	s := m.State()
	assert.True(t, s.IsError())
	assert.Equal(t, uint(2), s.FailureCount)
	require.Eventually(t, func() bool { return len(log.Entries()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"error:rejected", "settled:err"}, log.Entries())
}

func TestMutation_PanicIsAFailure(t *testing.T) {
	m, err := mutation.NewMutation[createUser, user](nil,
		func(ctx context.Context, req createUser) (user, error) { panic("bad write") }, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.MutateAndWait(context.Background(), createUser{})

	assert.ErrorIs(t, err, mutation.ErrPanic)
}

func TestMutation_Supersede(t *testing.T) {
	// Arrange: the first request blocks until cancelled.
	m, err := mutation.NewMutation[createUser, user](nil,
		func(ctx context.Context, req createUser) (user, error) {
			if req.Name == "slow" {
				<-ctx.Done()
				return user{}, ctx.Err()
			}
			return user{Name: req.Name}, nil
		}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	firstErr := make(chan error, 1)
	go func() {
		_, err := m.MutateAndWait(context.Background(), createUser{Name: "slow"})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return m.State().IsPending() }, time.Second, 5*time.Millisecond)

	// Act
	resp, err := m.MutateAndWait(context.Background(), createUser{Name: "fast"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Name)
	assert.ErrorIs(t, <-firstErr, mutation.ErrSuperseded)
	assert.True(t, m.State().IsSuccess())
}

func TestMutation_StateIsASnapshot(t *testing.T) {
	// Arrange
	m, err := mutation.NewMutation[createUser, user](nil,
		func(ctx context.Context, req createUser) (user, error) { return user{Name: req.Name}, nil }, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	_, err = m.MutateAndWait(context.Background(), createUser{Name: "ada"})
	require.NoError(t, err)

	// Act
	s := m.State()
	s.Data.Name = "changed"
	s.Request.Name = "changed"
	*s.DataUpdatedAt = time.Time{}

	// Assert
	again := m.State()
	assert.Equal(t, "ada", again.Data.Name)
	assert.Equal(t, "ada", again.Request.Name)
	assert.False(t, again.DataUpdatedAt.IsZero())
}

func TestMutation_ResetAndClose(t *testing.T) {
	m, err := mutation.NewMutation[createUser, user](nil,
		func(ctx context.Context, req createUser) (user, error) { return user{Name: req.Name}, nil }, zerolog.Nop())
	require.NoError(t, err)
	_, err = m.MutateAndWait(context.Background(), createUser{Name: "x"})
	require.NoError(t, err)

	m.Reset()
	assert.True(t, m.State().IsIdle())
	assert.Nil(t, m.State().Data)

	require.NoError(t, m.Close())
	_, err = m.MutateAndWait(context.Background(), createUser{Name: "y"})
	assert.ErrorIs(t, err, mutation.ErrClosed)
}

func TestMutation_InvalidatesQueriesOnSuccess(t *testing.T) {
	// Arrange
	client := query.NewClient(zerolog.Nop())
	var queryCalls atomic.Int32
	q, err := query.NewQuery[int](nil, client, query.NewKey("users", 1),
		func(ctx context.Context) (int, error) { return int(queryCalls.Add(1)), nil }, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	require.Eventually(t, func() bool { return q.State().IsSuccess() }, time.Second, 5*time.Millisecond)

	m, err := mutation.NewMutation[createUser, user](nil,
		func(ctx context.Context, req createUser) (user, error) { return user{Name: req.Name}, nil },
		zerolog.Nop(), mutation.WithInvalidation[createUser, user](client, query.NewKey("users")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	// Act
	_, err = m.MutateAndWait(context.Background(), createUser{Name: "new"})
	require.NoError(t, err)

	// Assert
	require.Eventually(t, func() bool { return queryCalls.Load() == 2 }, time.Second, 5*time.Millisecond)
}
