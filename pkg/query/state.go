package query

import "time"

// Status is the outcome of the most recent completed fetch.
type Status int

const (
	// StatusPending means no fetch has completed yet.
	StatusPending Status = iota
	StatusError
	StatusSuccess
)

func (s Status) String() string {
	switch s {
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

// FetchStatus describes whether a fetch is running right now.
type FetchStatus int

const (
	FetchStatusFetching FetchStatus = iota
	// FetchStatusPaused means a fetch was requested but deferred by the execution policy
	// or by Pause.
	FetchStatusPaused
	FetchStatusIdle
)

func (s FetchStatus) String() string {
	switch s {
	case FetchStatusFetching:
		return "fetching"
	case FetchStatusPaused:
		return "paused"
	case FetchStatusIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// State is a snapshot of a query. Snapshots are values; mutating one has no effect on
// the query it came from.
type State[T any] struct {
	Status         Status
	FetchStatus    FetchStatus
	Data           *T
	DataUpdatedAt  *time.Time
	Error          error
	ErrorUpdatedAt *time.Time
	// FailureCount is reset to 0 on success and incremented on every failed fetch.
	FailureCount uint
}

func newState[T any]() State[T] {
	return State[T]{
		Status:      StatusPending,
		FetchStatus: FetchStatusFetching,
	}
}

// IsLoading reports a first fetch in flight.
func (s State[T]) IsLoading() bool {
	return s.FetchStatus == FetchStatusFetching && s.Status == StatusPending
}

// IsRefetching reports a background fetch in flight after an earlier completion.
func (s State[T]) IsRefetching() bool {
	return s.FetchStatus == FetchStatusFetching && s.Status != StatusPending
}

func (s State[T]) IsPaused() bool  { return s.FetchStatus == FetchStatusPaused }
func (s State[T]) IsSuccess() bool { return s.Status == StatusSuccess }
func (s State[T]) IsError() bool   { return s.Status == StatusError }
func (s State[T]) HasData() bool   { return s.Data != nil }

// clone copies the pointer fields so a snapshot never aliases the live state.
func (s State[T]) clone() State[T] {
	out := s
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
