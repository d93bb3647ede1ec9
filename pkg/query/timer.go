package query

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents any future firing. A firing already in progress is not interrupted.
	Stop()
}

// Scheduler creates cancellable one-shot and periodic timers. Queries and mutations
// own the timers they create and stop them on invalidation or Close.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// RealScheduler is the wall-clock Scheduler used when none is configured.
type RealScheduler struct{}

type afterTimer struct {
	t *time.Timer
}

func (a *afterTimer) Stop() {
	a.t.Stop()
}

// After runs fn once, d from now.
func (RealScheduler) After(d time.Duration, fn func()) Timer {
	return &afterTimer{t: time.AfterFunc(d, fn)}
}

type tickerTimer struct {
	stop chan struct{}
	once sync.Once
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Every runs fn every d until stopped. A non-positive d never fires.
func (RealScheduler) Every(d time.Duration, fn func()) Timer {
	t := &tickerTimer{stop: make(chan struct{})}
	if d <= 0 {
		return t
	}

	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}
