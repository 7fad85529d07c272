package timectrl

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"
)

// SimClock is the read side of simulated time. The event scheduler and the
// emulator's activity tasks depend on it rather than on TimeController so
// tests can substitute a fake.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
// elapsed. A non-positive d fires immediately.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.addTimerLocked(tc.currentTime.Add(d))
}

// At returns a channel that receives the simulation time once the clock
// reaches t. A t at or before the current time fires immediately.
func (tc *TimeController) At(t time.Time) <-chan time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.addTimerLocked(t)
}

func (tc *TimeController) addTimerLocked(at time.Time) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if !at.After(tc.currentTime) {
		ch <- tc.currentTime
		return ch
	}
	idx := sort.Search(len(tc.timers), func(i int) bool {
		return tc.timers[i].at.After(at)
	})
	tc.timers = append(tc.timers, timer{})
	copy(tc.timers[idx+1:], tc.timers[idx:])
	tc.timers[idx] = timer{at: at, ch: ch}
	return ch
}

// AddListener registers a callback invoked after every step with the new
// simulation time.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves simulation time forward by d, fires due timers and then
// notifies listeners.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	now := tc.currentTime.Add(d)
	tc.currentTime = now
	due := tc.dueTimersLocked(now)
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	fire(due, now)
	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Start runs the controller for the specified duration in a separate
// goroutine. A zero duration runs until ctx is cancelled. The returned
// channel is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else {
				if ctx.Err() != nil {
					return
				}
				runtime.Gosched()
			}
			tc.Advance(tc.Tick)
			elapsed += tc.Tick
		}
	}()
	return done
}

func (tc *TimeController) dueTimersLocked(now time.Time) []timer {
	n := 0
	for n < len(tc.timers) && !tc.timers[n].at.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	due := append([]timer(nil), tc.timers[:n]...)
	tc.timers = tc.timers[n:]
	return due
}

func fire(due []timer, now time.Time) {
	for _, t := range due {
		t.ch <- now
	}
}
