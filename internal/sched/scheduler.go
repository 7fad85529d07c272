// Package sched runs callbacks at simulation times taken from a
// timectrl.SimClock. The emulator uses it to fire scripted events at their
// offsets from simulation start.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/interop-sim/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times.
// Callers advance the clock and then call RunDue.
type EventScheduler interface {
	// Schedule registers f to run at simulation time at and returns an ID
	// that can be passed to Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time of the underlying clock.
	Now() time.Time

	// RunDue executes, in time order, all events whose scheduled time is
	// <= Now(). Events never run twice.
	RunDue()

	// Pending reports how many scheduled events have neither run nor been
	// cancelled.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // earliest first; equal times keep insertion order
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler backed by clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	// Removal from s.events is lazy; popDueLocked skips cancelled entries.
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest due event, or nil.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Outside the lock so callbacks may schedule or cancel.
		if ev.f != nil {
			ev.f()
		}
	}
}
