package sched

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time, 1)
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEventSchedulerRunsOnceWhenDue(t *testing.T) {
	clock := newFakeClock(epoch)
	s := NewEventScheduler(clock)

	var counter int
	t1 := epoch.Add(10 * time.Second)
	if id := s.Schedule(t1, func() { counter++ }); id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	s.RunDue()
	if counter != 0 {
		t.Fatalf("counter = %d before due time, want 0", counter)
	}

	clock.AdvanceTo(t1)
	s.RunDue()
	s.RunDue()
	if counter != 1 {
		t.Fatalf("counter = %d after due time, want 1", counter)
	}
	if got := s.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

func TestEventSchedulerOrdersByTimeThenInsertion(t *testing.T) {
	clock := newFakeClock(epoch)
	s := NewEventScheduler(clock)

	var order []string
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}
	s.Schedule(epoch.Add(30*time.Second), record("e3"))
	s.Schedule(epoch.Add(10*time.Second), record("e1"))
	s.Schedule(epoch.Add(10*time.Second), record("e1b"))
	s.Schedule(epoch.Add(20*time.Second), record("e2"))

	clock.AdvanceTo(epoch.Add(20 * time.Second))
	s.RunDue()
	if want := []string{"e1", "e1b", "e2"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	clock.AdvanceTo(epoch.Add(30 * time.Second))
	s.RunDue()
	if len(order) != 4 || order[3] != "e3" {
		t.Fatalf("order = %v, want e3 last", order)
	}
}

func TestEventSchedulerPastDueRunsImmediately(t *testing.T) {
	s := NewEventScheduler(newFakeClock(epoch))

	var counter int
	s.Schedule(epoch.Add(-5*time.Second), func() { counter++ })
	s.RunDue()
	if counter != 1 {
		t.Fatalf("counter = %d, want 1", counter)
	}
}

func TestEventSchedulerCancel(t *testing.T) {
	clock := newFakeClock(epoch)
	s := NewEventScheduler(clock)

	var counter int
	id := s.Schedule(epoch.Add(10*time.Second), func() { counter++ })
	s.Schedule(epoch.Add(20*time.Second), func() {})
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel("unknown-id")

	if got := s.Pending(); got != 1 {
		t.Fatalf("Pending() = %d after cancel, want 1", got)
	}

	clock.AdvanceTo(epoch.Add(10 * time.Second))
	s.RunDue()
	if counter != 0 {
		t.Fatalf("cancelled event ran, counter = %d", counter)
	}
}

func TestEventSchedulerReentrantSchedule(t *testing.T) {
	clock := newFakeClock(epoch)
	s := NewEventScheduler(clock)

	var counter int
	t1 := epoch.Add(10 * time.Second)
	t2 := epoch.Add(20 * time.Second)
	s.Schedule(t1, func() {
		counter++
		s.Schedule(t2, func() { counter++ })
	})

	clock.AdvanceTo(t1)
	s.RunDue()
	if counter != 1 {
		t.Fatalf("counter = %d after first event, want 1", counter)
	}

	clock.AdvanceTo(t2)
	s.RunDue()
	if counter != 2 {
		t.Fatalf("counter = %d after nested event, want 2", counter)
	}
}

func TestEventSchedulerNowDelegatesToClock(t *testing.T) {
	clock := newFakeClock(epoch)
	s := NewEventScheduler(clock)

	if got := s.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	later := epoch.Add(time.Hour)
	clock.AdvanceTo(later)
	if got := s.Now(); !got.Equal(later) {
		t.Fatalf("Now() = %v, want %v", got, later)
	}
}
