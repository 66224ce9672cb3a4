package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Timers fire synchronously
// inside Advance, in firing order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake clock starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Since(t time.Time) time.Duration { return f.Now().Sub(t) }

func (f *Fake) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{
		clock: f,
		ch:    make(chan time.Time, 1),
		when:  f.now.Add(d),
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	due := make([]*fakeTimer, 0)
	rest := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.when.After(target) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	f.timers = rest
	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	f.now = target
	f.mu.Unlock()

	for _, t := range due {
		select {
		case t.ch <- t.when:
		default:
		}
	}
}

type fakeTimer struct {
	clock   *Fake
	ch      chan time.Time
	when    time.Time
	stopped bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = false
	t.when = t.clock.now.Add(d)
	found := false
	for _, existing := range t.clock.timers {
		if existing == t {
			found = true
			break
		}
	}
	if !found {
		t.clock.timers = append(t.clock.timers, t)
	}
	return was
}
