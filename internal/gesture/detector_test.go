package gesture

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
}

// fakeClock replaces the detector's after hook with a virtual timeline so
// tests step time deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) after(wait time.Duration, fn func()) func() bool {
	c.mu.Lock()
	t := &fakeTimer{at: c.now + wait, fn: fn}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := t.stopped
		t.stopped = true
		return !was
	}
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && t.at <= c.now {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

type gestureLog struct {
	mu     sync.Mutex
	events []string
}

func (g *gestureLog) HoldStarted() {
	g.mu.Lock()
	g.events = append(g.events, "start")
	g.mu.Unlock()
}

func (g *gestureLog) HoldReleased() {
	g.mu.Lock()
	g.events = append(g.events, "stop")
	g.mu.Unlock()
}

func (g *gestureLog) snapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.events...)
}

func newTestDetector() (*Detector, *fakeClock, *gestureLog) {
	clock := &fakeClock{}
	handler := &gestureLog{}
	d := NewDetector(config.Default().Gesture, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.after = clock.after
	return d, clock, handler
}

func expectEvents(t *testing.T, handler *gestureLog, want ...string) {
	t.Helper()
	got := handler.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestTapThenHoldFiresStartAndStop(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(200 * time.Millisecond)
	d.Release(false)
	clock.advance(100 * time.Millisecond)
	d.Press(false)
	expectEvents(t, handler, "start")

	clock.advance(2 * time.Second)
	d.Release(false)
	expectEvents(t, handler, "start", "stop")
}

func TestLongFirstPressIsNotATap(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(500 * time.Millisecond)
	d.Release(false)
	clock.advance(time.Second)

	expectEvents(t, handler)
}

func TestSecondPressTooLateIsNotAGesture(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(100 * time.Millisecond)
	d.Release(false)
	clock.advance(450 * time.Millisecond)
	d.Press(false)
	// The late press starts over as a fresh first press.
	expectEvents(t, handler)

	clock.advance(time.Second)
	d.Release(false)
	expectEvents(t, handler)
}

func TestQuickSecondTapStillFires(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(100 * time.Millisecond)
	d.Release(false)
	clock.advance(100 * time.Millisecond)
	d.Press(false)
	clock.advance(50 * time.Millisecond)
	d.Release(false)

	expectEvents(t, handler, "start", "stop")
}

func TestModifierAbortsGesture(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(100 * time.Millisecond)
	d.Release(false)
	d.Press(true)
	clock.advance(time.Second)
	d.Release(true)

	expectEvents(t, handler)
}

func TestModifierDuringHoldResetsWithoutStop(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(100 * time.Millisecond)
	d.Release(false)
	d.Press(false)
	expectEvents(t, handler, "start")

	d.Release(true)
	expectEvents(t, handler, "start")

	// Machine is back to idle: the next clean gesture works.
	d.Press(false)
	clock.advance(100 * time.Millisecond)
	d.Release(false)
	d.Press(false)
	expectEvents(t, handler, "start", "start")
}

func TestRepeatGestureCycles(t *testing.T) {
	d, clock, handler := newTestDetector()

	for i := 0; i < 2; i++ {
		d.Press(false)
		clock.advance(100 * time.Millisecond)
		d.Release(false)
		clock.advance(50 * time.Millisecond)
		d.Press(false)
		clock.advance(600 * time.Millisecond)
		d.Release(false)
		clock.advance(time.Second)
	}

	expectEvents(t, handler, "start", "stop", "start", "stop")
}

func TestKeyRepeatWhileHoldingIsIgnored(t *testing.T) {
	d, clock, handler := newTestDetector()

	d.Press(false)
	clock.advance(100 * time.Millisecond)
	d.Release(false)
	d.Press(false)
	d.Press(false)
	d.Press(false)
	clock.advance(time.Second)
	d.Release(false)

	expectEvents(t, handler, "start", "stop")
}
