package gesture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Handler receives the recognized gestures.
type Handler interface {
	HoldStarted()
	HoldReleased()
}

type state int

const (
	stateIdle state = iota
	stateFirstPress
	stateFirstRelease
	stateHolding
)

// Detector recognizes a tap-then-hold on a single key from raw press and
// release events: a quick tap (released within the tap window) followed by a
// second press within the hold window starts the gesture, and releasing that
// second press ends it. Any press or release carrying a modifier resets the
// machine without firing, so ordinary shortcuts never trigger it. Two
// detectors for two different keys share no state; arbitration between the
// actions they trigger belongs to whoever consumes the callbacks.
//
// All timing goes through an injectable after hook, so tests run without
// real sleeps.
type Detector struct {
	handler Handler
	tapWin  time.Duration
	holdWin time.Duration
	logger  *slog.Logger

	after func(d time.Duration, fn func()) func() bool

	mu    sync.Mutex
	state state
	gen   uint64
	stop  func() bool
}

func NewDetector(cfg config.GestureConfig, handler Handler, logger *slog.Logger) *Detector {
	d := &Detector{
		handler: handler,
		tapWin:  time.Duration(cfg.TapWindowMS) * time.Millisecond,
		holdWin: time.Duration(cfg.HoldWindowMS) * time.Millisecond,
		logger:  logger.With(slog.String("component", "gesture")),
	}
	d.after = func(wait time.Duration, fn func()) func() bool {
		t := time.AfterFunc(wait, fn)
		return t.Stop
	}
	return d
}

// Press handles a key-down event. modified reports whether any modifier key
// was held at the time.
func (d *Detector) Press(modified bool) {
	d.mu.Lock()

	if modified {
		d.resetLocked()
		d.mu.Unlock()
		return
	}

	switch d.state {
	case stateIdle:
		d.state = stateFirstPress
		d.armLocked(d.tapWin)
		d.mu.Unlock()
	case stateFirstRelease:
		// Second press in time: the hold begins now.
		d.state = stateHolding
		d.gen++
		d.clearTimerLocked()
		d.mu.Unlock()
		d.handler.HoldStarted()
	default:
		// Duplicate press (key repeat); ignore.
		d.mu.Unlock()
	}
}

// Release handles a key-up event.
func (d *Detector) Release(modified bool) {
	d.mu.Lock()

	if modified {
		d.resetLocked()
		d.mu.Unlock()
		return
	}

	switch d.state {
	case stateFirstPress:
		d.state = stateFirstRelease
		d.armLocked(d.holdWin)
		d.mu.Unlock()
	case stateHolding:
		d.resetLocked()
		d.mu.Unlock()
		d.handler.HoldReleased()
	default:
		d.mu.Unlock()
	}
}

// Reset abandons any gesture in progress without firing callbacks.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
}

// armLocked starts a reset timer that forces idle unless a state transition
// beats it. The generation counter keeps a stale timer from clobbering a
// newer state.
func (d *Detector) armLocked(wait time.Duration) {
	d.gen++
	gen := d.gen
	d.clearTimerLocked()
	d.stop = d.after(wait, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.gen == gen {
			d.resetLocked()
		}
	})
}

func (d *Detector) clearTimerLocked() {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *Detector) resetLocked() {
	d.gen++
	d.clearTimerLocked()
	d.state = stateIdle
}
