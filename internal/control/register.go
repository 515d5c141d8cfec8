// Package control holds the armed flag shared between the button callback
// and the recording loop.
package control

import (
	"sync/atomic"

	"github.com/petems/room-recorder/internal/status"
)

// Signaler receives the indicator side effect of every state change.
type Signaler interface {
	Signal(p status.Pattern)
}

// Register is the single piece of state shared between the input callback
// and the recording loop. All methods are lock-free and safe to call from
// any goroutine.
type Register struct {
	armed  atomic.Bool
	gen    atomic.Uint64
	signal Signaler
}

// New returns a disarmed register. signal may be nil.
func New(signal Signaler) *Register {
	return &Register{signal: signal}
}

// Toggle flips the armed flag and returns the new value. It is meant to be
// called once per button press.
func (r *Register) Toggle() bool {
	for {
		old := r.armed.Load()
		if r.armed.CompareAndSwap(old, !old) {
			r.changed(!old)
			return !old
		}
	}
}

// Disarm clears the flag if it is set and reports whether it did. The
// indicator side effect is the same as a toggle to false.
func (r *Register) Disarm() bool {
	if !r.armed.CompareAndSwap(true, false) {
		return false
	}
	r.changed(false)
	return true
}

// IsArmed reports the current flag value.
func (r *Register) IsArmed() bool {
	return r.armed.Load()
}

// Generation counts false→true transitions. The loop uses it to tell a
// fresh arming from one it already acted on.
func (r *Register) Generation() uint64 {
	return r.gen.Load()
}

func (r *Register) changed(armed bool) {
	if armed {
		r.gen.Add(1)
	}
	if r.signal == nil {
		return
	}
	if armed {
		r.signal.Signal(status.BlinkSlow)
	} else {
		r.signal.Signal(status.Off)
	}
}
