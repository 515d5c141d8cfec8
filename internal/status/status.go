// Package status drives the single indicator LED the appliance has in place
// of a screen.
//
// Blink codes reported with Flash, counted as full on/off cycles:
//
//	1  Ready             startup finished, waiting for the button
//	2  FilePathError     recording directory or output file unusable
//	3  DeviceOpenError   capture device could not be opened
//	4  StreamOpenError   device found but the capture stream would not start
//	5  FileWriteError    writing encoded audio failed (disk full, removed media)
//	6  BufferOverflow    capture overran and samples were lost
//
// A steady slow blink means armed and recording; off means idle.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Code is a stable blink count reported to the operator.
type Code int

const (
	Ready           Code = 1
	FilePathError   Code = 2
	DeviceOpenError Code = 3
	StreamOpenError Code = 4
	FileWriteError  Code = 5
	BufferOverflow  Code = 6
)

func (c Code) String() string {
	switch c {
	case Ready:
		return "ready"
	case FilePathError:
		return "file_path_error"
	case DeviceOpenError:
		return "device_open_error"
	case StreamOpenError:
		return "stream_open_error"
	case FileWriteError:
		return "file_write_error"
	case BufferOverflow:
		return "buffer_overflow"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Pattern returns the flash pattern that reports c.
func (c Code) Pattern() Pattern {
	return Flash(int(c))
}

type Kind int

const (
	KindOff Kind = iota
	KindBlinkSlow
	KindFlash
)

// Pattern is one of Off, BlinkSlow or Flash(n).
type Pattern struct {
	Kind  Kind
	Count int
}

var (
	Off       = Pattern{Kind: KindOff}
	BlinkSlow = Pattern{Kind: KindBlinkSlow}
)

// Flash returns a pattern of exactly n on/off cycles.
func Flash(n int) Pattern {
	return Pattern{Kind: KindFlash, Count: n}
}

func (p Pattern) String() string {
	switch p.Kind {
	case KindOff:
		return "off"
	case KindBlinkSlow:
		return "blink_slow"
	case KindFlash:
		return fmt.Sprintf("flash(%d)", p.Count)
	default:
		return "unknown"
	}
}

// LED is a binary output.
type LED interface {
	Set(on bool) error
}

// Timing holds the on/off durations of the blinking patterns.
type Timing struct {
	FlashOn  time.Duration
	FlashOff time.Duration
	BlinkOn  time.Duration
	BlinkOff time.Duration
}

// DefaultTiming is half-second flashes and a one second on, half second off
// armed blink.
var DefaultTiming = Timing{
	FlashOn:  500 * time.Millisecond,
	FlashOff: 500 * time.Millisecond,
	BlinkOn:  time.Second,
	BlinkOff: 500 * time.Millisecond,
}

// Signaler plays patterns on an LED. Only one pattern runs at a time; a new
// Signal supersedes whatever is playing.
type Signaler struct {
	led    LED
	timing Timing
	log    zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewSignaler(led LED, timing Timing, log zerolog.Logger) *Signaler {
	return &Signaler{
		led:    led,
		timing: timing,
		log:    log,
	}
}

// Signal shows p. Off and BlinkSlow return immediately and are safe to call
// from the button callback. Flash blocks until its cycles have played or
// another Signal replaces it.
func (s *Signaler) Signal(p Pattern) {
	s.mu.Lock()
	s.halt()

	var done chan struct{}
	switch p.Kind {
	case KindBlinkSlow:
		done = s.play(func(stop <-chan struct{}) {
			for {
				if !s.cycle(stop, s.timing.BlinkOn, s.timing.BlinkOff) {
					return
				}
			}
		})
	case KindFlash:
		n := p.Count
		done = s.play(func(stop <-chan struct{}) {
			for i := 0; i < n; i++ {
				if !s.cycle(stop, s.timing.FlashOn, s.timing.FlashOff) {
					return
				}
			}
		})
	default:
		s.set(false)
	}
	s.mu.Unlock()

	if p.Kind == KindFlash {
		<-done
	}
}

// Close stops any running pattern and switches the LED off.
func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	s.set(false)
}

// halt stops the running pattern and waits for it to exit. Caller holds mu.
func (s *Signaler) halt() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

// play runs fn on its own goroutine. Caller holds mu.
func (s *Signaler) play(fn func(stop <-chan struct{})) chan struct{} {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		defer s.set(false)
		fn(stop)
	}()
	return done
}

// cycle turns the LED on for on, then off for off. It returns false if
// stopped early.
func (s *Signaler) cycle(stop <-chan struct{}, on, off time.Duration) bool {
	s.set(true)
	if !wait(stop, on) {
		return false
	}
	s.set(false)
	return wait(stop, off)
}

func (s *Signaler) set(on bool) {
	if err := s.led.Set(on); err != nil {
		s.log.Warn().Err(err).Bool("on", on).Msg("Failed to drive status LED")
	}
}

func wait(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
