package button

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
)

type fakePin struct {
	edges chan struct{}

	mu    sync.Mutex
	pulls []gpio.Pull
	modes []gpio.Edge
	inErr error
}

func newFakePin() *fakePin {
	return &fakePin{edges: make(chan struct{})}
}

func (p *fakePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pulls = append(p.pulls, pull)
	p.modes = append(p.modes, edge)
	return p.inErr
}

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGPIOManagerConfiguresPullUpFallingEdge(t *testing.T) {
	pin := newFakePin()
	m := newGPIOManager(pin, "GPIO24", 50*time.Millisecond, zerolog.Nop())

	if err := m.Register(func() {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	pin.mu.Lock()
	defer pin.mu.Unlock()
	if pin.pulls[0] != gpio.PullUp || pin.modes[0] != gpio.FallingEdge {
		t.Errorf("expected pull-up falling edge, got %v %v", pin.pulls[0], pin.modes[0])
	}
	if pin.modes[len(pin.modes)-1] != gpio.NoEdge {
		t.Error("Close should disable edge detection")
	}
}

func TestGPIOManagerCallsBackPerPress(t *testing.T) {
	pin := newFakePin()
	m := newGPIOManager(pin, "GPIO24", 50*time.Millisecond, zerolog.Nop())
	clock := &fakeClock{t: time.Unix(0, 0), step: time.Second}
	m.now = clock.now

	var presses atomic.Int32
	if err := m.Register(func() { presses.Add(1) }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer m.Close()

	for i := 0; i < 3; i++ {
		pin.edges <- struct{}{}
	}
	waitFor(t, func() bool { return presses.Load() == 3 })
}

func TestGPIOManagerDebounces(t *testing.T) {
	pin := newFakePin()
	m := newGPIOManager(pin, "GPIO24", 50*time.Millisecond, zerolog.Nop())
	clock := &fakeClock{t: time.Unix(0, 0), step: 5 * time.Millisecond}
	m.now = clock.now

	var presses atomic.Int32
	if err := m.Register(func() { presses.Add(1) }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer m.Close()

	// Five bounces 5ms apart collapse into one press.
	for i := 0; i < 5; i++ {
		pin.edges <- struct{}{}
	}
	waitFor(t, func() bool { return presses.Load() >= 1 })

	// The clock has moved 25ms; jump past the window.
	clock.mu.Lock()
	clock.t = clock.t.Add(time.Second)
	clock.mu.Unlock()
	pin.edges <- struct{}{}

	waitFor(t, func() bool { return presses.Load() == 2 })
}

func TestGPIOManagerRegisterTwice(t *testing.T) {
	m := newGPIOManager(newFakePin(), "GPIO24", 0, zerolog.Nop())
	defer m.Close()

	if err := m.Register(func() {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Register(func() {}); err == nil {
		t.Fatal("expected error on second Register")
	}
}

func TestGPIOManagerRegisterError(t *testing.T) {
	pin := newFakePin()
	pin.inErr = errors.New("busy")
	m := newGPIOManager(pin, "GPIO24", 0, zerolog.Nop())

	if err := m.Register(func() {}); err == nil {
		t.Fatal("expected configuration error")
	}
	if err := m.Close(); !errors.Is(err, pin.inErr) {
		t.Fatalf("expected pin error from Close, got %v", err)
	}
}
