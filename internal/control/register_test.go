package control

import (
	"sync"
	"testing"

	"github.com/petems/room-recorder/internal/status"
)

type recordingSignaler struct {
	mu       sync.Mutex
	patterns []status.Pattern
}

func (s *recordingSignaler) Signal(p status.Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, p)
}

func (s *recordingSignaler) snapshot() []status.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]status.Pattern(nil), s.patterns...)
}

func TestToggleFlipsAndSignals(t *testing.T) {
	sig := &recordingSignaler{}
	reg := New(sig)

	if reg.IsArmed() {
		t.Fatal("register should start disarmed")
	}

	if !reg.Toggle() || !reg.IsArmed() {
		t.Fatal("first toggle should arm")
	}
	if reg.Toggle() || reg.IsArmed() {
		t.Fatal("second toggle should disarm")
	}

	got := sig.snapshot()
	want := []status.Pattern{status.BlinkSlow, status.Off}
	if len(got) != len(want) {
		t.Fatalf("expected %d signals, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestGenerationCountsArmings(t *testing.T) {
	reg := New(nil)

	for i := 0; i < 3; i++ {
		reg.Toggle()
		reg.Toggle()
	}
	if got := reg.Generation(); got != 3 {
		t.Errorf("expected generation 3, got %d", got)
	}
}

func TestDisarmOnlyWhenArmed(t *testing.T) {
	sig := &recordingSignaler{}
	reg := New(sig)

	if reg.Disarm() {
		t.Fatal("Disarm on a disarmed register should report no change")
	}
	if len(sig.snapshot()) != 0 {
		t.Fatal("no-op Disarm must not signal")
	}

	reg.Toggle()
	if !reg.Disarm() {
		t.Fatal("Disarm should clear an armed register")
	}
	if reg.IsArmed() {
		t.Fatal("register should be disarmed")
	}
	if got := sig.snapshot(); got[len(got)-1] != status.Off {
		t.Errorf("expected Off as last signal, got %v", got)
	}
}

func TestConcurrentDisarmClearsOnce(t *testing.T) {
	reg := New(nil)
	reg.Toggle()

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Disarm() {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changed != 1 {
		t.Errorf("expected exactly one Disarm to take effect, got %d", changed)
	}
}

func TestConcurrentTogglesAreNotLost(t *testing.T) {
	reg := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Toggle()
		}()
	}
	wg.Wait()

	// An even number of flips lands back on disarmed.
	if reg.IsArmed() {
		t.Error("expected disarmed after an even number of toggles")
	}
	if got := reg.Generation(); got != 50 {
		t.Errorf("expected 50 armings, got %d", got)
	}
}
