//go:build !windows

package button

import (
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
)

func TestSignalManagerCallsBackPerSignal(t *testing.T) {
	m := newSignalManager(syscall.SIGUSR2, zerolog.Nop())

	var presses atomic.Int32
	if err := m.Register(func() { presses.Add(1) }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR2); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	waitFor(t, func() bool { return presses.Load() == 1 })

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
