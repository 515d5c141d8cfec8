//go:build !windows

package button

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

type signalManager struct {
	sig os.Signal
	log zerolog.Logger

	mu      sync.Mutex
	started bool
	ch      chan os.Signal
	stop    chan struct{}
	done    chan struct{}
}

// NewSignal treats every SIGUSR1 delivered to the process as a button
// press, for machines without a GPIO header (`kill -USR1 <pid>`).
func NewSignal(log zerolog.Logger) Manager {
	return newSignalManager(syscall.SIGUSR1, log)
}

func newSignalManager(sig os.Signal, log zerolog.Logger) *signalManager {
	return &signalManager{
		sig:  sig,
		log:  log,
		ch:   make(chan os.Signal, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (m *signalManager) Register(callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("button callback already registered")
	}
	m.started = true
	signal.Notify(m.ch, m.sig)

	go func() {
		defer close(m.done)
		for {
			select {
			case <-m.stop:
				return
			case <-m.ch:
				callback()
			}
		}
	}()

	m.log.Info().Str("signal", m.sig.String()).Int("pid", os.Getpid()).Msg("Watching for button signal")
	return nil
}

func (m *signalManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.stop:
		return nil
	default:
	}

	signal.Stop(m.ch)
	close(m.stop)
	if m.started {
		<-m.done
	}
	return nil
}
