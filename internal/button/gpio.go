package button

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePin is the part of gpio.PinIn the watcher needs.
type edgePin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

// pollTimeout bounds how long Close waits for the edge loop to notice.
const pollTimeout = 100 * time.Millisecond

type gpioManager struct {
	pin      edgePin
	name     string
	debounce time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewGPIO watches the named input pin (e.g. "GPIO24") for a button wired to
// ground: pull-up, falling edge. Presses closer together than debounce are
// treated as contact bounce.
func NewGPIO(name string, debounce time.Duration, log zerolog.Logger) (Manager, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize GPIO host: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown GPIO pin %q", name)
	}

	return newGPIOManager(pin, name, debounce, log), nil
}

func newGPIOManager(pin edgePin, name string, debounce time.Duration, log zerolog.Logger) *gpioManager {
	return &gpioManager{
		pin:      pin,
		name:     name,
		debounce: debounce,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *gpioManager) Register(callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("button callback already registered")
	}
	if err := m.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("failed to configure %s for edge detection: %w", m.name, err)
	}

	m.started = true
	go m.eventLoop(callback)

	m.log.Info().Str("pin", m.name).Dur("debounce", m.debounce).Msg("Watching record button")
	return nil
}

func (m *gpioManager) eventLoop(callback func()) {
	defer close(m.done)

	var last time.Time
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		if !m.pin.WaitForEdge(pollTimeout) {
			continue
		}

		now := m.now()
		if !last.IsZero() && now.Sub(last) < m.debounce {
			continue
		}
		last = now

		callback()
	}
}

func (m *gpioManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.stop:
		return nil
	default:
	}
	close(m.stop)

	if m.started {
		<-m.done
	}
	return m.pin.In(gpio.PullNoChange, gpio.NoEdge)
}
