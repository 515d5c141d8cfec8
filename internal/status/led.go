package status

import (
	"fmt"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOLED drives an LED wired to a GPIO output line.
type GPIOLED struct {
	pin gpio.PinOut
}

// NewGPIOLED claims the named pin (e.g. "GPIO18") as an output, initially low.
func NewGPIOLED(name string) (*GPIOLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize GPIO host: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown GPIO pin %q", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s as output: %w", name, err)
	}

	return &GPIOLED{pin: pin}, nil
}

func (l *GPIOLED) Set(on bool) error {
	return l.pin.Out(gpio.Level(on))
}

// Close leaves the LED off.
func (l *GPIOLED) Close() error {
	return l.pin.Out(gpio.Low)
}

// LogLED stands in for the LED on machines without GPIO; it only logs
// level changes.
type LogLED struct {
	log zerolog.Logger
	on  bool
}

func NewLogLED(log zerolog.Logger) *LogLED {
	return &LogLED{log: log}
}

func (l *LogLED) Set(on bool) error {
	if on != l.on {
		l.on = on
		l.log.Debug().Bool("on", on).Msg("LED")
	}
	return nil
}
