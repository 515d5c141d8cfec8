//go:build windows

package button

import (
	"errors"

	"github.com/rs/zerolog"
)

type unsupportedManager struct{}

// NewSignal has no SIGUSR1 to listen for on Windows.
func NewSignal(log zerolog.Logger) Manager {
	return unsupportedManager{}
}

func (unsupportedManager) Register(callback func()) error {
	return errors.New("signal button is not supported on windows")
}

func (unsupportedManager) Close() error {
	return nil
}
