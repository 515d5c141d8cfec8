package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/petems/room-recorder/internal/button"
	"github.com/petems/room-recorder/internal/config"
	"github.com/petems/room-recorder/internal/control"
	"github.com/petems/room-recorder/internal/status"
	"github.com/rs/zerolog"
)

// Signaler shows status patterns on the LED.
type Signaler interface {
	Signal(p status.Pattern)
}

// Runner is the recording loop.
type Runner interface {
	Run(ctx context.Context) error
}

type Config struct {
	Recorder   Runner
	Register   *control.Register
	Button     button.Manager
	Signaler   Signaler
	OutputPath string
	Logger     zerolog.Logger
}

type App struct {
	rec    Runner
	reg    *control.Register
	button button.Manager
	signal Signaler
	path   string
	log    zerolog.Logger

	mu      sync.Mutex
	presses int
	closed  bool
}

func New(cfg Config) *App {
	return &App{
		rec:    cfg.Recorder,
		reg:    cfg.Register,
		button: cfg.Button,
		signal: cfg.Signaler,
		path:   cfg.OutputPath,
		log:    cfg.Logger,
	}
}

// Run checks the output directory, reports READY, starts watching the
// button and then blocks in the recording loop until ctx is cancelled.
// A bad output directory is reported with one FILE_PATH_ERROR flash and
// returned; the loop is never started.
func (a *App) Run(ctx context.Context) error {
	if err := config.ValidateOutputPath(a.path); err != nil {
		a.log.Error().Err(err).Str("path", a.path).Msg("Recording path unusable")
		a.signal.Signal(status.FilePathError.Pattern())
		return err
	}

	a.signal.Signal(status.Ready.Pattern())

	if err := a.button.Register(a.OnPress); err != nil {
		return fmt.Errorf("failed to register button: %w", err)
	}

	a.log.Info().Str("path", a.path).Msg("Waiting for button")
	return a.rec.Run(ctx)
}

// OnPress is the button callback. It only flips the register; the loop
// picks the change up on its next poll.
func (a *App) OnPress() {
	armed := a.reg.Toggle()

	a.mu.Lock()
	a.presses++
	n := a.presses
	a.mu.Unlock()

	a.log.Info().Bool("armed", armed).Int("press", n).Msg("Button pressed")
}

func (a *App) IsArmed() bool {
	return a.reg.IsArmed()
}

// Shutdown stops watching the button and turns the LED off. Call it after
// Run has returned so no session is open.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	err := a.button.Close()
	a.signal.Signal(status.Off)
	return err
}
