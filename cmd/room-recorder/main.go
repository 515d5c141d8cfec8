package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/room-recorder/internal/app"
	"github.com/petems/room-recorder/internal/audio"
	"github.com/petems/room-recorder/internal/button"
	"github.com/petems/room-recorder/internal/config"
	"github.com/petems/room-recorder/internal/control"
	"github.com/petems/room-recorder/internal/logging"
	"github.com/petems/room-recorder/internal/mp3"
	"github.com/petems/room-recorder/internal/recorder"
	"github.com/petems/room-recorder/internal/status"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile     string
	listDevices bool
	noGPIO      bool
	writeConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "room-recorder",
	Short: "Button-armed room audio recorder",
	Long: `room-recorder records the room to timestamped MP3 files while armed.

Press the button to start a recording and again to stop it. Recordings
longer than the maximum duration are closed and the recorder disarms.
The LED blinks slowly while armed and flashes a count to report errors:
1 ready, 2 file path, 3 device open, 4 stream open, 5 file write,
6 buffer overflow.`,
	Args:    cobra.NoArgs,
	Version: fmt.Sprintf("%s (%s)", Version, Commit),
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	flags.StringP("device", "d", "default", "capture device")
	flags.IntP("rate", "r", 44100, "sample rate in Hz")
	flags.StringP("path", "p", ".", "directory recordings are written to")
	flags.BoolVarP(&listDevices, "list", "l", false, "list capture devices and exit")
	flags.String("backend", "", "capture backend: arecord or portaudio (default arecord on Linux)")
	flags.Int("bitrate", 32, "MP3 bit rate in kbps")
	flags.Duration("max-duration", 3*time.Hour, "longest single recording")
	flags.String("button-pin", "GPIO24", "GPIO pin of the record button")
	flags.String("led-pin", "GPIO18", "GPIO pin of the status LED")
	flags.BoolVar(&noGPIO, "no-gpio", false, "use SIGUSR1 as the button and log LED changes")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&writeConfig, "write-config", false, "write the resolved config file and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Past argument parsing, errors are not usage errors.
	cmd.SilenceUsage = true

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		logging.New().Error().Err(err).Msg("Failed to load config")
		return err
	}
	if noGPIO {
		cfg.GPIO.Enabled = false
	}

	if writeConfig {
		if err := cfg.Save(cfgFile); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
		return nil
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	if err := cfg.ValidateSettings(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	source, err := audio.New(cfg.Audio, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return err
	}
	defer source.Close()

	if listDevices {
		return printDevices(cmd, source)
	}

	led, closeLED, err := newLED(cfg, log)
	if err != nil {
		log.Error().Err(err).Str("pin", cfg.GPIO.LEDPin).Msg("Failed to initialize LED")
		return err
	}
	defer closeLED()

	signaler := status.NewSignaler(led, status.DefaultTiming, log)
	defer signaler.Close()

	reg := control.New(signaler)

	btn, err := newButton(cfg, log)
	if err != nil {
		log.Error().Err(err).Str("pin", cfg.GPIO.ButtonPin).Msg("Failed to initialize button")
		return err
	}

	enc, err := mp3.NewEncoder(mp3.Settings{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Bitrate:    cfg.Encoder.Bitrate,
		Quality:    cfg.Encoder.Quality,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize encoder")
		btn.Close()
		return err
	}
	defer enc.Close()

	rec := recorder.New(recorder.Config{
		Dir:         cfg.Output.Path,
		Stream:      audio.StreamConfigFrom(cfg.Audio),
		MaxDuration: cfg.Output.MaxDuration,
	}, source, enc, reg, signaler, log)

	application := app.New(app.Config{
		Recorder:   rec,
		Register:   reg,
		Button:     btn,
		Signaler:   signaler,
		OutputPath: cfg.Output.Path,
		Logger:     log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("backend", cfg.Audio.Backend).
		Bool("gpio", cfg.GPIO.Enabled).
		Msg("room-recorder starting...")

	runErr := application.Run(ctx)
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	if runErr != nil {
		if !errors.Is(runErr, config.ErrConfiguration) {
			log.Error().Err(runErr).Msg("Recorder stopped")
		}
		return runErr
	}
	return nil
}

func newLED(cfg *config.Config, log zerolog.Logger) (status.LED, func(), error) {
	if !cfg.GPIO.Enabled {
		return status.NewLogLED(log), func() {}, nil
	}
	led, err := status.NewGPIOLED(cfg.GPIO.LEDPin)
	if err != nil {
		return nil, nil, err
	}
	return led, func() { led.Close() }, nil
}

func newButton(cfg *config.Config, log zerolog.Logger) (button.Manager, error) {
	if !cfg.GPIO.Enabled {
		log.Info().Int("pid", os.Getpid()).Msg("GPIO disabled, send SIGUSR1 to toggle recording")
		return button.NewSignal(log), nil
	}
	return button.NewGPIO(cfg.GPIO.ButtonPin, cfg.GPIO.Debounce, log)
}

func printDevices(cmd *cobra.Command, source audio.Source) error {
	devices, err := source.ListDevices()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		if d.Name != d.ID {
			fmt.Fprintf(out, "%s %s\t%s\n", marker, d.ID, d.Name)
		} else {
			fmt.Fprintf(out, "%s %s\n", marker, d.ID)
		}
	}
	return nil
}
