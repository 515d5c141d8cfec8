package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a configuration the recorder cannot start with.
var ErrConfiguration = errors.New("invalid configuration")

const (
	BackendPortAudio = "portaudio"
	BackendArecord   = "arecord"
)

type Config struct {
	Audio    AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Encoder  EncoderConfig `mapstructure:"encoder" yaml:"encoder"`
	Output   OutputConfig  `mapstructure:"output" yaml:"output"`
	GPIO     GPIOConfig    `mapstructure:"gpio" yaml:"gpio"`
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "arecord" or "portaudio"
	Device     string `mapstructure:"device" yaml:"device"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	PeriodSize int    `mapstructure:"period_size" yaml:"period_size"` // samples per frame
}

type EncoderConfig struct {
	Bitrate int `mapstructure:"bitrate" yaml:"bitrate"` // kbps
	Quality int `mapstructure:"quality" yaml:"quality"` // LAME algorithm quality, 0 (best) to 9
}

type OutputConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
}

type GPIOConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	ButtonPin string        `mapstructure:"button_pin" yaml:"button_pin"`
	LEDPin    string        `mapstructure:"led_pin" yaml:"led_pin"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"backend":      "audio.backend",
	"device":       "audio.device",
	"rate":         "audio.sample_rate",
	"bitrate":      "encoder.bitrate",
	"path":         "output.path",
	"max-duration": "output.max_duration",
	"button-pin":   "gpio.button_pin",
	"led-pin":      "gpio.led_pin",
	"log-level":    "log_level",
}

func defaultBackend() string {
	if runtime.GOOS == "linux" {
		return BackendArecord
	}
	return BackendPortAudio
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", defaultBackend())
	v.SetDefault("audio.device", "default")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.period_size", 160)
	v.SetDefault("encoder.bitrate", 32)
	v.SetDefault("encoder.quality", 5)
	v.SetDefault("output.path", ".")
	v.SetDefault("output.max_duration", 3*time.Hour)
	v.SetDefault("gpio.enabled", true)
	v.SetDefault("gpio.button_pin", "GPIO24")
	v.SetDefault("gpio.led_pin", "GPIO18")
	v.SetDefault("gpio.debounce", 50*time.Millisecond)
	v.SetDefault("log_level", "info")
}

// Load resolves the configuration from defaults, the YAML config file,
// RECORDER_* environment variables and finally any flags that were set.
// An empty configFile means the default path, which may be absent.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultPath()
	}
	if _, err := os.Stat(configFile); err == nil {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", configFile, err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings and that the output directory is usable.
func (c *Config) Validate() error {
	if err := c.ValidateSettings(); err != nil {
		return err
	}
	return ValidateOutputPath(c.Output.Path)
}

// ValidateSettings checks the settings the recorder fixes for its whole run.
// It does not touch the filesystem.
func (c *Config) ValidateSettings() error {
	switch c.Audio.Backend {
	case BackendArecord, BackendPortAudio:
	default:
		return fmt.Errorf("%w: unknown audio backend %q", ErrConfiguration, c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrConfiguration, c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 {
		return fmt.Errorf("%w: only mono capture is supported, got %d channels", ErrConfiguration, c.Audio.Channels)
	}
	if c.Audio.PeriodSize <= 0 {
		return fmt.Errorf("%w: period size must be positive, got %d", ErrConfiguration, c.Audio.PeriodSize)
	}
	if c.Encoder.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate must be positive, got %d", ErrConfiguration, c.Encoder.Bitrate)
	}
	if c.Encoder.Quality < 0 || c.Encoder.Quality > 9 {
		return fmt.Errorf("%w: encoder quality must be within 0..9, got %d", ErrConfiguration, c.Encoder.Quality)
	}
	if c.Output.MaxDuration <= 0 {
		return fmt.Errorf("%w: max duration must be positive, got %s", ErrConfiguration, c.Output.MaxDuration)
	}
	if c.GPIO.Enabled && (c.GPIO.ButtonPin == "" || c.GPIO.LEDPin == "") {
		return fmt.Errorf("%w: button and LED pins are required when GPIO is enabled", ErrConfiguration)
	}
	if c.GPIO.Debounce < 0 {
		return fmt.Errorf("%w: debounce cannot be negative, got %s", ErrConfiguration, c.GPIO.Debounce)
	}
	return nil
}

// ValidateOutputPath fails unless path is an existing directory we can
// create files in.
func ValidateOutputPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: recording path %q not accessible: %v", ErrConfiguration, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: recording path %q is not a directory", ErrConfiguration, path)
	}

	probe, err := os.CreateTemp(path, ".room-recorder-*")
	if err != nil {
		return fmt.Errorf("%w: recording path %q not writable: %v", ErrConfiguration, path, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// Save writes the config to path as YAML
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultPath returns the platform-specific config file path
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "room-recorder", "config.yaml")
}
