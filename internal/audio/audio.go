package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/petems/room-recorder/internal/config"
	"github.com/rs/zerolog"
)

var (
	// ErrDeviceOpen means the capture device could not be found or opened.
	ErrDeviceOpen = errors.New("capture device open failed")
	// ErrStreamOpen means the device opened but the stream would not run.
	ErrStreamOpen = errors.New("capture stream failed")
	// ErrBufferOverflow means captured samples were lost before being read.
	ErrBufferOverflow = errors.New("capture buffer overflow")
)

// StreamConfig describes a capture stream: signed 16-bit native samples,
// PeriodSize samples per channel per frame.
type StreamConfig struct {
	Device     string
	SampleRate int
	Channels   int
	PeriodSize int
}

// Source opens capture streams on one backend
type Source interface {
	Open(cfg StreamConfig) (Stream, error)
	ListDevices() ([]AudioDevice, error)
	Close() error
}

// Stream is an open capture stream.
type Stream interface {
	// Read copies at most one frame into buf and never blocks waiting
	// for audio. It returns 0 with a nil error when no frame is ready.
	Read(buf []int16) (int, error)
	Close() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}

// New returns the capture source for the configured backend.
func New(cfg config.AudioConfig, log zerolog.Logger) (Source, error) {
	switch cfg.Backend {
	case config.BackendPortAudio:
		return NewPortAudio()
	case config.BackendArecord:
		return NewArecord("", log), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// StreamConfigFrom derives the stream settings from the audio config.
func StreamConfigFrom(cfg config.AudioConfig) StreamConfig {
	return StreamConfig{
		Device:     cfg.Device,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		PeriodSize: cfg.PeriodSize,
	}
}

// decodeS16LE converts little-endian 16-bit PCM into samples. A trailing odd
// byte is ignored.
func decodeS16LE(dst []int16, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return n
}
