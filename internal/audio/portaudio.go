package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

type portAudioSource struct{}

// NewPortAudio creates a PortAudio-based capture source
func NewPortAudio() (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioSource{}, nil
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" || deviceID == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

func (p *portAudioSource) Open(cfg StreamConfig) (Stream, error) {
	device, err := findDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	// Open stream: mono, specified sample rate, int16
	buffer := make([]int16, cfg.PeriodSize*cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.PeriodSize,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open audio stream on %s: %v", ErrDeviceOpen, device.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: failed to start audio stream: %v", ErrStreamOpen, err)
	}

	return &portAudioStream{stream: stream, buffer: buffer, period: cfg.PeriodSize}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
	period int
}

// Read only pulls from PortAudio once a whole frame is buffered, so the
// blocking Read underneath returns at once.
func (s *portAudioStream) Read(buf []int16) (int, error) {
	avail, err := s.stream.AvailableToRead()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStreamOpen, err)
	}
	if avail < s.period {
		return 0, nil
	}

	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("%w: %v", ErrBufferOverflow, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrStreamOpen, err)
	}
	return copy(buf, s.buffer), nil
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	return errors.Join(stopErr, s.stream.Close())
}

func (p *portAudioSource) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioSource) Close() error {
	return portaudio.Terminate()
}
