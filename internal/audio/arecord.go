package audio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// startupGrace is how long Open waits for arecord to fail on a bad device.
	startupGrace = 250 * time.Millisecond
	// stopGrace is how long Close waits after SIGINT before killing arecord.
	stopGrace = 1200 * time.Millisecond
	// frameQueue is the number of frames buffered between the pipe reader
	// and the recording loop.
	frameQueue = 256
)

// ArecordSource captures through the ALSA arecord utility, which accepts
// the same PCM names (plughw:CARD=US4x4,DEV=0, default, ...) as alsa-lib.
type ArecordSource struct {
	command string
	log     zerolog.Logger
}

// NewArecord returns an ALSA source. An empty command means "arecord" on PATH.
func NewArecord(command string, log zerolog.Logger) *ArecordSource {
	if command == "" {
		command = "arecord"
	}
	return &ArecordSource{command: command, log: log}
}

func arecordArgs(cfg StreamConfig) []string {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-t", "raw",
		"--period-size=" + strconv.Itoa(cfg.PeriodSize),
		"-q",
		"-",
	}
}

func (a *ArecordSource) Open(cfg StreamConfig) (Stream, error) {
	cmd := exec.Command(a.command, arecordArgs(cfg)...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	// Our own pipe rather than StdoutPipe: Wait must not close the read end
	// while the pump is still draining it.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create arecord pipe: %v", ErrDeviceOpen, err)
	}
	cmd.Stdout = w
	if err := cmd.Start(); err != nil {
		stdout.Close()
		w.Close()
		return nil, fmt.Errorf("%w: failed to start arecord: %v", ErrDeviceOpen, err)
	}
	w.Close()

	s := &arecordStream{
		stdout:   stdout,
		stderr:   stderr,
		process:  cmd.Process,
		frames:   make(chan []int16, frameQueue),
		pumpDone: make(chan struct{}),
		waitErr:  make(chan error, 1),
		period:   cfg.PeriodSize * cfg.Channels,
	}
	go s.pump()

	exited := make(chan struct{})
	go func() {
		s.waitErr <- cmd.Wait()
		close(s.waitErr)
		close(exited)
	}()

	select {
	case <-exited:
		s.Close()
		return nil, fmt.Errorf("%w: arecord exited before capture started: %s", ErrDeviceOpen, strings.TrimSpace(stderr.String()))
	case <-time.After(startupGrace):
	}

	a.log.Debug().Strs("args", arecordArgs(cfg)).Int("pid", cmd.Process.Pid).Msg("arecord started")
	return s, nil
}

type arecordStream struct {
	stdout  io.ReadCloser
	stderr  *lockedBuffer
	process *os.Process
	period  int

	frames   chan []int16
	pumpDone chan struct{}
	overflow atomic.Bool
	readErr  atomic.Value // error

	waitErr  chan error
	stopOnce sync.Once
	stopErr  error
}

// pump moves whole frames from the pipe into the queue. A full queue means
// the loop fell behind and samples were dropped.
func (s *arecordStream) pump() {
	defer close(s.pumpDone)
	defer close(s.frames)

	raw := make([]byte, 2*s.period)
	for {
		if _, err := io.ReadFull(s.stdout, raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				s.readErr.Store(err)
			}
			return
		}
		frame := make([]int16, s.period)
		decodeS16LE(frame, raw)

		select {
		case s.frames <- frame:
		default:
			s.overflow.Store(true)
		}
	}
}

func (s *arecordStream) Read(buf []int16) (int, error) {
	if s.overflow.Load() {
		return 0, fmt.Errorf("%w: %d frames queued", ErrBufferOverflow, frameQueue)
	}

	select {
	case frame, ok := <-s.frames:
		if !ok {
			if err, _ := s.readErr.Load().(error); err != nil {
				return 0, fmt.Errorf("%w: reading arecord output: %v", ErrStreamOpen, err)
			}
			return 0, fmt.Errorf("%w: arecord exited: %s", ErrStreamOpen, strings.TrimSpace(s.stderr.String()))
		}
		return copy(buf, frame), nil
	default:
		return 0, nil
	}
}

func (s *arecordStream) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		// The write end normally dies with the process. A grandchild may
		// still hold it, so fall back to closing our end under the pump.
		select {
		case <-s.pumpDone:
		case <-time.After(stopGrace):
		}
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
		<-s.pumpDone
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// lockedBuffer collects stderr while the stream may read it concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// normalizeStopErr ignores the non-zero exit arecord reports when interrupted.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// ListDevices returns the capture PCMs reported by `arecord -L`.
func (a *ArecordSource) ListDevices() ([]AudioDevice, error) {
	out, err := exec.Command(a.command, "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	return parsePCMList(out), nil
}

// parsePCMList reads the `arecord -L` format: an unindented PCM name
// followed by indented description lines.
func parsePCMList(out []byte) []AudioDevice {
	var devices []AudioDevice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(devices); n > 0 && devices[n-1].Name == devices[n-1].ID {
				devices[n-1].Name = strings.TrimSpace(line)
			}
			continue
		}
		id := strings.TrimSpace(line)
		devices = append(devices, AudioDevice{ID: id, Name: id, Default: id == "default"})
	}
	return devices
}

func (a *ArecordSource) Close() error {
	return nil
}
