// Package recorder runs the capture, encode and file rotation loop.
//
// One goroutine owns the capture stream, the encoder and the output file.
// The only state it shares with the button callback is the control
// register, which it polls once per frame.
package recorder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/petems/room-recorder/internal/audio"
	"github.com/petems/room-recorder/internal/control"
	"github.com/petems/room-recorder/internal/status"
	"github.com/rs/zerolog"
)

// Encoder is a streaming compressor configured once and flushed at the end
// of every session. Returned slices are only read before the next call.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	Flush() ([]byte, error)
}

// Opener opens capture streams.
type Opener interface {
	Open(cfg audio.StreamConfig) (audio.Stream, error)
}

// Signaler shows status patterns to the operator.
type Signaler interface {
	Signal(p status.Pattern)
}

type State int32

const (
	StateIdle State = iota
	StateActive
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

type Config struct {
	Dir         string
	Stream      audio.StreamConfig
	MaxDuration time.Duration
	// IdlePoll is how often the idle loop looks at the register.
	IdlePoll time.Duration
	// ReadYield is the pause after a read that returned no samples.
	ReadYield time.Duration
}

const (
	defaultIdlePoll  = 10 * time.Millisecond
	defaultReadYield = time.Millisecond
)

type Recorder struct {
	cfg    Config
	source Opener
	enc    Encoder
	reg    *control.Register
	signal Signaler
	log    zerolog.Logger

	now    func() time.Time
	create func(path string) (sessionFile, error)

	state     atomic.Int32
	attempted uint64 // register generation of the last session attempt
	lastName  string // last file stem handed out
}

// New builds a recorder. The encoder must already be configured for
// cfg.Stream's rate and channel count; it is never reconfigured.
func New(cfg Config, source Opener, enc Encoder, reg *control.Register, signal Signaler, log zerolog.Logger) *Recorder {
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = defaultIdlePoll
	}
	if cfg.ReadYield <= 0 {
		cfg.ReadYield = defaultReadYield
	}
	return &Recorder{
		cfg:    cfg,
		source: source,
		enc:    enc,
		reg:    reg,
		signal: signal,
		log:    log,
		now:    time.Now,
		create: createExclusive,
	}
}

// State reports where the session state machine is. Safe from any goroutine.
func (r *Recorder) State() State {
	return State(r.state.Load())
}

func (r *Recorder) setState(s State) {
	r.state.Store(int32(s))
}

// Run supervises sessions until ctx is cancelled. A session starts each time
// the register is armed afresh; failures are reported on the LED and the
// loop keeps going. Cancelling ctx ends an open session cleanly first.
func (r *Recorder) Run(ctx context.Context) error {
	r.log.Info().
		Str("dir", r.cfg.Dir).
		Str("device", r.cfg.Stream.Device).
		Int("rate", r.cfg.Stream.SampleRate).
		Dur("max_duration", r.cfg.MaxDuration).
		Msg("Recorder ready")

	for {
		if ctx.Err() != nil {
			return nil
		}

		gen := r.reg.Generation()
		if r.reg.IsArmed() && gen != r.attempted {
			r.attempted = gen
			if err := r.record(ctx, gen); err != nil {
				r.report(err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.IdlePoll):
		}
	}
}

func (r *Recorder) report(err error) {
	code := codeFor(err)
	r.log.Error().Err(err).Str("code", code.String()).Msg("Recording session failed")
	r.signal.Signal(code.Pattern())
}

// codeFor picks the blink code for a failed session.
func codeFor(err error) status.Code {
	switch {
	case errors.Is(err, audio.ErrBufferOverflow):
		return status.BufferOverflow
	case errors.Is(err, audio.ErrDeviceOpen):
		return status.DeviceOpenError
	case errors.Is(err, audio.ErrStreamOpen):
		return status.StreamOpenError
	case errors.Is(err, ErrFileOpen):
		return status.FilePathError
	default:
		return status.FileWriteError
	}
}
