package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/petems/room-recorder/internal/audio"
)

var (
	// ErrFileOpen means the output file could not be created.
	ErrFileOpen = errors.New("output file open failed")
	// ErrFileWrite means encoded audio could not be written or the file
	// could not be finalized.
	ErrFileWrite = errors.New("output file write failed")
	// ErrEncode means the encoder rejected input or failed to flush.
	ErrEncode = errors.New("encoder failed")
)

// fileLayout sorts lexicographically in time order: 2019-12-31_2359.59
const fileLayout = "2006-01-02_1504.05"

// nameAttempts bounds how far a colliding file name is bumped forward.
const nameAttempts = 60

type endReason string

const (
	reasonDisarmed endReason = "disarmed"
	reasonRearmed  endReason = "rearmed"
	reasonCeiling  endReason = "ceiling"
	reasonShutdown endReason = "shutdown"
	reasonError    endReason = "error"
)

type sessionFile interface {
	io.Writer
	Sync() error
	Close() error
}

func createExclusive(path string) (sessionFile, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

// session is one armed period materialized as one file.
type session struct {
	path    string
	start   time.Time
	elapsed time.Duration
	gen     uint64

	stream audio.Stream
	file   sessionFile

	frames      int
	samples     int
	bytes       int64
	writeFailed bool
}

func (s *session) write(p []byte) error {
	n, err := s.file.Write(p)
	s.bytes += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.writeFailed = true
		return fmt.Errorf("%w: %s: %v", ErrFileWrite, s.path, err)
	}
	return nil
}

// record runs one session from IDLE through ACTIVE and FLUSHING back to IDLE.
// Whatever happens after the file is open, the stream is closed, the
// encoder flushed and the file closed, in that order.
func (r *Recorder) record(ctx context.Context, gen uint64) (err error) {
	stream, err := r.source.Open(r.cfg.Stream)
	if err != nil {
		return err
	}

	path, file, err := r.openFile()
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			r.log.Warn().Err(cerr).Msg("Failed to close capture stream")
		}
		return err
	}

	s := &session{
		path:   path,
		start:  r.now(),
		gen:    gen,
		stream: stream,
		file:   file,
	}
	r.setState(StateActive)
	r.log.Info().Str("file", path).Msg("Recording started")

	reason := reasonError
	defer func() {
		r.setState(StateFlushing)
		if ferr := r.finish(s); ferr != nil {
			err = errors.Join(err, ferr)
		}
		r.setState(StateIdle)
		r.logSession(s, reason, err)
	}()

	reason, err = r.pump(ctx, s)
	return err
}

// pump moves frames from the stream through the encoder into the file until
// the session should end.
func (r *Recorder) pump(ctx context.Context, s *session) (endReason, error) {
	buf := make([]int16, r.cfg.Stream.PeriodSize*r.cfg.Stream.Channels)

	for {
		n, err := s.stream.Read(buf)
		if err != nil {
			return reasonError, err
		}

		if n > 0 {
			s.frames++
			s.samples += n
			data, err := r.enc.Encode(buf[:n])
			if err != nil {
				return reasonError, fmt.Errorf("%w: %v", ErrEncode, err)
			}
			if len(data) > 0 {
				if err := s.write(data); err != nil {
					return reasonError, err
				}
			}
		} else {
			time.Sleep(r.cfg.ReadYield)
		}

		s.elapsed = r.now().Sub(s.start)

		switch {
		case ctx.Err() != nil:
			r.reg.Disarm()
			return reasonShutdown, nil
		case !r.reg.IsArmed():
			return reasonDisarmed, nil
		case r.reg.Generation() != s.gen:
			// Disarmed and armed again between two polls.
			return reasonRearmed, nil
		case s.elapsed >= r.cfg.MaxDuration:
			// Same path as a button press, so the LED goes off too.
			r.reg.Disarm()
			return reasonCeiling, nil
		}
	}
}

// finish closes the stream, appends the encoder's flush tail and closes the
// file. Every step runs even if an earlier one failed; the tail is dropped
// if a write already failed, but the flush still resets the encoder.
func (r *Recorder) finish(s *session) error {
	var errs []error

	if err := s.stream.Close(); err != nil {
		r.log.Warn().Err(err).Str("file", s.path).Msg("Failed to close capture stream")
	}

	tail, err := r.enc.Flush()
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("%w: flush: %v", ErrEncode, err))
	case len(tail) > 0 && !s.writeFailed:
		if err := s.write(tail); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("%w: sync %s: %v", ErrFileWrite, s.path, err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close %s: %v", ErrFileWrite, s.path, err))
	}

	return errors.Join(errs...)
}

func (r *Recorder) logSession(s *session, reason endReason, err error) {
	audioSecs := 0.0
	if r.cfg.Stream.SampleRate > 0 && r.cfg.Stream.Channels > 0 {
		audioSecs = float64(s.samples) / float64(r.cfg.Stream.SampleRate*r.cfg.Stream.Channels)
	}

	ev := r.log.Info()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	if reason == reasonCeiling {
		ev = ev.Bool("rotated", true)
	}
	ev.Str("file", s.path).
		Str("reason", string(reason)).
		Dur("elapsed", s.elapsed).
		Float64("audio_seconds", audioSecs).
		Int("frames", s.frames).
		Int64("bytes", s.bytes).
		Msg("Recording finished")
}

// openFile creates the next output file. Names are strictly increasing: a
// name at or before the previous one, or one already on disk, is bumped
// forward a second at a time.
func (r *Recorder) openFile() (string, sessionFile, error) {
	t := r.now().Truncate(time.Second)
	for t.Format(fileLayout) <= r.lastName {
		t = t.Add(time.Second)
	}

	var lastErr error
	for i := 0; i < nameAttempts; i++ {
		stem := t.Format(fileLayout)
		path := filepath.Join(r.cfg.Dir, stem+".mp3")

		f, err := r.create(path)
		if err == nil {
			r.lastName = stem
			return path, f, nil
		}
		lastErr = err
		if !errors.Is(err, os.ErrExist) {
			break
		}
		t = t.Add(time.Second)
	}
	return "", nil, fmt.Errorf("%w: %v", ErrFileOpen, lastErr)
}
