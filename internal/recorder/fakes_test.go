package recorder

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/room-recorder/internal/audio"
	"github.com/petems/room-recorder/internal/control"
	"github.com/petems/room-recorder/internal/status"
	"github.com/rs/zerolog"
)

// eventLog records the order of side effects across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeStream struct {
	mu      sync.Mutex
	period  int
	limit   int // frames to deliver, -1 for no limit
	failAt  int // frame index that returns failErr, -1 for never
	failErr error
	onRead  func(i int)

	reads  int
	closed bool
	events *eventLog
}

func (s *fakeStream) Read(buf []int16) (int, error) {
	s.mu.Lock()
	i := s.reads
	if s.failAt >= 0 && i == s.failAt {
		s.mu.Unlock()
		return 0, s.failErr
	}
	if s.limit >= 0 && i >= s.limit {
		s.mu.Unlock()
		return 0, nil
	}
	s.reads++
	hook := s.onRead
	s.mu.Unlock()

	n := s.period
	if n > len(buf) {
		n = len(buf)
	}
	for j := 0; j < n; j++ {
		buf[j] = 0
	}
	if hook != nil {
		hook(i)
	}
	return n, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.add("stream.close")
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSource struct {
	mu      sync.Mutex
	opens   int
	openErr error
	streams []*fakeStream
	build   func() *fakeStream
}

func (s *fakeSource) Open(cfg audio.StreamConfig) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	st := s.build()
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *fakeSource) setOpenErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSource) stream(i int) *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.streams) {
		return nil
	}
	return s.streams[i]
}

// fakeEncoder emits one byte every emitEvery calls and "TAIL" on flush.
type fakeEncoder struct {
	mu        sync.Mutex
	emitEvery int
	calls     int
	samples   int
	flushes   int
	flushErr  error
	events    *eventLog
}

func (e *fakeEncoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.samples += len(pcm)
	if e.emitEvery > 0 && e.calls%e.emitEvery == 0 {
		return []byte{'a'}, nil
	}
	return nil, nil
}

func (e *fakeEncoder) Flush() ([]byte, error) {
	e.mu.Lock()
	e.flushes++
	err := e.flushErr
	e.mu.Unlock()
	e.events.add("enc.flush")
	if err != nil {
		return nil, err
	}
	return []byte("TAIL"), nil
}

func (e *fakeEncoder) flushCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushes
}

func (e *fakeEncoder) sampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeFile struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   int
	failFrom int // write index that starts failing, -1 for never
	closed   bool
	events   *eventLog
}

func (f *fakeFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.writes
	f.writes++
	if f.failFrom >= 0 && i >= f.failFrom {
		f.events.add("file.write.failed")
		return 0, errors.New("no space left on device")
	}
	f.events.add("file.write:" + string(p))
	return f.buf.Write(p)
}

func (f *fakeFile) Sync() error {
	f.events.add("file.sync")
	return nil
}

func (f *fakeFile) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.events.add("file.close")
	return nil
}

func (f *fakeFile) contents() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.buf.Bytes()...)
}

// recordingSignaler stands in for the LED driver.
type recordingSignaler struct {
	mu       sync.Mutex
	patterns []status.Pattern
}

func (s *recordingSignaler) Signal(p status.Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, p)
}

func (s *recordingSignaler) list() []status.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]status.Pattern(nil), s.patterns...)
}

func (s *recordingSignaler) has(p status.Pattern) bool {
	for _, got := range s.list() {
		if got == p {
			return true
		}
	}
	return false
}

func (s *recordingSignaler) flashes() []status.Pattern {
	var out []status.Pattern
	for _, p := range s.list() {
		if p.Kind == status.KindFlash {
			out = append(out, p)
		}
	}
	return out
}

// fakeClock is advanced explicitly by the test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testStart = time.Date(2024, 3, 9, 14, 30, 5, 0, time.Local)

const testPeriod = 160

// harness wires a recorder to fakes. Tests adjust fields before start.
type harness struct {
	t      *testing.T
	dir    string
	clock  *fakeClock
	events *eventLog
	signal *recordingSignaler
	reg    *control.Register
	source *fakeSource
	enc    *fakeEncoder
	rec    *Recorder

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		dir:    t.TempDir(),
		clock:  &fakeClock{t: testStart},
		events: &eventLog{},
		signal: &recordingSignaler{},
	}
	h.reg = control.New(h.signal)
	h.enc = &fakeEncoder{emitEvery: 4, events: h.events}
	h.source = &fakeSource{build: func() *fakeStream {
		return &fakeStream{period: testPeriod, limit: 20, failAt: -1, events: h.events}
	}}
	cfg := Config{
		Dir: h.dir,
		Stream: audio.StreamConfig{
			Device:     "default",
			SampleRate: 16000,
			Channels:   1,
			PeriodSize: testPeriod,
		},
		MaxDuration: 3 * time.Hour,
		IdlePoll:    time.Millisecond,
	}
	h.rec = New(cfg, h.source, h.enc, h.reg, h.signal, zerolog.Nop())
	h.rec.now = h.clock.Now
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.rec.Run(ctx) }()
	h.t.Cleanup(h.stop)
}

// stop cancels Run and waits for it to return.
func (h *harness) stop() {
	h.t.Helper()
	if h.done == nil {
		return
	}
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after cancel")
	}
	h.done = nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
