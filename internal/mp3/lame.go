// Package mp3 wraps libmp3lame as a long-lived streaming encoder.
package mp3

/*
#cgo LDFLAGS: -lmp3lame
#include <lame/lame.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// flushBufferSize is the output LAME documents as sufficient for a flush.
const flushBufferSize = 7200

// Settings are fixed for the lifetime of an Encoder.
type Settings struct {
	SampleRate int // input and output rate, Hz
	Channels   int
	Bitrate    int // kbps, constant
	Quality    int // 0 best .. 9 fastest
}

// Encoder is a CBR MP3 encoder that is flushed at the end of every file and
// then reused. It is not safe for concurrent use; the recording loop owns it.
type Encoder struct {
	gfp      *C.lame_global_flags
	settings Settings
	buf      []byte
}

// NewEncoder configures LAME once. The settings cannot be changed later.
func NewEncoder(s Settings) (*Encoder, error) {
	if s.Channels != 1 {
		return nil, fmt.Errorf("only mono encoding is supported, got %d channels", s.Channels)
	}

	gfp := C.lame_init()
	if gfp == nil {
		return nil, errors.New("lame_init failed")
	}

	C.lame_set_in_samplerate(gfp, C.int(s.SampleRate))
	// Without this LAME picks a lower output rate for low bitrates.
	C.lame_set_out_samplerate(gfp, C.int(s.SampleRate))
	C.lame_set_num_channels(gfp, C.int(s.Channels))
	C.lame_set_mode(gfp, C.MPEG_mode(C.MONO))
	C.lame_set_VBR(gfp, C.vbr_mode(C.vbr_off))
	C.lame_set_brate(gfp, C.int(s.Bitrate))
	C.lame_set_quality(gfp, C.int(s.Quality))
	// Plain frame stream: no Info/Xing frame, no ID3 tags.
	C.lame_set_bWriteVbrTag(gfp, 0)
	C.lame_set_write_id3tag_automatic(gfp, 0)

	if rc := C.lame_init_params(gfp); rc < 0 {
		C.lame_close(gfp)
		return nil, fmt.Errorf("lame_init_params failed (%d) for %d Hz at %d kbps", int(rc), s.SampleRate, s.Bitrate)
	}

	return &Encoder{gfp: gfp, settings: s, buf: make([]byte, flushBufferSize)}, nil
}

// Settings returns the configuration the encoder was built with.
func (e *Encoder) Settings() Settings {
	return e.settings
}

// Encode feeds mono samples and returns whatever MP3 data LAME produced,
// often nothing. The returned slice is only valid until the next call.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}

	// Worst case from lame.h: 1.25 * samples + 7200.
	need := len(pcm)*5/4 + flushBufferSize
	if len(e.buf) < need {
		e.buf = make([]byte, need)
	}

	n := C.lame_encode_buffer(
		e.gfp,
		(*C.short)(unsafe.Pointer(&pcm[0])),
		nil,
		C.int(len(pcm)),
		(*C.uchar)(unsafe.Pointer(&e.buf[0])),
		C.int(len(e.buf)),
	)
	if n < 0 {
		return nil, fmt.Errorf("lame_encode_buffer failed (%d)", int(n))
	}
	return e.buf[:int(n)], nil
}

// Flush drains LAME's lookahead, returning the final frames of the current
// file, and readies the encoder for the next one. The returned slice is
// only valid until the next call.
func (e *Encoder) Flush() ([]byte, error) {
	n := C.lame_encode_flush(e.gfp, (*C.uchar)(unsafe.Pointer(&e.buf[0])), C.int(len(e.buf)))
	if n < 0 {
		return nil, fmt.Errorf("lame_encode_flush failed (%d)", int(n))
	}
	if rc := C.lame_init_bitstream(e.gfp); rc < 0 {
		return e.buf[:int(n)], fmt.Errorf("lame_init_bitstream failed (%d)", int(rc))
	}
	return e.buf[:int(n)], nil
}

// Close releases the LAME instance.
func (e *Encoder) Close() error {
	if e.gfp != nil {
		C.lame_close(e.gfp)
		e.gfp = nil
	}
	return nil
}
