package otoaudio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
)

// streamReader encodes a beep stream as interleaved float32 little-endian
// stereo for oto. The resampler is reached through the reader so rate
// changes are serialised with the audio thread's reads.
type streamReader struct {
	mu        sync.Mutex
	src       beep.Streamer
	resampler *beep.Resampler // nil when the rate is fixed
	samples   [][2]float64
	drained   bool
}

func newStreamReader(src beep.Streamer, resampler *beep.Resampler) *streamReader {
	return &streamReader{src: src, resampler: resampler}
}

// Read implements io.Reader.
func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drained {
		return 0, io.EOF
	}

	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(r.samples) < frames {
		r.samples = make([][2]float64, frames)
	}
	samples := r.samples[:frames]

	n, ok := r.src.Stream(samples)
	for i := range n {
		off := i * bytesPerFrame
		binary.LittleEndian.PutUint32(p[off:], math.Float32bits(float32(samples[i][0])))
		binary.LittleEndian.PutUint32(p[off+4:], math.Float32bits(float32(samples[i][1])))
	}
	if !ok || n == 0 {
		r.drained = true
		if n == 0 {
			return 0, io.EOF
		}
	}
	return n * bytesPerFrame, nil
}

func (r *streamReader) setRatio(ratio float64) {
	if r.resampler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resampler.SetRatio(ratio)
}

// Drained reports whether the underlying stream is exhausted.
func (r *streamReader) Drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drained
}
