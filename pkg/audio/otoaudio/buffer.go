package otoaudio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"

	"github.com/MrWong99/narrata/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Buffer = (*Buffer)(nil)

// Buffer is fully decoded PCM held in memory.
type Buffer struct {
	data *beep.Buffer
}

// NewBuffer drains s into a new in-memory buffer of format f.
func NewBuffer(s beep.Streamer, f beep.Format) *Buffer {
	b := beep.NewBuffer(f)
	b.Append(s)
	return &Buffer{data: b}
}

// Duration implements [audio.Buffer].
func (b *Buffer) Duration() float64 {
	if b == nil || b.data == nil {
		return 0
	}
	return b.data.Format().SampleRate.D(b.data.Len()).Seconds()
}

// Format returns the buffer's native format.
func (b *Buffer) Format() beep.Format { return b.data.Format() }

// Len returns the buffer length in frames.
func (b *Buffer) Len() int { return b.data.Len() }

type codec int

const (
	codecUnknown codec = iota
	codecWAV
	codecMP3
)

// Decode reads a complete WAV or MP3 stream from r. name is only used to pick
// the codec by extension; when it has none the header is sniffed.
func Decode(r io.Reader, name string) (*Buffer, error) {
	br := bufio.NewReader(r)
	kind := codecByName(name)
	if kind == codecUnknown {
		head, _ := br.Peek(12)
		kind = sniff(head)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch kind {
	case codecWAV:
		stream, format, err = wav.Decode(br)
	case codecMP3:
		stream, format, err = mp3.Decode(io.NopCloser(br))
	default:
		return nil, fmt.Errorf("otoaudio: decode %q: unrecognised format: %w", name, audio.ErrDecode)
	}
	if err != nil {
		return nil, fmt.Errorf("otoaudio: decode %q: %w: %w", name, audio.ErrDecode, err)
	}
	defer stream.Close()

	buf := NewBuffer(stream, format)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("otoaudio: decode %q: %w: %w", name, audio.ErrDecode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("otoaudio: decode %q: no audio frames: %w", name, audio.ErrDecode)
	}
	return buf, nil
}

// DecodeFile opens and decodes the file at path.
func DecodeFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("otoaudio: open %q: %w", path, err)
	}
	defer f.Close()
	return Decode(f, filepath.Base(path))
}

func codecByName(name string) codec {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return codecWAV
	case ".mp3":
		return codecMP3
	}
	return codecUnknown
}

func sniff(head []byte) codec {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return codecWAV
	case len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")):
		return codecMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		// MPEG frame sync.
		return codecMP3
	}
	return codecUnknown
}
