// Package timing estimates word-level timing for a finished speech rendering.
//
// Speech providers hand back an audio buffer and nothing else: there is no
// per-word alignment. [Build] splits the script that was spoken into word and
// tag segments and distributes the audio duration across them with a
// length- and punctuation-weighted heuristic. [Resolver] maps a playback
// position back onto that decomposition so the UI can highlight the word being
// spoken.
//
// All times are expressed in seconds as float64, matching the audio clock.
package timing

// SegmentKind distinguishes spoken words from non-spoken tag markers.
type SegmentKind int

const (
	// KindWord is a whitespace-delimited spoken word.
	KindWord SegmentKind = iota

	// KindTag is a bracket-delimited marker such as "[pause]".
	KindTag
)

// String returns the human-readable name of the segment kind.
func (k SegmentKind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler] so segments serialise with
// their kind name instead of an integer.
func (k SegmentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// NoWord is the word index reported when no word is active, e.g. before the
// first word starts or for tag segments.
const NoWord = -1

// Segment is a single timed slice of the script.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Content string      `json:"content"`

	// Start and End are offsets into the audio in seconds. End >= Start.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// WordIndex is dense and strictly increasing across word segments.
	// It is [NoWord] for tag segments.
	WordIndex int `json:"word_index"`

	// SentenceIndex counts sentence-ending punctuation seen before this
	// segment.
	SentenceIndex int `json:"sentence_index"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Map is the immutable timing decomposition of one script/audio pair. A Map
// is built once per playback load and must not be mutated afterwards.
type Map struct {
	Segments      []Segment `json:"segments"`
	TotalDuration float64   `json:"total_duration"`
	WordCount     int       `json:"word_count"`

	// SentenceCount is the final running sentence index plus one, so a
	// trailing terminator opens a (possibly empty) sentence of its own.
	SentenceCount int `json:"sentence_count"`
}

// Words returns the word segments of m in order. The returned slice is
// freshly allocated.
func (m *Map) Words() []Segment {
	if m == nil {
		return nil
	}
	words := make([]Segment, 0, m.WordCount)
	for _, s := range m.Segments {
		if s.Kind == KindWord {
			words = append(words, s)
		}
	}
	return words
}

// Word returns the word segment with the given index.
func (m *Map) Word(index int) (Segment, bool) {
	if m == nil || index < 0 {
		return Segment{}, false
	}
	for _, s := range m.Segments {
		if s.Kind == KindWord && s.WordIndex == index {
			return s, true
		}
	}
	return Segment{}, false
}
