package timing

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	// minSpeakingTime keeps the speaking budget positive when the tag pauses
	// alone add up to more than the rendered audio.
	minSpeakingTime = 1.0

	sentenceEndFactor = 1.4
	clauseFactor      = 1.15
)

// Build estimates the timing of script over audio that is audioDuration
// seconds long. Tag durations are looked up in tags; pass nil to treat every
// tag as zero-length.
//
// Each word is weighted by base × (0.85 + 0.3×min(len/5, 1.5)) × punctuation,
// where punctuation is 1.4 after ".!?", 1.15 after ",;:" and 1 otherwise. The
// weights are normalised so the words exactly fill the speaking time
// (audioDuration minus tag time, floored at one second). If the floor pushes
// the timeline past audioDuration the whole map is compressed to fit.
//
// The result is a heuristic: segments are contiguous and ordered, but the
// per-word boundaries will drift somewhat from the real speech.
func Build(script string, audioDuration float64, tags TagTable) *Map {
	if math.IsNaN(audioDuration) || audioDuration < 0 {
		audioDuration = 0
	}
	tokens := Tokenize(script)

	// Pass 1: tag time and word weights.
	var (
		totalPause float64
		wordCount  int
		weightSum  float64
	)
	for _, tok := range tokens {
		if tok.IsTag {
			totalPause += tagDuration(tags, tok.Text)
			continue
		}
		for _, w := range strings.Fields(tok.Text) {
			wordCount++
			weightSum += wordWeight(w)
		}
	}

	speakingTime := math.Max(audioDuration-totalPause, minSpeakingTime)
	baseTimePerWord := speakingTime / float64(max(wordCount, 1))
	norm := 1.0
	if weightSum > 0 {
		norm = float64(wordCount) / weightSum
	}

	// Pass 2: emit segments along a running cursor.
	segments := make([]Segment, 0, wordCount+len(tokens))
	var (
		cursor        float64
		wordIndex     int
		sentenceIndex int
	)
	for _, tok := range tokens {
		if tok.IsTag {
			d := tagDuration(tags, tok.Text)
			segments = append(segments, Segment{
				Kind:          KindTag,
				Content:       tok.Text,
				Start:         cursor,
				End:           cursor + d,
				WordIndex:     NoWord,
				SentenceIndex: sentenceIndex,
			})
			cursor += d
			continue
		}
		for _, w := range strings.Fields(tok.Text) {
			d := baseTimePerWord * wordWeight(w) * norm
			segments = append(segments, Segment{
				Kind:          KindWord,
				Content:       w,
				Start:         cursor,
				End:           cursor + d,
				WordIndex:     wordIndex,
				SentenceIndex: sentenceIndex,
			})
			cursor += d
			wordIndex++
			if punctuationFactor(w) == sentenceEndFactor {
				sentenceIndex++
			}
		}
	}

	if cursor > audioDuration {
		fit := 0.0
		if cursor > 0 {
			fit = audioDuration / cursor
		}
		for i := range segments {
			segments[i].Start *= fit
			segments[i].End *= fit
		}
	}

	return &Map{
		Segments:      segments,
		TotalDuration: audioDuration,
		WordCount:     wordCount,
		SentenceCount: sentenceIndex + 1,
	}
}

// tagDuration looks up tag and clamps negative table entries to zero.
func tagDuration(tags TagTable, tag string) float64 {
	return math.Max(tags.Duration(tag), 0)
}

// wordWeight is the relative speaking time of w before normalisation.
func wordWeight(w string) float64 {
	length := float64(utf8.RuneCountInString(w))
	return (0.85 + 0.3*math.Min(length/5, 1.5)) * punctuationFactor(w)
}

// punctuationFactor inspects the last character of w, ignoring closing
// quotes and brackets, e.g. `done."` counts as sentence-ending.
func punctuationFactor(w string) float64 {
	w = strings.TrimRight(w, "\"'”’)»")
	r, _ := utf8.DecodeLastRuneInString(w)
	switch r {
	case '.', '!', '?', '…':
		return sentenceEndFactor
	case ',', ';', ':':
		return clauseFactor
	default:
		return 1.0
	}
}
