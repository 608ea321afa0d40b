package timing

import (
	"maps"
	"strings"
)

// TagTable maps bracket markers (including the brackets, e.g. "[pause]") to
// the extra time in seconds they contribute to the rendered audio.
//
// Lookups are case-insensitive. Markers that are not in the table contribute
// zero seconds but are still excluded from word counts.
type TagTable map[string]float64

// DefaultTags are the markers understood by the synthesis prompts out of the
// box. Voice-style markers like "[whispers]" change delivery, not length.
var DefaultTags = TagTable{
	"[pause]":       1.0,
	"[short pause]": 0.5,
	"[long pause]":  2.0,
	"[breath]":      0.4,
	"[breathes]":    0.4,
	"[sigh]":        0.8,
	"[sighs]":       0.8,
	"[laugh]":       1.0,
	"[laughs]":      1.0,
	"[whispers]":    0,
	"[softly]":      0,
}

// Duration returns the duration configured for tag, or 0 if it is unknown.
func (t TagTable) Duration(tag string) float64 {
	if t == nil {
		return 0
	}
	if d, ok := t[tag]; ok {
		return d
	}
	d, ok := t[normalizeTag(tag)]
	if ok {
		return d
	}
	// Fall back to a full scan for tables built with mixed-case keys.
	for k, v := range t {
		if strings.EqualFold(k, tag) {
			return v
		}
	}
	return 0
}

// Merge returns a new table holding t overlaid with other. Keys in other are
// normalised to lower case.
func (t TagTable) Merge(other TagTable) TagTable {
	out := make(TagTable, len(t)+len(other))
	maps.Copy(out, t)
	for k, v := range other {
		out[normalizeTag(k)] = v
	}
	return out
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
