// Package background plays an optional looped ambience track underneath the
// voice.
//
// The [Mixer] owns its own clock view, source and gain stage and shares
// nothing with voice playback, so starting, stopping or adjusting the
// background never interrupts the voice. Background failures are logged and
// counted; callers may report them but must not fail the voice path because
// of them.
package background

import (
	"cmp"
	"slices"
)

// NoneID is the sentinel track id meaning "no background". Every mixer
// operation short-circuits on it.
const NoneID = "none"

// None is the "no background" entry listed first in every [Catalog].
var None = Track{ID: NoneID, Category: NoneID}

// Track describes a background track. Tracks always loop.
type Track struct {
	ID        string `json:"id" yaml:"id"`
	Category  string `json:"category" yaml:"category"`
	SourceURL string `json:"source_url,omitempty" yaml:"source_url"`
}

// IsNone reports whether t plays nothing: the sentinel, an empty id, or a
// track without a source.
func (t Track) IsNone() bool {
	return t.ID == "" || t.ID == NoneID || t.SourceURL == ""
}

// Catalog is an immutable list of selectable tracks.
type Catalog struct {
	tracks []Track
	byID   map[string]Track
}

// NewCatalog builds a catalog from tracks. [None] is always the first entry;
// entries named "none", entries without an id and later duplicates are
// dropped.
func NewCatalog(tracks []Track) *Catalog {
	c := &Catalog{
		tracks: []Track{None},
		byID:   map[string]Track{NoneID: None},
	}
	for _, t := range tracks {
		if t.ID == "" || t.ID == NoneID {
			continue
		}
		if _, dup := c.byID[t.ID]; dup {
			continue
		}
		c.tracks = append(c.tracks, t)
		c.byID[t.ID] = t
	}
	return c
}

// Tracks returns all tracks, [None] first.
func (c *Catalog) Tracks() []Track {
	return slices.Clone(c.tracks)
}

// Lookup returns the track with the given id. Looking up [NoneID] always
// succeeds.
func (c *Catalog) Lookup(id string) (Track, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Categories returns the distinct categories of the real tracks, sorted.
func (c *Catalog) Categories() []string {
	var out []string
	for _, t := range c.tracks {
		if t.IsNone() || t.Category == "" {
			continue
		}
		out = append(out, t.Category)
	}
	slices.SortFunc(out, cmp.Compare[string])
	return slices.Compact(out)
}
