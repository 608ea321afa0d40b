package timing

import (
	"math"
	"sync/atomic"
	"time"
)

// DefaultLeadTime is how far ahead of the audio clock word highlighting runs.
// It is an empirically tuned value that compensates for the perceived lag
// between the rendered speech and the text.
const DefaultLeadTime = 1500 * time.Millisecond

// Resolver maps playback positions to word indices. The zero value resolves
// without any lead time; use [NewResolver] for the default.
//
// Resolve is pure with respect to its arguments and the current lead time,
// and is safe for concurrent use with [Resolver.SetLeadTime].
type Resolver struct {
	leadBits atomic.Uint64 // math.Float64bits of the lead time in seconds
}

// NewResolver returns a Resolver that leads the audio by lead.
func NewResolver(lead time.Duration) *Resolver {
	r := &Resolver{}
	r.SetLeadTime(lead)
	return r
}

// SetLeadTime changes the lead time used by subsequent calls to Resolve.
func (r *Resolver) SetLeadTime(lead time.Duration) {
	r.leadBits.Store(math.Float64bits(lead.Seconds()))
}

// LeadTime returns the current lead time.
func (r *Resolver) LeadTime() time.Duration {
	return time.Duration(math.Float64frombits(r.leadBits.Load()) * float64(time.Second))
}

// Resolve returns the index of the word being spoken at currentTime, after
// shifting currentTime forward by the lead time.
//
// The active word is the last word whose start is not after the adjusted time,
// so the highlight holds on the previous word across tag pauses and saturates
// on the final word once the speech is over. Before the first word starts the
// result is [NoWord].
//
// The scan is linear; maps hold at most a few hundred segments and this runs
// once per frame. Segments are sorted by Start, so a binary search is a drop-in
// replacement if scripts grow.
func (r *Resolver) Resolve(m *Map, currentTime float64) int {
	if m == nil || m.WordCount == 0 {
		return NoWord
	}
	adjusted := currentTime + math.Float64frombits(r.leadBits.Load())

	idx := NoWord
	for _, s := range m.Segments {
		if s.Kind != KindWord {
			continue
		}
		if s.Start > adjusted {
			break
		}
		idx = s.WordIndex
		if adjusted < s.End {
			break
		}
	}
	return idx
}
