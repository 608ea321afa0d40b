package playback

// completion is the end-of-playback signal for one playback. Both the
// progress loop and the source's natural end can reach it; whichever comes
// first resolves it and the other finds it settled. Stop settles it without
// resolving.
//
// Guarded by Controller.mu.
type completion struct {
	settled bool
}

// resolve settles c and reports whether the caller should fire the
// completion event. Only the first call on an unsettled completion does.
func (c *completion) resolve() bool {
	if c == nil || c.settled {
		return false
	}
	c.settled = true
	return true
}

// cancel settles c without firing.
func (c *completion) cancel() {
	if c != nil {
		c.settled = true
	}
}
