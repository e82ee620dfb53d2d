package tui

import "sync"

// Notices carries advisories raised outside the UI, such as a lost status
// feed, to whichever view is on screen. Producers call Post from any
// goroutine; views read Latest on their refresh tick.
type Notices struct {
	mu     sync.Mutex
	latest string
}

// Post replaces the current notice.
func (n *Notices) Post(text string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = text
}

// Latest returns the most recent notice, or "".
func (n *Notices) Latest() string {
	if n == nil {
		return ""
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest
}
