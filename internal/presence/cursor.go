package presence

import (
	"strings"
	"sync"
	"time"
)

// DefaultCursorInterval bounds how often cursor positions are published.
const DefaultCursorInterval = 50 * time.Millisecond

// Tracker throttles local pointer samples into presence deltas. Burst
// movement is coalesced to the latest sample only; nothing is queued. A
// sample inside the throttle window is held as pending and emitted by the
// next Flush, so callers should drive Flush from a ticker at the publish
// interval.
type Tracker struct {
	mu       sync.Mutex
	interval time.Duration
	publish  func(Delta)
	now      func() time.Time

	pending *Cursor
	lastPub time.Time
}

func NewTracker(interval time.Duration, publish func(Delta)) *Tracker {
	if interval <= 0 {
		interval = DefaultCursorInterval
	}
	return &Tracker{
		interval: interval,
		publish:  publish,
		now:      time.Now,
	}
}

// Normalize maps an absolute pointer position into the container's bounding
// box, clamped to [0,1] on both axes.
func Normalize(x, y, width, height float64) Cursor {
	if width <= 0 || height <= 0 {
		return Cursor{}
	}
	return Cursor{X: clamp01(x / width), Y: clamp01(y / height)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sample records a pointer position. If the throttle window has elapsed it
// publishes immediately; otherwise the sample replaces any pending one.
func (t *Tracker) Sample(c Cursor) {
	t.mu.Lock()
	now := t.now()
	if now.Sub(t.lastPub) >= t.interval {
		t.lastPub = now
		t.pending = nil
		t.mu.Unlock()
		t.publish(Delta{Cursor: &c})
		return
	}
	pending := c
	t.pending = &pending
	t.mu.Unlock()
}

// Flush publishes the pending sample, if any. It reports whether a publish
// happened.
func (t *Tracker) Flush() bool {
	t.mu.Lock()
	if t.pending == nil {
		t.mu.Unlock()
		return false
	}
	c := *t.pending
	t.pending = nil
	t.lastPub = t.now()
	t.mu.Unlock()
	t.publish(Delta{Cursor: &c})
	return true
}

// Clear publishes an explicit no-cursor state and drops any pending sample.
// Remote viewers must not keep rendering a stale last-known position, so
// leaving the container is a publish, not a silence.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.pending = nil
	t.lastPub = t.now()
	t.mu.Unlock()
	t.publish(Delta{ClearCursor: true})
}

// Section names a coarse area of a scope by path prefix.
type Section struct {
	ID         string
	PathPrefix string
}

// SectionCounts groups the roster's actors by section using prefix matching
// on PagePath, so nested routes count toward their parent section.
func SectionCounts(roster []Record, sections []Section) map[string]int {
	counts := make(map[string]int, len(sections))
	for _, sec := range sections {
		for _, rec := range roster {
			if rec.PagePath != "" && strings.HasPrefix(rec.PagePath, sec.PathPrefix) {
				counts[sec.ID]++
			}
		}
	}
	return counts
}
