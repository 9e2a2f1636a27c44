// Package watermark tracks event-time progress for a single stream and tags
// records that arrive behind it.
package watermark

import (
	"sync"
	"time"

	"github.com/c360/citystreams/pkg/timestamp"
)

// Policy is an event-time watermark: the highest event time observed minus
// the allowed lateness. It never moves backwards.
//
// Observe is called by the owning pipeline; Current and IsLate may be called
// concurrently (metrics, health).
type Policy struct {
	// allowedLateness is how far behind the max event time a record may be
	allowedLateness time.Duration
	// current is the watermark, valid once set is true
	current time.Time
	set     bool
	mu      sync.RWMutex
}

// New creates a policy with the given allowed lateness.
func New(allowedLateness time.Duration) *Policy {
	if allowedLateness < 0 {
		allowedLateness = 0
	}
	return &Policy{allowedLateness: allowedLateness}
}

// AllowedLateness returns the configured lateness bound.
func (p *Policy) AllowedLateness() time.Duration {
	return p.allowedLateness
}

// Observe advances the watermark to eventTime minus the allowed lateness if
// that is later than the current watermark.
func (p *Policy) Observe(eventTime time.Time) {
	candidate := eventTime.Add(-p.allowedLateness)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set || candidate.After(p.current) {
		p.current = candidate
		p.set = true
	}
}

// IsLate reports whether eventTime is strictly behind the watermark.
// Nothing is late before the first observation.
func (p *Policy) IsLate(eventTime time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set && eventTime.Before(p.current)
}

// Current returns the watermark and whether one has been established.
func (p *Policy) Current() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.set
}

// Restore seeds the watermark from a checkpoint. It only ever moves the
// watermark forward; a zero time is ignored.
func (p *Policy) Restore(wm time.Time) {
	if wm.IsZero() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = timestamp.Max(p.current, wm)
	p.set = true
}
