// Package location supplies the device position used as the route origin.
package location

import (
	"sync"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
)

// Provider reports the device's current location. ok is false when no fix
// is available.
type Provider interface {
	CurrentLocation() (p geo.GeoPoint, ok bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() (geo.GeoPoint, bool)

// CurrentLocation calls f.
func (f ProviderFunc) CurrentLocation() (geo.GeoPoint, bool) { return f() }

// Static is a Provider with a fixed answer.
type Static struct {
	point geo.GeoPoint
	ok    bool
}

// NewStatic always reports p.
func NewStatic(p geo.GeoPoint) Static { return Static{point: p, ok: true} }

// Unavailable never has a fix.
func Unavailable() Static { return Static{} }

// CurrentLocation satisfies Provider.
func (s Static) CurrentLocation() (geo.GeoPoint, bool) { return s.point, s.ok }

// Fix is a single position report.
type Fix struct {
	Point      geo.GeoPoint `json:"point"`
	AccuracyM  float64      `json:"accuracy_m,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Tracker holds the last fix pushed by the device. A fix older than the
// configured max age counts as unavailable.
type Tracker struct {
	mu     sync.RWMutex
	last   *Fix
	maxAge time.Duration
	now    func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithMaxAge expires fixes older than d. Zero keeps fixes forever.
func WithMaxAge(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.maxAge = d }
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker with no fix.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Update records p as the latest fix.
func (t *Tracker) Update(p geo.GeoPoint, accuracyM float64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &Fix{Point: p, AccuracyM: accuracyM, ReceivedAt: t.now()}
	return nil
}

// Clear drops the current fix.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.last = nil
	t.mu.Unlock()
}

// Last returns the latest fix regardless of age.
func (t *Tracker) Last() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return Fix{}, false
	}
	return *t.last, true
}

// CurrentLocation satisfies Provider.
func (t *Tracker) CurrentLocation() (geo.GeoPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return geo.GeoPoint{}, false
	}
	if t.maxAge > 0 && t.now().Sub(t.last.ReceivedAt) > t.maxAge {
		return geo.GeoPoint{}, false
	}
	return t.last.Point, true
}
