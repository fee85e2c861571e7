// Package session keeps one route orchestrator per connected map client.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/location"
	"github.com/FooledKiwi/taproute/internal/orchestrator"
	"github.com/FooledKiwi/taproute/internal/projection"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/FooledKiwi/taproute/internal/sink"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown or closed session IDs.
var ErrNotFound = errors.New("session: not found")

// SinkFactory builds the result sink for a new session.
type SinkFactory func(sessionID string) sink.RouteResultSink

// Config holds the defaults applied to every new session.
type Config struct {
	Costing           routing.CostingModel
	Locale            locale.Locale
	DirectionsOptions map[string]any
	SequencedResults  bool
	// IdleTTL closes sessions not accessed for this long. Zero disables expiry.
	IdleTTL time.Duration
	// LocationMaxAge expires device fixes older than this. Zero keeps them.
	LocationMaxAge time.Duration
}

// Session is one client's map screen.
type Session struct {
	ID           string                     `json:"id"`
	CreatedAt    time.Time                  `json:"created_at"`
	Orchestrator *orchestrator.Orchestrator `json:"-"`
	Tracker      *location.Tracker          `json:"-"`

	mu       sync.Mutex
	viewport *projection.Viewport
	lastSeen time.Time
}

// SetViewport makes v the projector for screen taps.
func (s *Session) SetViewport(v projection.Viewport) {
	s.mu.Lock()
	s.viewport = &v
	s.mu.Unlock()
	s.Orchestrator.SetProjector(v)
}

// Viewport returns the current viewport, if one was set.
func (s *Session) Viewport() (projection.Viewport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewport == nil {
		return projection.Viewport{}, false
	}
	return *s.viewport, true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// CreateOptions override the defaults for one session.
type CreateOptions struct {
	Costing  routing.CostingModel
	Locale   locale.Locale
	Viewport *projection.Viewport
	Location *geo.GeoPoint
}

// Manager is a registry of live sessions.
type Manager struct {
	engine routing.Engine
	sinks  SinkFactory
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a registry whose sessions route through engine and
// deliver results to the sink built by sinks.
func NewManager(engine routing.Engine, sinks SinkFactory, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:   engine,
		sinks:    sinks,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	if opts.Viewport != nil {
		if err := opts.Viewport.Validate(); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	now := m.now()
	tracker := location.NewTracker(location.WithMaxAge(m.cfg.LocationMaxAge))
	if opts.Location != nil {
		if err := tracker.Update(*opts.Location, 0); err != nil {
			return nil, err
		}
	}

	costing := routing.DefaultCosting
	for _, c := range []routing.CostingModel{opts.Costing, m.cfg.Costing} {
		if c != "" {
			costing = c
			break
		}
	}
	loc := locale.System()
	for _, l := range []locale.Locale{opts.Locale, m.cfg.Locale} {
		if l != "" {
			loc = l
			break
		}
	}

	logger := m.logger.With(zap.String("session_id", id))
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithCostingModel(costing),
		orchestrator.WithLocale(loc),
	}
	if m.cfg.DirectionsOptions != nil {
		orchOpts = append(orchOpts, orchestrator.WithDirectionsOptions(m.cfg.DirectionsOptions))
	}
	if m.cfg.SequencedResults {
		orchOpts = append(orchOpts, orchestrator.WithSequencedResults())
	}

	s := &Session{
		ID:           id,
		CreatedAt:    now,
		Orchestrator: orchestrator.New(m.engine, tracker, m.sinks(id), orchOpts...),
		Tracker:      tracker,
		lastSeen:     now,
	}
	if opts.Viewport != nil {
		s.SetViewport(*opts.Viewport)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logger.Info("session created", zap.String("costing", costing.String()), zap.String("locale", loc.String()))
	return s, nil
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Close ends the session, waiting for its in-flight requests.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Orchestrator.Close()
	m.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Orchestrator.Close()
		}()
	}
	wg.Wait()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL and
// returns how many were closed.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.cfg.IdleTTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Orchestrator.Close()
		m.logger.Info("session expired", zap.String("session_id", s.ID))
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done. It returns immediately when
// expiry is disabled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			m.Sweep(t)
		}
	}
}
