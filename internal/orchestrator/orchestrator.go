// Package orchestrator turns map taps and travel preferences into routing
// requests and keeps the most recent result.
package orchestrator

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/location"
	"github.com/FooledKiwi/taproute/internal/projection"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/FooledKiwi/taproute/internal/sink"
	"go.uber.org/zap"
)

// Orchestrator owns the costing and locale selections of one map screen,
// the last tapped destination and the last completed route.
//
// Every tap or preference change with a known destination dispatches a new
// request on its own goroutine. In-flight requests are never cancelled when
// superseded: by default whichever request completes last sets the current
// result. WithSequencedResults discards completions of superseded requests
// instead.
type Orchestrator struct {
	engine    routing.Engine
	locations location.Provider
	sink      sink.RouteResultSink
	logger    *zap.Logger

	sequenced      bool
	displayTimeout time.Duration
	afterComplete  func(seq uint64)

	mu                sync.Mutex
	projector         projection.TapProjector
	costing           routing.CostingModel
	locale            locale.Locale
	directionsOptions map[string]any
	lastDestination   *geo.GeoPoint
	current           *routing.RouteResult
	currentSeq        uint64
	seq               uint64
	completed         uint64
	failed            uint64
	discarded         uint64
	stored            uint64 // display ticket of the latest stored result
	closed            bool

	// Sink calls run in store order without holding mu: each stored result
	// waits on displayTurn until displayed reaches its ticket.
	displayMu   sync.Mutex
	displayTurn *sync.Cond
	displayed   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for dropped requests and failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithProjector sets the projector used by HandleTap.
func WithProjector(p projection.TapProjector) Option {
	return func(o *Orchestrator) { o.projector = p }
}

// WithCostingModel sets the initial costing model.
func WithCostingModel(c routing.CostingModel) Option {
	return func(o *Orchestrator) { o.costing = c }
}

// WithLocale sets the initial locale.
func WithLocale(l locale.Locale) Option {
	return func(o *Orchestrator) { o.locale = l }
}

// WithDirectionsOptions replaces the directions options sent with every
// request. The map is copied.
func WithDirectionsOptions(opts map[string]any) Option {
	return func(o *Orchestrator) { o.directionsOptions = maps.Clone(opts) }
}

// WithSequencedResults keeps only the result of the most recently
// dispatched request. Completions of superseded requests are discarded.
func WithSequencedResults() Option {
	return func(o *Orchestrator) { o.sequenced = true }
}

// DefaultDisplayTimeout bounds each sink call.
const DefaultDisplayTimeout = 5 * time.Second

// WithDisplayTimeout bounds each sink call by d instead of
// DefaultDisplayTimeout.
func WithDisplayTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.displayTimeout = d }
}

// withAfterComplete sets a hook run at the end of every completion; used in
// tests for synchronization.
func withAfterComplete(fn func(seq uint64)) Option {
	return func(o *Orchestrator) { o.afterComplete = fn }
}

// New creates an orchestrator. Costing defaults to auto, locale to the
// system locale and directions options to {units: miles}.
func New(engine routing.Engine, locations location.Provider, s sink.RouteResultSink, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		engine:            engine,
		locations:         locations,
		sink:              s,
		logger:            zap.NewNop(),
		costing:           routing.DefaultCosting,
		locale:            locale.System(),
		directionsOptions: map[string]any{routing.OptionUnits: routing.UnitsMiles},
		displayTimeout:    DefaultDisplayTimeout,
		ctx:               ctx,
		cancel:            cancel,
	}
	o.displayTurn = sync.NewCond(&o.displayMu)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatch reports what a tap or preference change did.
type Dispatch struct {
	Destination geo.GeoPoint `json:"destination"`
	Seq         uint64       `json:"seq,omitempty"`
	Dispatched  bool         `json:"dispatched"`
}

// SetCostingModel replaces the costing model and re-routes to the last
// destination, if any.
func (o *Orchestrator) SetCostingModel(c routing.CostingModel) Dispatch {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.costing = c
	if o.lastDestination == nil {
		return Dispatch{}
	}
	return o.requestRouteLocked(*o.lastDestination)
}

// SetLocale replaces the locale and re-routes to the last destination, if
// any. The re-route request carries the new locale.
func (o *Orchestrator) SetLocale(l locale.Locale) Dispatch {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.locale = l
	if o.lastDestination == nil {
		return Dispatch{}
	}
	return o.requestRouteLocked(*o.lastDestination)
}

// SetProjector replaces the projector used by HandleTap.
func (o *Orchestrator) SetProjector(p projection.TapProjector) {
	o.mu.Lock()
	o.projector = p
	o.mu.Unlock()
}

// HandleTap projects a screen position and routes to it.
func (o *Orchestrator) HandleTap(p projection.ScreenPoint) (Dispatch, error) {
	o.mu.Lock()
	proj := o.projector
	o.mu.Unlock()

	if proj == nil {
		return Dispatch{}, ErrNoProjector
	}
	return o.HandleGeoTap(proj.ScreenToGeo(p))
}

// HandleGeoTap routes to a tap already expressed as a geographic point.
func (o *Orchestrator) HandleGeoTap(dest geo.GeoPoint) (Dispatch, error) {
	if err := dest.Validate(); err != nil {
		return Dispatch{}, err
	}
	return o.RequestRoute(dest), nil
}

// RequestRoute dispatches a route request from the current location to
// dest. Nothing is dispatched when the location is unknown or the
// orchestrator is closed.
func (o *Orchestrator) RequestRoute(dest geo.GeoPoint) Dispatch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requestRouteLocked(dest)
}

func (o *Orchestrator) requestRouteLocked(dest geo.GeoPoint) Dispatch {
	if o.closed {
		return Dispatch{Destination: dest}
	}

	origin, ok := o.locations.CurrentLocation()
	if !ok {
		o.logger.Debug("route request dropped",
			zap.Stringer("destination", dest),
			zap.Error(ErrLocationUnavailable),
		)
		return Dispatch{Destination: dest}
	}

	d := dest
	o.lastDestination = &d

	req := routing.NewRouteRequest(
		[]geo.RoutingPoint{geo.BreakPoint(origin), geo.BreakPoint(dest)},
		o.costing,
		nil,
		o.directionsOptions,
		o.locale,
	)

	o.seq++
	seq := o.seq
	o.wg.Add(1)
	go o.run(seq, req)

	o.logger.Debug("route request dispatched",
		zap.Uint64("seq", seq),
		zap.Stringer("origin", origin),
		zap.Stringer("destination", dest),
		zap.String("costing", req.Costing.String()),
		zap.String("locale", req.Locale.String()),
	)
	return Dispatch{Destination: dest, Seq: seq, Dispatched: true}
}

func (o *Orchestrator) run(seq uint64, req routing.RouteRequest) {
	defer o.wg.Done()
	if o.afterComplete != nil {
		defer o.afterComplete(seq)
	}

	res, err := o.engine.Route(o.ctx, req)

	o.mu.Lock()
	o.completed++
	if err != nil {
		o.failed++
		o.mu.Unlock()

		o.logger.Warn("route request failed", zap.Error(&RoutingEngineError{
			Seq:         seq,
			Destination: req.Destination(),
			Costing:     req.Costing,
			Locale:      req.Locale,
			Err:         err,
		}))
		return
	}
	if o.sequenced && seq != o.seq {
		o.discarded++
		latest := o.seq
		o.mu.Unlock()

		o.logger.Debug("stale route result discarded",
			zap.Uint64("seq", seq),
			zap.Uint64("latest", latest),
		)
		return
	}

	o.current = res
	o.currentSeq = seq
	o.stored++
	ticket := o.stored
	o.mu.Unlock()

	o.display(seq, ticket, res)
}

// display hands res to the sink once every earlier stored result has been
// displayed.
func (o *Orchestrator) display(seq, ticket uint64, res *routing.RouteResult) {
	o.displayMu.Lock()
	for o.displayed+1 != ticket {
		o.displayTurn.Wait()
	}
	o.displayMu.Unlock()
	defer func() {
		o.displayMu.Lock()
		o.displayed = ticket
		o.displayTurn.Broadcast()
		o.displayMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(o.ctx, o.displayTimeout)
	defer cancel()

	if err := o.sink.Display(ctx, res); err != nil {
		var de *sink.DisplayError
		if !errors.As(err, &de) {
			de = &sink.DisplayError{Reason: "sink failed", Err: err}
		}
		o.logger.Warn("route result not displayed", zap.Uint64("seq", seq), zap.Error(de))
	}
}

// CurrentRouteResult returns the most recently stored result, or nil.
// The result must be treated as read-only.
func (o *Orchestrator) CurrentRouteResult() *routing.RouteResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Snapshot is a point-in-time view of the orchestrator state.
type Snapshot struct {
	Costing         routing.CostingModel `json:"costing"`
	Locale          locale.Locale        `json:"locale"`
	LastDestination *geo.GeoPoint        `json:"last_destination"`
	Current         *routing.RouteResult `json:"-"`
	CurrentSeq      uint64               `json:"current_seq"`
	Dispatched      uint64               `json:"dispatched"`
	Completed       uint64               `json:"completed"`
	Failed          uint64               `json:"failed"`
	Discarded       uint64               `json:"discarded"`
	Sequenced       bool                 `json:"sequenced"`
}

// InFlight is the number of dispatched requests that have not completed.
func (s Snapshot) InFlight() uint64 { return s.Dispatched - s.Completed }

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Costing:    o.costing,
		Locale:     o.locale,
		Current:    o.current,
		CurrentSeq: o.currentSeq,
		Dispatched: o.seq,
		Completed:  o.completed,
		Failed:     o.failed,
		Discarded:  o.discarded,
		Sequenced:  o.sequenced,
	}
	if o.lastDestination != nil {
		d := *o.lastDestination
		s.LastDestination = &d
	}
	return s
}

// Wait blocks until every dispatched request has completed.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops accepting requests, cancels the context of in-flight ones and
// waits for them to finish. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}
