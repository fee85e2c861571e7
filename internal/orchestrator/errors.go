package orchestrator

import (
	"errors"
	"fmt"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/routing"
)

// ErrLocationUnavailable is logged when a route is requested while the
// device position is unknown. No request is dispatched.
var ErrLocationUnavailable = errors.New("orchestrator: current location unavailable")

// ErrNoProjector is returned by HandleTap when no TapProjector is set.
var ErrNoProjector = errors.New("orchestrator: no tap projector configured")

// RoutingEngineError wraps a failure reported by the routing engine for one
// dispatched request.
type RoutingEngineError struct {
	Seq         uint64
	Destination geo.GeoPoint
	Costing     routing.CostingModel
	Locale      locale.Locale
	Err         error
}

func (e *RoutingEngineError) Error() string {
	return fmt.Sprintf("orchestrator: route request %d to %s (%s, %s): %v",
		e.Seq, e.Destination, e.Costing, e.Locale, e.Err)
}

func (e *RoutingEngineError) Unwrap() error { return e.Err }
