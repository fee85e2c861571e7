// Package routing defines the route request/result model, the Engine
// contract and the concrete engine clients.
package routing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/locale"
)

// Distance units understood in the "units" directions option.
const (
	UnitsMiles      = "miles"
	UnitsKilometers = "kilometers"
)

// OptionUnits is the directions options key selecting distance units.
const OptionUnits = "units"

// ErrNoRoute is returned by engines when the upstream found no route.
var ErrNoRoute = errors.New("routing: no route found")

// RouteRequest is the input to an Engine. Build it with NewRouteRequest so
// the slices and maps are owned by the request.
type RouteRequest struct {
	Locations         []geo.RoutingPoint
	Costing           CostingModel
	CostingOptions    map[string]any
	DirectionsOptions map[string]any
	Locale            locale.Locale
}

// NewRouteRequest copies its arguments into a fresh RouteRequest.
func NewRouteRequest(
	locations []geo.RoutingPoint,
	costing CostingModel,
	costingOptions map[string]any,
	directionsOptions map[string]any,
	loc locale.Locale,
) RouteRequest {
	return RouteRequest{
		Locations:         slices.Clone(locations),
		Costing:           costing,
		CostingOptions:    maps.Clone(costingOptions),
		DirectionsOptions: maps.Clone(directionsOptions),
		Locale:            loc,
	}
}

// Validate checks the request has at least two valid waypoints and a known
// costing model.
func (r RouteRequest) Validate() error {
	if len(r.Locations) < 2 {
		return fmt.Errorf("routing: request needs at least 2 locations, got %d", len(r.Locations))
	}
	if !r.Costing.IsValid() {
		return fmt.Errorf("routing: unknown costing model %q", r.Costing)
	}
	for i, p := range r.Locations {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("routing: location %d: %w", i, err)
		}
	}
	return nil
}

// Origin returns the first waypoint. The request must be valid.
func (r RouteRequest) Origin() geo.GeoPoint { return r.Locations[0].GeoPoint }

// Destination returns the last waypoint. The request must be valid.
func (r RouteRequest) Destination() geo.GeoPoint { return r.Locations[len(r.Locations)-1].GeoPoint }

// Units returns the requested distance units, kilometers when unset.
func (r RouteRequest) Units() string {
	if u, ok := r.DirectionsOptions[OptionUnits].(string); ok && u != "" {
		return u
	}
	return UnitsKilometers
}

// Maneuver is a single narrated instruction.
type Maneuver struct {
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Length      float64 `json:"length" validate:"gte=0"`
	TimeS       int     `json:"time_s" validate:"gte=0"`
}

// Leg is the part of a route between two break points.
type Leg struct {
	// Shape is the encoded polyline as returned by the engine.
	Shape     string         `json:"shape"`
	Points    []geo.GeoPoint `json:"points"`
	Length    float64        `json:"length" validate:"gte=0"`
	TimeS     int            `json:"time_s" validate:"gte=0"`
	Maneuvers []Maneuver     `json:"maneuvers" validate:"dive"`
}

// RouteResult is the outcome of a successful route computation. Results are
// shared between goroutines and must not be modified once returned.
type RouteResult struct {
	Engine   string        `json:"engine"`
	Costing  CostingModel  `json:"costing"`
	Language locale.Locale `json:"language"`
	Units    string        `json:"units" validate:"oneof=miles kilometers"`
	// Length is expressed in Units.
	Length float64 `json:"length" validate:"gte=0"`
	TimeS  int     `json:"time_s" validate:"gte=0"`
	Legs   []Leg   `json:"legs" validate:"required,min=1,dive"`

	// IsFallback is true when the result is a straight-line estimate rather
	// than a road-network route.
	IsFallback bool `json:"is_fallback"`
}

// Shape returns the decoded points of all legs in travel order.
func (r *RouteResult) Shape() []geo.GeoPoint {
	var out []geo.GeoPoint
	for _, leg := range r.Legs {
		out = append(out, leg.Points...)
	}
	return out
}

// Engine computes a route between waypoints under a costing model.
type Engine interface {
	Route(ctx context.Context, req RouteRequest) (*RouteResult, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req RouteRequest) (*RouteResult, error)

// Route calls f.
func (f EngineFunc) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	return f(ctx, req)
}
