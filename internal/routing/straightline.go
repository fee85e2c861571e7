package routing

import (
	"context"
	"math"

	"github.com/FooledKiwi/taproute/internal/geo"
)

// StraightLineEngine estimates routes from great-circle distance and a
// per-costing average speed. It needs no network and always sets IsFallback.
type StraightLineEngine struct{}

// NewStraightLineEngine returns the offline estimator.
func NewStraightLineEngine() *StraightLineEngine {
	return &StraightLineEngine{}
}

// Route satisfies Engine.
func (e *StraightLineEngine) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return straightLineEstimate(req), nil
}

func straightLineEstimate(req RouteRequest) *RouteResult {
	speedMPS := averageSpeedKPH[req.Costing] / 3.6
	units := req.Units()

	res := &RouteResult{
		Engine:     "straightline",
		Costing:    req.Costing,
		Language:   req.Locale,
		Units:      units,
		IsFallback: true,
	}

	for i := 1; i < len(req.Locations); i++ {
		from, to := req.Locations[i-1].GeoPoint, req.Locations[i].GeoPoint
		distM := geo.HaversineMeters(from, to)
		timeS := int(math.Round(distM / speedMPS))
		length := convertMeters(distM, units)
		points := []geo.GeoPoint{from, to}

		res.Legs = append(res.Legs, Leg{
			Shape:  encodeShape(polyline5, points),
			Points: points,
			Length: length,
			TimeS:  timeS,
			Maneuvers: []Maneuver{
				{Type: 1, Instruction: "Head toward your destination.", Length: length, TimeS: timeS},
				{Type: 4, Instruction: "You have arrived at your destination."},
			},
		})
		res.Length += length
		res.TimeS += timeS
	}
	return res
}
