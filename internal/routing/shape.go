package routing

import (
	"fmt"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/twpayne/go-polyline"
)

// Valhalla encodes shapes at 1e-6 precision, Google at 1e-5.
var (
	polyline6 = polyline.Codec{Dim: 2, Scale: 1e6}
	polyline5 = polyline.Codec{Dim: 2, Scale: 1e5}
)

func decodeShape(codec polyline.Codec, shape string) ([]geo.GeoPoint, error) {
	if shape == "" {
		return nil, nil
	}
	coords, rest, err := codec.DecodeCoords([]byte(shape))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	points := make([]geo.GeoPoint, 0, len(coords))
	for _, c := range coords {
		points = append(points, geo.Point(c[0], c[1]))
	}
	return points, nil
}

func encodeShape(codec polyline.Codec, points []geo.GeoPoint) string {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	return string(codec.EncodeCoords(nil, coords))
}

// convertMeters expresses meters in the given units.
func convertMeters(m float64, units string) float64 {
	if units == UnitsMiles {
		return geo.MetersToMiles(m)
	}
	return m / 1000
}
