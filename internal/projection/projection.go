// Package projection converts map-view taps into geographic coordinates.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// DefaultTileSize is the pixel width of a standard web map tile.
const DefaultTileSize = 256

// MaxZoom is the highest zoom level accepted by Viewport.Validate.
const MaxZoom = 22

// mercatorWorldMeters is the width of the Web-Mercator plane in metres.
const mercatorWorldMeters = 2 * math.Pi * orb.EarthRadius

// ErrInvalidViewport is returned by Viewport.Validate.
var ErrInvalidViewport = errors.New("invalid viewport")

// ScreenPoint is a pixel position in the map view, origin top-left.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TapProjector maps a screen position to a geographic point.
type TapProjector interface {
	ScreenToGeo(p ScreenPoint) geo.GeoPoint
}

// Viewport describes what the map view currently shows. It implements
// TapProjector using the Web-Mercator projection of slippy-map tiles.
type Viewport struct {
	Center   geo.GeoPoint `json:"center"`
	Zoom     float64      `json:"zoom"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	TileSize int          `json:"tile_size,omitempty"`
}

// Validate checks the viewport can be projected.
func (v Viewport) Validate() error {
	var errs []error
	if err := v.Center.Validate(); err != nil {
		errs = append(errs, err)
	}
	if v.Zoom < 0 || v.Zoom > MaxZoom || math.IsNaN(v.Zoom) {
		errs = append(errs, fmt.Errorf("zoom %v outside [0,%d]", v.Zoom, MaxZoom))
	}
	if v.Width <= 0 || v.Height <= 0 {
		errs = append(errs, fmt.Errorf("size %dx%d must be positive", v.Width, v.Height))
	}
	if v.TileSize < 0 {
		errs = append(errs, fmt.Errorf("tile size %d must not be negative", v.TileSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidViewport, errors.Join(errs...))
	}
	return nil
}

// MetersPerPixel returns the Web-Mercator resolution at the viewport zoom.
func (v Viewport) MetersPerPixel() float64 {
	tile := v.TileSize
	if tile == 0 {
		tile = DefaultTileSize
	}
	return mercatorWorldMeters / (float64(tile) * math.Exp2(v.Zoom))
}

// ScreenToGeo satisfies TapProjector.
func (v Viewport) ScreenToGeo(p ScreenPoint) geo.GeoPoint {
	res := v.MetersPerPixel()
	c := project.WGS84.ToMercator(orb.Point{v.Center.Lon, v.Center.Lat})

	m := orb.Point{
		c[0] + (p.X-float64(v.Width)/2)*res,
		c[1] - (p.Y-float64(v.Height)/2)*res,
	}
	w := project.Mercator.ToWGS84(m)
	return geo.Point(w.Lat(), wrapLon(w.Lon()))
}

// GeoToScreen is the inverse of ScreenToGeo.
func (v Viewport) GeoToScreen(g geo.GeoPoint) ScreenPoint {
	res := v.MetersPerPixel()
	c := project.WGS84.ToMercator(orb.Point{v.Center.Lon, v.Center.Lat})
	m := project.WGS84.ToMercator(orb.Point{g.Lon, g.Lat})

	return ScreenPoint{
		X: (m[0]-c[0])/res + float64(v.Width)/2,
		Y: (c[1]-m[1])/res + float64(v.Height)/2,
	}
}

func wrapLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
