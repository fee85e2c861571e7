package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/FooledKiwi/taproute/internal/geo"
)

func boulder() Viewport {
	return Viewport{Center: geo.Point(40.0, -105.0), Zoom: 12, Width: 800, Height: 600}
}

func TestScreenToGeo_CenterMapsToCenter(t *testing.T) {
	v := boulder()
	got := v.ScreenToGeo(ScreenPoint{X: 400, Y: 300})
	if math.Abs(got.Lat-40.0) > 1e-9 || math.Abs(got.Lon+105.0) > 1e-9 {
		t.Errorf("center tap = %v, want (40, -105)", got)
	}
}

func TestScreenToGeo_Directions(t *testing.T) {
	v := boulder()
	right := v.ScreenToGeo(ScreenPoint{X: 800, Y: 300})
	down := v.ScreenToGeo(ScreenPoint{X: 400, Y: 600})

	if right.Lon <= -105.0 || math.Abs(right.Lat-40.0) > 1e-9 {
		t.Errorf("right edge = %v, want east of center on the same latitude", right)
	}
	if down.Lat >= 40.0 || math.Abs(down.Lon+105.0) > 1e-9 {
		t.Errorf("bottom edge = %v, want south of center on the same longitude", down)
	}
}

func TestScreenToGeo_ZoomZeroSpansWorld(t *testing.T) {
	v := Viewport{Center: geo.Point(0, 0), Zoom: 0, Width: 256, Height: 256}
	east := v.ScreenToGeo(ScreenPoint{X: 192, Y: 128})
	if math.Abs(east.Lon-90) > 1e-6 {
		t.Errorf("three quarters across zoom 0 = %v, want lon 90", east)
	}
}

func TestGeoToScreen_Inverse(t *testing.T) {
	v := boulder()
	for _, sp := range []ScreenPoint{{0, 0}, {123.5, 456.25}, {800, 600}} {
		back := v.GeoToScreen(v.ScreenToGeo(sp))
		if math.Abs(back.X-sp.X) > 1e-6 || math.Abs(back.Y-sp.Y) > 1e-6 {
			t.Errorf("%v -> geo -> %v", sp, back)
		}
	}
}

func TestMetersPerPixel(t *testing.T) {
	v := Viewport{Zoom: 0, TileSize: 256}
	if math.Abs(v.MetersPerPixel()-156543.03392) > 1e-3 {
		t.Errorf("zoom 0 resolution = %v", v.MetersPerPixel())
	}
	v.TileSize = 0
	if math.Abs(v.MetersPerPixel()-156543.03392) > 1e-3 {
		t.Errorf("default tile size not applied: %v", v.MetersPerPixel())
	}
	v.TileSize = 512
	if math.Abs(v.MetersPerPixel()-78271.51696) > 1e-3 {
		t.Errorf("512px tiles = %v", v.MetersPerPixel())
	}
}

func TestViewport_Validate(t *testing.T) {
	if err := boulder().Validate(); err != nil {
		t.Fatalf("valid viewport rejected: %v", err)
	}

	cases := map[string]Viewport{
		"zoom":   {Center: geo.Point(0, 0), Zoom: 30, Width: 1, Height: 1},
		"size":   {Center: geo.Point(0, 0), Zoom: 1, Width: 0, Height: 1},
		"center": {Center: geo.Point(95, 0), Zoom: 1, Width: 1, Height: 1},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			if err := v.Validate(); !errors.Is(err, ErrInvalidViewport) {
				t.Errorf("err = %v, want ErrInvalidViewport", err)
			}
		})
	}
}

func TestWrapLon(t *testing.T) {
	cases := map[float64]float64{10: 10, 190: -170, -190: 170, 540: 180 - 360}
	for in, want := range cases {
		if got := wrapLon(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("wrapLon(%v) = %v, want %v", in, got, want)
		}
	}
}
