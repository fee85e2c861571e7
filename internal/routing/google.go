package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"go.uber.org/zap"
)

const (
	// routesAPIURL is the Google Routes API v2 endpoint.
	routesAPIURL = "https://routes.googleapis.com/directions/v2:computeRoutes"

	// googleTimeout is the maximum duration for a Google API call.
	googleTimeout = 5 * time.Second
)

// googleTravelModes maps costing models onto Routes API travel modes.
var googleTravelModes = map[CostingModel]string{
	CostingAuto:        "DRIVE",
	CostingAutoShorter: "DRIVE",
	CostingBicycle:     "BICYCLE",
	CostingBus:         "TRANSIT",
	CostingMultimodal:  "TRANSIT",
	CostingPedestrian:  "WALK",
}

// GoogleEngine implements Engine using the Google Routes API v2.
type GoogleEngine struct {
	apiKey     string
	httpClient *http.Client
	// apiURL is the Google Routes API endpoint. Overrideable in tests.
	apiURL   string
	fallback Engine
	logger   *zap.Logger
}

// GoogleOption configures a GoogleEngine.
type GoogleOption func(*GoogleEngine)

// WithFallback makes Route answer with fallback's result whenever the API
// call fails, instead of returning the error.
func WithFallback(fallback Engine) GoogleOption {
	return func(g *GoogleEngine) { g.fallback = fallback }
}

// WithGoogleHTTPClient replaces the default HTTP client.
func WithGoogleHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleEngine) { g.httpClient = c }
}

// WithGoogleLogger sets the logger used to report API failures.
func WithGoogleLogger(l *zap.Logger) GoogleOption {
	return func(g *GoogleEngine) { g.logger = l }
}

// NewGoogleEngine creates an Engine backed by the Google Routes API v2.
// apiKey must be a valid Google Cloud API key with the Routes API enabled.
func NewGoogleEngine(apiKey string, opts ...GoogleOption) *GoogleEngine {
	transport := &http.Transport{
		MaxIdleConns:        httpMaxIdleConns,
		MaxIdleConnsPerHost: httpMaxIdleConns,
		IdleConnTimeout:     httpIdleConnTimeout,
	}
	g := &GoogleEngine{
		apiKey: apiKey,
		apiURL: routesAPIURL,
		httpClient: &http.Client{
			Timeout:   googleTimeout,
			Transport: transport,
		},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Route calls the Routes API and returns the primary route. When a fallback
// is configured, API failures are logged and answered by the fallback.
// A cancelled or expired ctx is returned as an error, never answered by the
// fallback.
func (g *GoogleEngine) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp, err := g.callAPI(ctx, req)
	if err != nil {
		if g.fallback == nil {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("google routes: %w", ctxErr)
		}
		g.logger.Warn("google routes API failed, using fallback", zap.Error(err))
		return g.fallback.Route(ctx, req)
	}
	return resp, nil
}

func (g *GoogleEngine) callAPI(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	travelMode := googleTravelModes[req.Costing]
	units := req.Units()

	body := routesAPIRequest{
		Origin:      waypoint(req.Origin()),
		Destination: waypoint(req.Destination()),
		TravelMode:  travelMode,
		Units:       "METRIC",
	}
	if units == UnitsMiles {
		body.Units = "IMPERIAL"
	}
	if req.Locale != "" {
		body.LanguageCode = req.Locale.String()
	}
	for _, p := range req.Locations[1 : len(req.Locations)-1] {
		wp := waypoint(p.GeoPoint)
		wp.Via = p.Type == geo.Through
		body.Intermediates = append(body.Intermediates, wp)
	}
	if travelMode == "DRIVE" {
		body.RoutingPreference = "TRAFFIC_AWARE"
		if req.Costing == CostingAutoShorter {
			body.RoutingPreference = "TRAFFIC_UNAWARE"
		}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("routing: google: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, googleTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("routing: google: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", g.apiKey)
	// Request only the fields we need to minimize response size and latency.
	httpReq.Header.Set("X-Goog-FieldMask",
		"routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline,"+
			"routes.legs.distanceMeters,routes.legs.duration,routes.legs.polyline.encodedPolyline,"+
			"routes.legs.steps.navigationInstruction,routes.legs.steps.distanceMeters,routes.legs.steps.staticDuration")

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("routing: google: http: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("routing: google: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing: google: status %d: %s", httpResp.StatusCode, string(respBytes))
	}

	var apiResp routesAPIResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("routing: google: unmarshal response: %w", err)
	}

	if len(apiResp.Routes) == 0 {
		return nil, fmt.Errorf("routing: google: %w", ErrNoRoute)
	}

	return apiResp.Routes[0].toResult(req)
}

func (r routesAPIRoute) toResult(req RouteRequest) (*RouteResult, error) {
	units := req.Units()
	durationS, err := parseDurationSeconds(r.Duration)
	if err != nil {
		return nil, fmt.Errorf("routing: google: parse duration %q: %w", r.Duration, err)
	}

	res := &RouteResult{
		Engine:   "google",
		Costing:  req.Costing,
		Language: req.Locale,
		Units:    units,
		Length:   convertMeters(float64(r.DistanceMeters), units),
		TimeS:    durationS,
	}

	// Older field masks return no legs; treat the whole route as one leg.
	legs := r.Legs
	if len(legs) == 0 {
		legs = []routesAPILeg{{DistanceMeters: r.DistanceMeters, Duration: r.Duration, Polyline: r.Polyline}}
	}

	for i, l := range legs {
		points, err := decodeShape(polyline5, l.Polyline.EncodedPolyline)
		if err != nil {
			return nil, fmt.Errorf("routing: google: leg %d: %w", i, err)
		}
		legTime, err := parseDurationSeconds(l.Duration)
		if err != nil {
			legTime = 0
		}
		leg := Leg{
			Shape:  l.Polyline.EncodedPolyline,
			Points: points,
			Length: convertMeters(float64(l.DistanceMeters), units),
			TimeS:  legTime,
		}
		for _, s := range l.Steps {
			stepTime, err := parseDurationSeconds(s.StaticDuration)
			if err != nil {
				stepTime = 0
			}
			leg.Maneuvers = append(leg.Maneuvers, Maneuver{
				Instruction: s.NavigationInstruction.Instructions,
				Length:      convertMeters(float64(s.DistanceMeters), units),
				TimeS:       stepTime,
			})
		}
		res.Legs = append(res.Legs, leg)
	}
	return res, nil
}

// parseDurationSeconds parses a Google duration string like "123s" into an integer.
func parseDurationSeconds(s string) (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration string")
	}
	if s[len(s)-1] != 's' {
		return 0, fmt.Errorf("expected duration ending in 's', got %q", s)
	}
	numStr := s[:len(s)-1]
	if len(numStr) == 0 {
		return 0, fmt.Errorf("no number before 's' in %q", s)
	}
	for _, ch := range numStr {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("non-integer duration %q", s)
		}
	}
	var seconds int
	if _, err := fmt.Sscanf(numStr, "%d", &seconds); err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return seconds, nil
}

func waypoint(p geo.GeoPoint) routesAPIWaypoint {
	return routesAPIWaypoint{
		Location: routesAPILocation{
			LatLng: routesAPILatLng{Latitude: p.Lat, Longitude: p.Lon},
		},
	}
}

// --- JSON types for the Google Routes API v2 ---

type routesAPIRequest struct {
	Origin            routesAPIWaypoint   `json:"origin"`
	Destination       routesAPIWaypoint   `json:"destination"`
	Intermediates     []routesAPIWaypoint `json:"intermediates,omitempty"`
	TravelMode        string              `json:"travelMode"`
	RoutingPreference string              `json:"routingPreference,omitempty"`
	LanguageCode      string              `json:"languageCode,omitempty"`
	Units             string              `json:"units"`
}

type routesAPIWaypoint struct {
	Location routesAPILocation `json:"location"`
	Via      bool              `json:"via,omitempty"`
}

type routesAPILocation struct {
	LatLng routesAPILatLng `json:"latLng"`
}

type routesAPILatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type routesAPIResponse struct {
	Routes []routesAPIRoute `json:"routes"`
}

type routesAPIRoute struct {
	DistanceMeters int               `json:"distanceMeters"`
	Duration       string            `json:"duration"`
	Polyline       routesAPIPolyline `json:"polyline"`
	Legs           []routesAPILeg    `json:"legs"`
}

type routesAPILeg struct {
	DistanceMeters int               `json:"distanceMeters"`
	Duration       string            `json:"duration"`
	Polyline       routesAPIPolyline `json:"polyline"`
	Steps          []routesAPIStep   `json:"steps"`
}

type routesAPIStep struct {
	DistanceMeters        int                     `json:"distanceMeters"`
	StaticDuration        string                  `json:"staticDuration"`
	NavigationInstruction routesAPINavInstruction `json:"navigationInstruction"`
}

type routesAPINavInstruction struct {
	Instructions string `json:"instructions"`
}

type routesAPIPolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}
