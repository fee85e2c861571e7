package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FooledKiwi/taproute/internal/locale"
	"go.uber.org/zap"
)

const (
	// valhallaTimeout bounds a single /route call.
	valhallaTimeout = 10 * time.Second

	httpMaxIdleConns    = 10
	httpIdleConnTimeout = 30 * time.Second
)

// ValhallaEngine implements Engine against a Valhalla (Mapzen turn-by-turn)
// /route endpoint.
type ValhallaEngine struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// ValhallaOption configures a ValhallaEngine.
type ValhallaOption func(*ValhallaEngine)

// WithValhallaAPIKey sends key as the api_key query parameter.
func WithValhallaAPIKey(key string) ValhallaOption {
	return func(e *ValhallaEngine) { e.apiKey = key }
}

// WithValhallaHTTPClient replaces the default HTTP client.
func WithValhallaHTTPClient(c *http.Client) ValhallaOption {
	return func(e *ValhallaEngine) { e.httpClient = c }
}

// WithValhallaLogger sets the logger used for upstream diagnostics.
func WithValhallaLogger(l *zap.Logger) ValhallaOption {
	return func(e *ValhallaEngine) { e.logger = l }
}

// NewValhallaEngine creates an engine for the service rooted at baseURL
// (e.g. "http://localhost:8002").
func NewValhallaEngine(baseURL string, opts ...ValhallaOption) *ValhallaEngine {
	e := &ValhallaEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: valhallaTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        httpMaxIdleConns,
				MaxIdleConnsPerHost: httpMaxIdleConns,
				IdleConnTimeout:     httpIdleConnTimeout,
			},
		},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Route satisfies Engine.
func (e *ValhallaEngine) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := valhallaRequest{
		Costing:        string(req.Costing),
		CostingOptions: req.CostingOptions,
		DirectionsOptions: map[string]any{
			"units": req.Units(),
		},
	}
	for k, v := range req.DirectionsOptions {
		body.DirectionsOptions[k] = v
	}
	if req.Locale != "" {
		body.DirectionsOptions["language"] = req.Locale.String()
	}
	for _, p := range req.Locations {
		body.Locations = append(body.Locations, valhallaLocation{Lat: p.Lat, Lon: p.Lon, Type: string(p.Type)})
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("routing: valhalla: marshal request: %w", err)
	}

	endpoint := e.baseURL + "/route"
	if e.apiKey != "" {
		endpoint += "?" + url.Values{"api_key": {e.apiKey}}.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("routing: valhalla: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("routing: valhalla: http: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("routing: valhalla: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr valhallaError
		if json.Unmarshal(respBytes, &apiErr) == nil && apiErr.Error != "" {
			e.logger.Debug("valhalla rejected request",
				zap.Int("status", httpResp.StatusCode),
				zap.Int("error_code", apiErr.ErrorCode),
				zap.String("error", apiErr.Error),
			)
			return nil, fmt.Errorf("routing: valhalla: status %d: %s (code %d)", httpResp.StatusCode, apiErr.Error, apiErr.ErrorCode)
		}
		return nil, fmt.Errorf("routing: valhalla: status %d: %s", httpResp.StatusCode, string(respBytes))
	}

	var apiResp valhallaResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("routing: valhalla: unmarshal response: %w", err)
	}
	if apiResp.Trip.Status != 0 {
		return nil, fmt.Errorf("routing: valhalla: trip status %d: %s", apiResp.Trip.Status, apiResp.Trip.StatusMessage)
	}
	if len(apiResp.Trip.Legs) == 0 {
		return nil, ErrNoRoute
	}

	return apiResp.Trip.toResult(req)
}

func (t valhallaTrip) toResult(req RouteRequest) (*RouteResult, error) {
	res := &RouteResult{
		Engine:   "valhalla",
		Costing:  req.Costing,
		Language: req.Locale,
		Units:    t.Units,
		Length:   t.Summary.Length,
		TimeS:    int(math.Round(t.Summary.Time)),
	}
	if res.Units == "" {
		res.Units = req.Units()
	}
	if t.Language != "" {
		res.Language = t.Language
	}

	for i, l := range t.Legs {
		points, err := decodeShape(polyline6, l.Shape)
		if err != nil {
			return nil, fmt.Errorf("routing: valhalla: leg %d: %w", i, err)
		}
		leg := Leg{
			Shape:  l.Shape,
			Points: points,
			Length: l.Summary.Length,
			TimeS:  int(math.Round(l.Summary.Time)),
		}
		for _, m := range l.Maneuvers {
			leg.Maneuvers = append(leg.Maneuvers, Maneuver{
				Type:        m.Type,
				Instruction: m.Instruction,
				Length:      m.Length,
				TimeS:       int(math.Round(m.Time)),
			})
		}
		res.Legs = append(res.Legs, leg)
	}
	return res, nil
}

// --- JSON types for the Valhalla route API ---

type valhallaRequest struct {
	Locations         []valhallaLocation `json:"locations"`
	Costing           string             `json:"costing"`
	CostingOptions    map[string]any     `json:"costing_options,omitempty"`
	DirectionsOptions map[string]any     `json:"directions_options,omitempty"`
}

type valhallaLocation struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Type string  `json:"type,omitempty"`
}

type valhallaResponse struct {
	Trip valhallaTrip `json:"trip"`
}

type valhallaTrip struct {
	Legs          []valhallaLeg   `json:"legs"`
	Summary       valhallaSummary `json:"summary"`
	Status        int             `json:"status"`
	StatusMessage string          `json:"status_message"`
	Units         string          `json:"units"`
	Language      locale.Locale   `json:"language"`
}

type valhallaLeg struct {
	Maneuvers []valhallaManeuver `json:"maneuvers"`
	Summary   valhallaSummary    `json:"summary"`
	Shape     string             `json:"shape"`
}

type valhallaManeuver struct {
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Time        float64 `json:"time"`
	Length      float64 `json:"length"`
}

type valhallaSummary struct {
	Time   float64 `json:"time"`
	Length float64 `json:"length"`
}

type valhallaError struct {
	ErrorCode  int    `json:"error_code"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}
