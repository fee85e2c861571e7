package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/FooledKiwi/taproute/internal/session"
	"github.com/FooledKiwi/taproute/internal/sink"
	"github.com/FooledKiwi/taproute/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type mockHistory struct {
	entries   []storage.HistoryEntry
	err       error
	gotID     string
	gotLimit  int
	listCalls int
}

func (m *mockHistory) InsertRoute(_ context.Context, _ string, _ *routing.RouteResult) error {
	return nil
}

func (m *mockHistory) ListRoutes(_ context.Context, sessionID string, limit int) ([]storage.HistoryEntry, error) {
	m.listCalls++
	m.gotID = sessionID
	m.gotLimit = limit
	return m.entries, m.err
}

type testServer struct {
	router   *gin.Engine
	sessions *session.Manager
}

func newTestServer(t *testing.T, history storage.RouteHistoryRepository) *testServer {
	t.Helper()
	m := session.NewManager(routing.NewStraightLineEngine(), func(string) sink.RouteResultSink {
		return sink.Func(func(context.Context, *routing.RouteResult) error { return nil })
	}, session.Config{Costing: routing.CostingAuto, Locale: "en-US"}, nil)
	t.Cleanup(m.CloseAll)

	r := gin.New()
	New(m, history, nil).Register(r.Group("/api/v1"))
	return &testServer{router: r, sessions: m}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession(t *testing.T, body any) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func (s *testServer) waitRoutes(t *testing.T, id string) {
	t.Helper()
	sess, err := s.sessions.Get(id)
	require.NoError(t, err)
	sess.Orchestrator.Wait()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var denver = map[string]any{"lat": 39.7392, "lon": -104.9903}

// ---------------------------------------------------------------------------
// Menus
// ---------------------------------------------------------------------------

func TestListCostingModels(t *testing.T) {
	srv := newTestServer(t, nil)
	w := srv.do(t, http.MethodGet, "/api/v1/costing-models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, len(routing.CostingModels))
	assert.Equal(t, "auto", out[0].Name)
	assert.Equal(t, "Auto", out[0].Title)
}

func TestListLocales(t *testing.T) {
	srv := newTestServer(t, nil)
	w := srv.do(t, http.MethodGet, "/api/v1/locales", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"locale":"fr-FR"`)
	assert.Contains(t, w.Body.String(), `"locale":"pirate"`)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestCreateSession_Defaults(t *testing.T) {
	srv := newTestServer(t, nil)
	w := srv.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, "auto", out["costing"])
	assert.Equal(t, "en-US", out["locale"])
	assert.Equal(t, false, out["has_route"])
	assert.NotContains(t, out, "viewport")
}

func TestCreateSession_WithOverrides(t *testing.T) {
	srv := newTestServer(t, nil)
	w := srv.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"costing":  "bicycle",
		"locale":   "fr_FR",
		"location": denver,
		"viewport": map[string]any{"center": denver, "zoom": 12, "width": 800, "height": 600},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, "bicycle", out["costing"])
	assert.Equal(t, "fr-FR", out["locale"])
	assert.Contains(t, out, "viewport")
	assert.Contains(t, out, "location")
}

func TestCreateSession_BadInput(t *testing.T) {
	srv := newTestServer(t, nil)
	tests := []struct {
		name string
		body any
	}{
		{name: "unknown costing", body: map[string]any{"costing": "hovercraft"}},
		{name: "bad locale", body: map[string]any{"locale": "!!"}},
		{name: "bad viewport", body: map[string]any{"viewport": map[string]any{"zoom": 12}}},
		{name: "bad location", body: map[string]any{"location": map[string]any{"lat": 91, "lon": 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w), "error")
		})
	}
	assert.Equal(t, 0, srv.sessions.Len())
}

func TestUnknownSession_Returns404(t *testing.T) {
	srv := newTestServer(t, nil)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/nope"},
		{http.MethodDelete, "/api/v1/sessions/nope"},
		{http.MethodGet, "/api/v1/sessions/nope/route"},
		{http.MethodGet, "/api/v1/sessions/nope/history"},
	}
	for _, p := range paths {
		w := srv.do(t, p.method, p.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, p.path)
		assert.Equal(t, "session not found", decode(t, w)["error"])
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, nil)

	w := srv.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutLocation(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, nil)

	w := srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/location",
		map[string]any{"lat": 39.7, "lon": -105.0, "accuracy_m": 8})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, 8.0, out["accuracy_m"])

	// Missing lon.
	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/location", map[string]any{"lat": 39.7})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Negative accuracy.
	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/location",
		map[string]any{"lat": 39.7, "lon": -105.0, "accuracy_m": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Out of range.
	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/location", map[string]any{"lat": 0, "lon": 181})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutViewport(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, nil)

	w := srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/viewport",
		map[string]any{"center": denver, "zoom": 10, "width": 400, "height": 300})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/viewport",
		map[string]any{"center": denver, "zoom": 40, "width": 400, "height": 300})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---------------------------------------------------------------------------
// Taps and preferences
// ---------------------------------------------------------------------------

func TestPostTap_GeoPointRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})

	w := srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"lat": 39.9, "lon": -105.1})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["dispatched"])
	assert.Equal(t, 1.0, out["seq"])

	srv.waitRoutes(t, id)
	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/route", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	route := decode(t, w)
	assert.Equal(t, "auto", route["costing"])
	assert.Equal(t, "miles", route["units"])
	assert.Equal(t, true, route["is_fallback"])
}

func TestPostTap_ScreenPointNeedsViewport(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})

	w := srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"x": 10, "y": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/viewport",
		map[string]any{"center": denver, "zoom": 12, "width": 800, "height": 600})
	w = srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"x": 400, "y": 300})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var d struct {
		Destination geo.GeoPoint `json:"destination"`
		Dispatched  bool         `json:"dispatched"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.True(t, d.Dispatched)
	// The centre pixel projects back onto the viewport centre.
	assert.InDelta(t, 39.7392, d.Destination.Lat, 1e-6)
	assert.InDelta(t, -104.9903, d.Destination.Lon, 1e-6)
}

func TestPostTap_BadBodies(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})

	bodies := []any{
		map[string]any{},
		map[string]any{"x": 1, "y": 2, "lat": 3, "lon": 4},
		map[string]any{"x": 1},
		map[string]any{"lat": 95, "lon": 0},
	}
	for _, b := range bodies {
		w := srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", b)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	}
}

func TestPostTap_NoLocationDropsRequest(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, nil)

	w := srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"lat": 39.9, "lon": -105.1})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, decode(t, w)["dispatched"])

	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/route", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no route available", decode(t, w)["error"])
}

func TestPutCosting_ReroutesLastDestination(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})

	// No destination yet: the preference is stored but nothing is dispatched.
	w := srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/costing", map[string]any{"costing": "bicycle"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["dispatch"].(map[string]any)["dispatched"])

	srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"lat": 39.9, "lon": -105.1})
	srv.waitRoutes(t, id)

	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/costing", map[string]any{"costing": "pedestrian"})
	require.Equal(t, http.StatusAccepted, w.Code)
	out := decode(t, w)
	assert.Equal(t, "pedestrian", out["costing"])
	assert.Equal(t, true, out["dispatch"].(map[string]any)["dispatched"])

	srv.waitRoutes(t, id)
	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/route", nil)
	assert.Equal(t, "pedestrian", decode(t, w)["costing"])

	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/costing", map[string]any{"costing": "rocket"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/costing", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutLocale_ReroutesLastDestination(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})
	srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"lat": 39.9, "lon": -105.1})
	srv.waitRoutes(t, id)

	w := srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/locale", map[string]any{"locale": "ca_ES"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "ca-ES", out["locale"])
	assert.Equal(t, 2.0, out["dispatch"].(map[string]any)["seq"])

	srv.waitRoutes(t, id)
	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	snap := decode(t, w)
	assert.Equal(t, "ca-ES", snap["locale"])
	assert.Equal(t, 2.0, snap["dispatched"])
	assert.Equal(t, 2.0, snap["completed"])
	assert.Equal(t, 0.0, snap["in_flight"])
	assert.Equal(t, true, snap["has_route"])
}

// ---------------------------------------------------------------------------
// Route views
// ---------------------------------------------------------------------------

func TestGetRouteGeoJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})

	w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/route/geojson", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"lat": 39.9, "lon": -105.1})
	srv.waitRoutes(t, id)

	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/route/geojson", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fc struct {
		Type     string `json:"type"`
		Engine   string `json:"engine"`
		Features []struct {
			Geometry struct {
				Type        string       `json:"type"`
				Coordinates [][2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Equal(t, "straightline", fc.Engine)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "LineString", fc.Features[0].Geometry.Type)
	require.Len(t, fc.Features[0].Geometry.Coordinates, 2)
	// GeoJSON positions are lon, lat.
	assert.InDelta(t, -104.9903, fc.Features[0].Geometry.Coordinates[0][0], 1e-9)
	assert.InDelta(t, 39.7392, fc.Features[0].Geometry.Coordinates[0][1], 1e-9)
	assert.Equal(t, 0.0, fc.Features[0].Properties["leg"])
}

func TestGetHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, nil)
		id := srv.createSession(t, nil)
		w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "route history is not enabled", decode(t, w)["error"])
	})

	t.Run("default limit and empty list", func(t *testing.T) {
		h := &mockHistory{}
		srv := newTestServer(t, h)
		id := srv.createSession(t, nil)
		w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
		assert.Equal(t, id, h.gotID)
		assert.Equal(t, defaultHistoryLimit, h.gotLimit)
	})

	t.Run("entries", func(t *testing.T) {
		h := &mockHistory{entries: []storage.HistoryEntry{{
			ID: 7, Engine: "valhalla", Costing: routing.CostingBicycle, Units: "miles",
			Length: 3.2, CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}}}
		srv := newTestServer(t, h)
		id := srv.createSession(t, nil)
		w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history?limit=5", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, h.gotLimit)

		var out []storage.HistoryEntry
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		require.Len(t, out, 1)
		assert.Equal(t, int64(7), out[0].ID)
		assert.Equal(t, routing.CostingBicycle, out[0].Costing)
	})

	t.Run("bad limit", func(t *testing.T) {
		h := &mockHistory{}
		srv := newTestServer(t, h)
		id := srv.createSession(t, nil)
		w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, h.listCalls)
	})

	t.Run("repository error", func(t *testing.T) {
		h := &mockHistory{err: errors.New("db down")}
		srv := newTestServer(t, h)
		id := srv.createSession(t, nil)
		w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestDeleteLocation_LaterTapsAreDropped(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{"location": denver})

	w := srv.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/location", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.NotContains(t, decode(t, w), "location")

	w = srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"lat": 39.9, "lon": -105.1})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, decode(t, w)["dispatched"])
}

func TestGetSession_DestinationScreenFollowsViewport(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.createSession(t, map[string]any{
		"location": denver,
		"viewport": map[string]any{"center": denver, "zoom": 12, "width": 800, "height": 600},
	})

	w := srv.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.NotContains(t, decode(t, w), "destination_screen")

	w = srv.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/tap", map[string]any{"x": 100, "y": 450})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	srv.waitRoutes(t, id)

	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	var snap struct {
		DestinationScreen *struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"destination_screen"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotNil(t, snap.DestinationScreen)
	assert.InDelta(t, 100, snap.DestinationScreen.X, 1e-6)
	assert.InDelta(t, 450, snap.DestinationScreen.Y, 1e-6)

	// Re-centring the map on the destination moves its marker to the middle.
	sess, err := srv.sessions.Get(id)
	require.NoError(t, err)
	dest := sess.Orchestrator.Snapshot().LastDestination
	require.NotNil(t, dest)
	srv.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/viewport",
		map[string]any{"center": map[string]any{"lat": dest.Lat, "lon": dest.Lon}, "zoom": 12, "width": 800, "height": 600})

	w = srv.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotNil(t, snap.DestinationScreen)
	assert.InDelta(t, 400, snap.DestinationScreen.X, 1e-6)
	assert.InDelta(t, 300, snap.DestinationScreen.Y, 1e-6)
}
