package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FooledKiwi/taproute/internal/config"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/FooledKiwi/taproute/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:            8080,
		AppEnv:          "test",
		RoutingEngine:   config.EngineStraightLine,
		RoutingTimeout:  time.Second,
		RouteCacheTTL:   time.Minute,
		RequestTimeout:  5 * time.Second,
		DefaultCosting:  routing.CostingAuto,
		DefaultLocale:   "en-US",
		DirectionsUnits: routing.UnitsKilometers,
		SessionIdleTTL:  time.Hour,
	}
}

func TestDBError(t *testing.T) {
	inner := errors.New("refused")
	err := &DBError{Op: "connect", Err: inner}
	assert.Equal(t, `db error during "connect": refused`, err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestNew_InvalidDSN(t *testing.T) {
	cfg := testConfig()
	cfg.DBDSN = "postgres://%zz"

	_, err := New(cfg, nil)
	var dbErr *DBError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "parse_dsn", dbErr.Op)
}

func TestNewEngine(t *testing.T) {
	cfg := testConfig()
	assert.IsType(t, &routing.StraightLineEngine{}, newEngine(cfg, zap.NewNop()))

	cfg.RoutingEngine = config.EngineValhalla
	cfg.ValhallaURL = "http://valhalla:8002"
	assert.IsType(t, &routing.ValhallaEngine{}, newEngine(cfg, zap.NewNop()))

	cfg.RoutingEngine = config.EngineGoogle
	cfg.GoogleAPIKey = "key"
	assert.IsType(t, &routing.GoogleEngine{}, newEngine(cfg, zap.NewNop()))
}

func TestNew_InMemoryStack(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	assert.Nil(t, a.DB)
	assert.NotNil(t, a.memCache)

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "straightline", health["engine"])
}

func TestNew_EndToEndTapRoutesInKilometers(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		strings.NewReader(`{"location":{"lat":48.8566,"lon":2.3522},"locale":"fr-FR"}`))
	req.Header.Set("Content-Type", "application/json")
	a.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+created.ID+"/tap",
		strings.NewReader(`{"lat":48.8738,"lon":2.2950}`))
	req.Header.Set("Content-Type", "application/json")
	a.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	s, err := a.Sessions.Get(created.ID)
	require.NoError(t, err)
	s.Orchestrator.Wait()

	res := s.Orchestrator.CurrentRouteResult()
	require.NotNil(t, res)
	assert.Equal(t, routing.UnitsKilometers, res.Units)
	assert.Equal(t, "fr-FR", res.Language.String())
}

func TestShutdown_ClosesSessions(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	_, err = a.Sessions.Create(session.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, a.Sessions.Len())

	a.Shutdown()
	assert.Equal(t, 0, a.Sessions.Len())
}
