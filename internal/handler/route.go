package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/orchestrator"
	"github.com/FooledKiwi/taproute/internal/projection"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 20

type tapRequest struct {
	X   *float64 `json:"x"`
	Y   *float64 `json:"y"`
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// PostTap handles POST /api/v1/sessions/:id/tap
//
// Body, either a screen position or a geographic point:
//
//	{"x":412,"y":280}
//	{"lat":40.0,"lon":-105.0}
//
// Response 202:
//
//	{"destination":{"lat":40,"lon":-105},"seq":3,"dispatched":true}
//
// dispatched is false when the session has no device location; the tap is
// then dropped and no route is requested.
//
// Response 400: malformed body, missing viewport for a screen tap, or a
// point outside WGS-84 bounds.
func (h *Handler) PostTap(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req tapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	screen := req.X != nil && req.Y != nil
	geoTap := req.Lat != nil && req.Lon != nil
	if screen == geoTap {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide either x and y or lat and lon"})
		return
	}

	var (
		d   orchestrator.Dispatch
		err error
	)
	if screen {
		d, err = s.Orchestrator.HandleTap(projection.ScreenPoint{X: *req.X, Y: *req.Y})
	} else {
		d, err = s.Orchestrator.HandleGeoTap(geo.Point(*req.Lat, *req.Lon))
	}
	if errors.Is(err, orchestrator.ErrNoProjector) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set a viewport before sending screen taps"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, d)
}

type costingRequest struct {
	Costing string `json:"costing" binding:"required"`
}

// PutCosting handles PUT /api/v1/sessions/:id/costing
//
// Body: {"costing":"pedestrian"}
//
// Response 202: {"costing":"pedestrian","dispatch":{...}}. A re-route is
// dispatched when a destination was already tapped.
func (h *Handler) PutCosting(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req costingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	costing, err := routing.ParseCostingModel(req.Costing)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := s.Orchestrator.SetCostingModel(costing)
	c.JSON(http.StatusAccepted, gin.H{"costing": costing, "dispatch": d})
}

type localeRequest struct {
	Locale string `json:"locale" binding:"required"`
}

// PutLocale handles PUT /api/v1/sessions/:id/locale
//
// Body: {"locale":"fr_FR"}
//
// Response 202: {"locale":"fr-FR","dispatch":{...}}.
func (h *Handler) PutLocale(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req localeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := locale.Parse(req.Locale)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := s.Orchestrator.SetLocale(l)
	c.JSON(http.StatusAccepted, gin.H{"locale": l, "dispatch": d})
}

// GetRoute handles GET /api/v1/sessions/:id/route
//
// Response 200: the most recently completed route.
// Response 404: no route has completed yet.
func (h *Handler) GetRoute(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	res := s.Orchestrator.CurrentRouteResult()
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no route available"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetRouteGeoJSON handles GET /api/v1/sessions/:id/route/geojson
//
// Response 200: a FeatureCollection with one LineString per leg.
func (h *Handler) GetRouteGeoJSON(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	res := s.Orchestrator.CurrentRouteResult()
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no route available"})
		return
	}
	c.JSON(http.StatusOK, routeFeatureCollection(res))
}

// GetHistory handles GET /api/v1/sessions/:id/history
//
// Query params:
//   - limit (optional) int, maximum entries, default 20, capped at 100
//
// Response 404: unknown session, or history is not enabled.
func (h *Handler) GetHistory(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "route history is not enabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = v
	}

	entries, err := h.history.ListRoutes(c.Request.Context(), s.ID, limit)
	if err != nil {
		h.logger.Error("list route history failed", zap.String("session_id", s.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query route history"})
		return
	}
	if entries == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func routeFeatureCollection(res *routing.RouteResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, leg := range res.Legs {
		line := make(orb.LineString, 0, len(leg.Points))
		for _, p := range leg.Points {
			line = append(line, orb.Point{p.Lon, p.Lat})
		}
		f := geojson.NewFeature(line)
		f.Properties["leg"] = i
		f.Properties["length"] = leg.Length
		f.Properties["time_s"] = leg.TimeS
		f.Properties["maneuvers"] = len(leg.Maneuvers)
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"engine":      res.Engine,
		"costing":     res.Costing,
		"language":    res.Language,
		"units":       res.Units,
		"length":      res.Length,
		"time_s":      res.TimeS,
		"is_fallback": res.IsFallback,
	}
	return fc
}
