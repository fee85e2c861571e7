package handler

import (
	"net/http"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/location"
	"github.com/FooledKiwi/taproute/internal/orchestrator"
	"github.com/FooledKiwi/taproute/internal/projection"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/FooledKiwi/taproute/internal/session"
	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	Costing  string               `json:"costing"`
	Locale   string               `json:"locale"`
	Viewport *projection.Viewport `json:"viewport"`
	Location *geo.GeoPoint        `json:"location"`
}

type sessionJSON struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	orchestrator.Snapshot
	InFlight uint64               `json:"in_flight"`
	HasRoute bool                 `json:"has_route"`
	Viewport *projection.Viewport `json:"viewport,omitempty"`

	// DestinationScreen places the last destination in the current viewport
	// so a client can redraw its marker after panning or zooming.
	DestinationScreen *projection.ScreenPoint `json:"destination_screen,omitempty"`
	Location          *location.Fix           `json:"location,omitempty"`
}

func toSessionJSON(s *session.Session) sessionJSON {
	snap := s.Orchestrator.Snapshot()
	out := sessionJSON{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Snapshot:  snap,
		InFlight:  snap.InFlight(),
		HasRoute:  snap.Current != nil,
	}
	if vp, ok := s.Viewport(); ok {
		out.Viewport = &vp
		if snap.LastDestination != nil {
			sp := vp.GeoToScreen(*snap.LastDestination)
			out.DestinationScreen = &sp
		}
	}
	if fix, ok := s.Tracker.Last(); ok {
		out.Location = &fix
	}
	return out
}

// CreateSession handles POST /api/v1/sessions
//
// Body (all fields optional):
//
//	{"costing":"bicycle","locale":"fr-FR",
//	 "viewport":{"center":{"lat":40,"lon":-105},"zoom":12,"width":800,"height":600},
//	 "location":{"lat":40.1,"lon":-105.1}}
//
// Response 201: session state.
// Response 400: invalid costing, locale, viewport or location.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var opts session.CreateOptions
	if req.Costing != "" {
		costing, err := routing.ParseCostingModel(req.Costing)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Costing = costing
	}
	if req.Locale != "" {
		l, err := locale.Parse(req.Locale)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Locale = l
	}
	opts.Viewport = req.Viewport
	opts.Location = req.Location

	s, err := h.sessions.Create(opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toSessionJSON(s))
}

// GetSession handles GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toSessionJSON(s))
}

// DeleteSession handles DELETE /api/v1/sessions/:id
//
// Response 204: closed; in-flight route requests are cancelled.
func (h *Handler) DeleteSession(c *gin.Context) {
	if _, ok := h.lookupSession(c); !ok {
		return
	}
	if err := h.sessions.Close(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type locationRequest struct {
	Lat       *float64 `json:"lat" binding:"required"`
	Lon       *float64 `json:"lon" binding:"required"`
	AccuracyM float64  `json:"accuracy_m" binding:"gte=0"`
}

// PutLocation handles PUT /api/v1/sessions/:id/location
//
// Body: {"lat":40.1,"lon":-105.1,"accuracy_m":12}
//
// Response 200: the stored fix.
func (h *Handler) PutLocation(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Tracker.Update(geo.Point(*req.Lat, *req.Lon), req.AccuracyM); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fix, _ := s.Tracker.Last()
	c.JSON(http.StatusOK, fix)
}

// DeleteLocation handles DELETE /api/v1/sessions/:id/location
//
// Drops the device fix, e.g. when the client loses GPS. Taps are then
// ignored until a new fix arrives.
//
// Response 204.
func (h *Handler) DeleteLocation(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	s.Tracker.Clear()
	c.Status(http.StatusNoContent)
}

// PutViewport handles PUT /api/v1/sessions/:id/viewport
//
// Body: {"center":{"lat":40,"lon":-105},"zoom":12,"width":800,"height":600}
func (h *Handler) PutViewport(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var vp projection.Viewport
	if err := c.ShouldBindJSON(&vp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := vp.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.SetViewport(vp)
	c.JSON(http.StatusOK, vp)
}
