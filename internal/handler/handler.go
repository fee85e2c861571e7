package handler

import (
	"errors"
	"net/http"

	"github.com/FooledKiwi/taproute/internal/session"
	"github.com/FooledKiwi/taproute/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes sessions and the option menus over HTTP.
type Handler struct {
	sessions *session.Manager
	history  storage.RouteHistoryRepository // nil when no database is configured
	logger   *zap.Logger
}

// New creates a Handler. history may be nil.
func New(sessions *session.Manager, history storage.RouteHistoryRepository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, history: history, logger: logger}
}

// Register mounts every endpoint on api, normally the /api/v1 group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.GET("/costing-models", h.ListCostingModels)
	api.GET("/locales", h.ListLocales)

	api.POST("/sessions", h.CreateSession)
	s := api.Group("/sessions/:id")
	{
		s.GET("", h.GetSession)
		s.DELETE("", h.DeleteSession)
		s.PUT("/location", h.PutLocation)
		s.DELETE("/location", h.DeleteLocation)
		s.PUT("/viewport", h.PutViewport)
		s.POST("/tap", h.PostTap)
		s.PUT("/costing", h.PutCosting)
		s.PUT("/locale", h.PutLocale)
		s.GET("/route", h.GetRoute)
		s.GET("/route/geojson", h.GetRouteGeoJSON)
		s.GET("/history", h.GetHistory)
	}
}

// lookupSession resolves the :id path parameter. On failure it writes a 404
// response and returns (nil, false).
func (h *Handler) lookupSession(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil, false
	}
	return s, true
}
