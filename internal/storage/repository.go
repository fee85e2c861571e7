// Package storage provides PostgreSQL-backed persistence for route results.
package storage

import (
	"context"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/routing"
)

// HistoryEntry is one computed route recorded for a session.
type HistoryEntry struct {
	ID          int64                `json:"id"`
	SessionID   string               `json:"session_id"`
	Engine      string               `json:"engine"`
	Costing     routing.CostingModel `json:"costing"`
	Language    string               `json:"language"`
	Units       string               `json:"units"`
	Length      float64              `json:"length"`
	TimeS       int                  `json:"time_s"`
	IsFallback  bool                 `json:"is_fallback"`
	Origin      *geo.GeoPoint        `json:"origin,omitempty"`
	Destination *geo.GeoPoint        `json:"destination,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// RouteHistoryRepository stores the routes computed for each session.
type RouteHistoryRepository interface {
	// InsertRoute records res for sessionID.
	InsertRoute(ctx context.Context, sessionID string, res *routing.RouteResult) error

	// ListRoutes returns up to limit entries for sessionID, newest first.
	ListRoutes(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error)
}
