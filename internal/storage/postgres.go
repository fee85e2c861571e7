package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout is applied to every database query.
const queryTimeout = 5 * time.Second

// maxHistoryLimit caps ListRoutes.
const maxHistoryLimit = 100

// pgRouteCacheStore is the pgx-backed implementation of routing.CacheStore.
type pgRouteCacheStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewRouteCacheStore creates a routing.CacheStore over the route_cache table.
// Entries expire ttl after they are written.
func NewRouteCacheStore(pool *pgxpool.Pool, ttl time.Duration) routing.CacheStore {
	return &pgRouteCacheStore{pool: pool, ttl: ttl, now: time.Now}
}

// GetCachedRoute returns the unexpired entry for key, or (nil, nil).
func (s *pgRouteCacheStore) GetCachedRoute(ctx context.Context, key string) (*routing.RouteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `
		SELECT result
		FROM route_cache
		WHERE cache_key  = $1
		  AND expires_at > NOW()`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: GetCachedRoute: %w", err)
	}

	res, err := decodeResult(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: GetCachedRoute: %w", err)
	}
	return res, nil
}

// SetCachedRoute upserts the entry for key. The expiry is computed in Go so
// the configured TTL is the single source of truth.
func (s *pgRouteCacheStore) SetCachedRoute(ctx context.Context, key string, res *routing.RouteResult) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("storage: SetCachedRoute: encode: %w", err)
	}

	const q = `
		INSERT INTO route_cache (cache_key, engine, result, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (cache_key)
		DO UPDATE SET
			engine     = EXCLUDED.engine,
			result     = EXCLUDED.result,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	if _, err := s.pool.Exec(ctx, q, key, res.Engine, raw, s.now().Add(s.ttl)); err != nil {
		return fmt.Errorf("storage: SetCachedRoute: %w", err)
	}
	return nil
}

// pgRouteHistoryRepository is the pgx-backed implementation of
// RouteHistoryRepository.
type pgRouteHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewRouteHistoryRepository creates a RouteHistoryRepository backed by pool.
func NewRouteHistoryRepository(pool *pgxpool.Pool) RouteHistoryRepository {
	return &pgRouteHistoryRepository{pool: pool}
}

func (r *pgRouteHistoryRepository) InsertRoute(ctx context.Context, sessionID string, res *routing.RouteResult) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("storage: InsertRoute: encode: %w", err)
	}
	origin, dest := endpoints(res)

	const q = `
		INSERT INTO route_history (
			session_id, engine, costing, language, units, length, time_s, is_fallback,
			origin_lat, origin_lon, dest_lat, dest_lon, result
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.pool.Exec(ctx, q,
		sessionID, res.Engine, string(res.Costing), res.Language.String(), res.Units,
		res.Length, int32(res.TimeS), res.IsFallback,
		latOf(origin), lonOf(origin), latOf(dest), lonOf(dest), raw,
	)
	if err != nil {
		return fmt.Errorf("storage: InsertRoute: %w", err)
	}
	return nil
}

func (r *pgRouteHistoryRepository) ListRoutes(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `
		SELECT id, session_id::text, engine, costing, language, units, length, time_s, is_fallback,
		       origin_lat, origin_lon, dest_lat, dest_lon, created_at
		FROM route_history
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, q, sessionID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: ListRoutes: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e                                      HistoryEntry
			costing                                string
			timeS                                  int32
			originLat, originLon, destLat, destLon *float64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Engine, &costing, &e.Language, &e.Units,
			&e.Length, &timeS, &e.IsFallback,
			&originLat, &originLon, &destLat, &destLon, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: ListRoutes: scan: %w", err)
		}
		e.Costing = routing.CostingModel(costing)
		e.TimeS = int(timeS)
		e.Origin = pointOf(originLat, originLon)
		e.Destination = pointOf(destLat, destLon)
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeResult(raw []byte) (*routing.RouteResult, error) {
	var res routing.RouteResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

// endpoints returns the first and last shape points of res, if any.
func endpoints(res *routing.RouteResult) (origin, dest *geo.GeoPoint) {
	shape := res.Shape()
	if len(shape) == 0 {
		return nil, nil
	}
	first, last := shape[0], shape[len(shape)-1]
	return &first, &last
}

func latOf(p *geo.GeoPoint) *float64 {
	if p == nil {
		return nil
	}
	return &p.Lat
}

func lonOf(p *geo.GeoPoint) *float64 {
	if p == nil {
		return nil
	}
	return &p.Lon
}

func pointOf(lat, lon *float64) *geo.GeoPoint {
	if lat == nil || lon == nil {
		return nil
	}
	p := geo.Point(*lat, *lon)
	return &p
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
