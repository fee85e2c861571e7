package routing

import (
	"context"
	"strings"
	"time"

	"github.com/FooledKiwi/taproute/internal/cache"
	"github.com/FooledKiwi/taproute/internal/geo"
	"github.com/mmcloughlin/geohash"
	"go.uber.org/zap"
)

const (
	// cacheQueryTimeout is the deadline for each async cache write.
	cacheQueryTimeout = 5 * time.Second

	// geohashPrecision controls the spatial resolution of cache keys.
	// Precision 8 is a ~38m x 19m cell, well under the size of a map tap.
	geohashPrecision = 8
)

// CacheStore abstracts the persistence layer for route caching.
type CacheStore interface {
	// GetCachedRoute returns the cached result for key, or (nil, nil) when
	// there is no valid (non-expired) entry.
	GetCachedRoute(ctx context.Context, key string) (*RouteResult, error)

	// SetCachedRoute upserts the entry for key.
	SetCachedRoute(ctx context.Context, key string, res *RouteResult) error
}

// CachedEngine wraps another Engine and transparently caches its results.
type CachedEngine struct {
	inner      Engine
	store      CacheStore
	logger     *zap.Logger
	afterStore func() // optional hook called after every async store attempt; used in tests for synchronization
}

// CachedEngineOption configures a CachedEngine.
type CachedEngineOption func(*CachedEngine)

// WithCacheLogger sets the logger used when cache reads or writes fail.
func WithCacheLogger(l *zap.Logger) CachedEngineOption {
	return func(e *CachedEngine) { e.logger = l }
}

// withAfterStore sets a hook called after every async store attempt.
func withAfterStore(fn func()) CachedEngineOption {
	return func(e *CachedEngine) { e.afterStore = fn }
}

// NewCachedEngine wraps inner with a cache-aside layer backed by store.
func NewCachedEngine(inner Engine, store CacheStore, opts ...CachedEngineOption) *CachedEngine {
	e := &CachedEngine{inner: inner, store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Route satisfies Engine. Requests carrying costing options bypass the
// cache, as do fallback results on the way back.
func (e *CachedEngine) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if len(req.CostingOptions) > 0 || req.Validate() != nil {
		return e.inner.Route(ctx, req)
	}

	key := CacheKey(req)

	cached, err := e.store.GetCachedRoute(ctx, key)
	if err != nil {
		// Cache read failures are non-fatal: fall through to the real engine.
		e.logger.Debug("route cache read failed", zap.String("key", key), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	res, err := e.inner.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.IsFallback {
		return res, nil
	}

	// Persist asynchronously on a background context so the caller's
	// cancellation does not drop the write.
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), cacheQueryTimeout)
		defer cancel()

		if err := e.store.SetCachedRoute(storeCtx, key, res); err != nil {
			e.logger.Warn("route cache async write failed", zap.String("key", key), zap.Error(err))
		}

		if e.afterStore != nil {
			e.afterStore()
		}
	}()

	return res, nil
}

// CacheKey identifies a request by the geohash of every waypoint plus the
// parameters that change the engine's answer.
func CacheKey(req RouteRequest) string {
	parts := make([]string, 0, len(req.Locations)+3)
	for _, p := range req.Locations {
		parts = append(parts, pointHash(p.GeoPoint)+":"+string(p.Type))
	}
	parts = append(parts, string(req.Costing), req.Locale.String(), req.Units())
	return strings.Join(parts, "|")
}

func pointHash(p geo.GeoPoint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, geohashPrecision)
}

// MemoryCacheStore is an in-process CacheStore with a fixed TTL.
type MemoryCacheStore struct {
	c *cache.Cache[*RouteResult]
}

// NewMemoryCacheStore creates a store whose entries expire after ttl.
func NewMemoryCacheStore(ttl time.Duration) *MemoryCacheStore {
	return &MemoryCacheStore{c: cache.New[*RouteResult](ttl)}
}

// GetCachedRoute satisfies CacheStore.
func (m *MemoryCacheStore) GetCachedRoute(_ context.Context, key string) (*RouteResult, error) {
	res, ok := m.c.Get(key)
	if !ok {
		return nil, nil
	}
	return res, nil
}

// SetCachedRoute satisfies CacheStore.
func (m *MemoryCacheStore) SetCachedRoute(_ context.Context, key string, res *RouteResult) error {
	m.c.Set(key, res)
	return nil
}

// Close stops the expiry janitor.
func (m *MemoryCacheStore) Close() {
	m.c.Close()
}
