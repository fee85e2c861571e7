// Package app assembles the service from its configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/FooledKiwi/taproute/internal/config"
	"github.com/FooledKiwi/taproute/internal/handler"
	"github.com/FooledKiwi/taproute/internal/middleware"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/FooledKiwi/taproute/internal/session"
	"github.com/FooledKiwi/taproute/internal/sink"
	"github.com/FooledKiwi/taproute/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventSource is the CloudEvents source stamped on published route events.
const eventSource = "taproute/api"

// DBError represents a database-related error.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db error during %q: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// App holds the application-level dependencies.
type App struct {
	DB       *pgxpool.Pool // nil without DB_DSN
	Router   *gin.Engine
	Sessions *session.Manager

	cfg         *config.Config
	logger      *zap.Logger
	memCache    *routing.MemoryCacheStore
	kafkaWriter *kafka.Writer
	stopSweeper context.CancelFunc
}

// New wires the routing engine, optional Postgres and Kafka integrations,
// the session registry and the HTTP engine.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	// --- Database pool (optional) ---
	var history storage.RouteHistoryRepository
	if cfg.DBDSN != "" {
		pool, err := connect(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		a.DB = pool
		logger.Info("database connection pool established")

		if err := storage.RunMigrations(context.Background(), pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("app: run migrations: %w", err)
		}
		logger.Info("database schema up to date")

		history = storage.NewRouteHistoryRepository(pool)
	}

	// --- Routing engine ---
	engine := a.routeCache(newEngine(cfg, logger))

	// --- Result sinks ---
	if len(cfg.KafkaBrokers) > 0 {
		a.kafkaWriter = sink.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing route events",
			zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	sinks := func(sessionID string) sink.RouteResultSink {
		multi := sink.Multi{sink.NewLogSink(logger.With(zap.String("session_id", sessionID)))}
		if a.kafkaWriter != nil {
			multi = append(multi, sink.NewKafkaSink(a.kafkaWriter, eventSource, sessionID))
		}
		if history != nil {
			multi = append(multi, sink.NewHistorySink(history, sessionID))
		}
		return multi
	}

	// --- Sessions ---
	a.Sessions = session.NewManager(engine, sinks, session.Config{
		Costing:           cfg.DefaultCosting,
		Locale:            cfg.DefaultLocale,
		DirectionsOptions: map[string]any{routing.OptionUnits: cfg.DirectionsUnits},
		SequencedResults:  cfg.SequencedResults,
		IdleTTL:           cfg.SessionIdleTTL,
		LocationMaxAge:    cfg.LocationMaxAge,
	}, logger)

	sweepCtx, stop := context.WithCancel(context.Background())
	a.stopSweeper = stop
	go a.Sessions.Run(sweepCtx)

	// --- HTTP engine ---
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	router.GET("/health", a.health)

	handler.New(a.Sessions, history, logger).Register(router.Group("/api/v1"))

	a.Router = router
	return a, nil
}

func connect(dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &DBError{Op: "parse_dsn", Err: err}
	}

	poolCfg.MaxConns = 20
	poolCfg.MaxConnLifetime = 30 * time.Second
	poolCfg.MaxConnIdleTime = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &DBError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &DBError{Op: "ping", Err: err}
	}
	return pool, nil
}

// newEngine builds the engine named by ROUTING_ENGINE.
func newEngine(cfg *config.Config, logger *zap.Logger) routing.Engine {
	client := &http.Client{Timeout: cfg.RoutingTimeout}

	switch cfg.RoutingEngine {
	case config.EngineValhalla:
		logger.Info("routing with valhalla", zap.String("url", cfg.ValhallaURL))
		return routing.NewValhallaEngine(cfg.ValhallaURL,
			routing.WithValhallaAPIKey(cfg.ValhallaAPIKey),
			routing.WithValhallaHTTPClient(client),
			routing.WithValhallaLogger(logger),
		)
	case config.EngineGoogle:
		logger.Info("routing with google routes api")
		return routing.NewGoogleEngine(cfg.GoogleAPIKey,
			routing.WithGoogleHTTPClient(client),
			routing.WithGoogleLogger(logger),
			routing.WithFallback(routing.NewStraightLineEngine()),
		)
	default:
		logger.Info("routing with straight-line estimates")
		return routing.NewStraightLineEngine()
	}
}

// routeCache wraps inner with the route cache. Postgres backs the cache when
// a pool is available; otherwise results are kept in process memory.
func (a *App) routeCache(inner routing.Engine) routing.Engine {
	if a.cfg.RouteCacheTTL <= 0 {
		return inner
	}

	var store routing.CacheStore
	if a.DB != nil {
		store = storage.NewRouteCacheStore(a.DB, a.cfg.RouteCacheTTL)
	} else {
		a.memCache = routing.NewMemoryCacheStore(a.cfg.RouteCacheTTL)
		store = a.memCache
	}
	return routing.NewCachedEngine(inner, store, routing.WithCacheLogger(a.logger))
}

func (a *App) health(c *gin.Context) {
	status := gin.H{
		"status":   "ok",
		"engine":   a.cfg.RoutingEngine,
		"sessions": a.Sessions.Len(),
	}
	if a.DB != nil {
		if err := a.DB.Ping(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

// Shutdown closes every session, cancelling in-flight route requests, then
// releases the Kafka writer, the memory cache and the database pool.
func (a *App) Shutdown() {
	if a.stopSweeper != nil {
		a.stopSweeper()
	}
	if a.Sessions != nil {
		a.Sessions.CloseAll()
	}
	if a.kafkaWriter != nil {
		if err := a.kafkaWriter.Close(); err != nil {
			a.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if a.memCache != nil {
		a.memCache.Close()
	}
	if a.DB != nil {
		a.DB.Close()
		a.logger.Info("database connection pool closed")
	}
}
