// Package config loads and validates environment-based configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/FooledKiwi/taproute/internal/locale"
	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/joho/godotenv"
)

// Routing engine names accepted in ROUTING_ENGINE.
const (
	EngineValhalla     = "valhalla"
	EngineGoogle       = "google"
	EngineStraightLine = "straightline"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	Port   int
	AppEnv string
	// DBDSN enables the Postgres route cache and history when set.
	DBDSN string

	RoutingEngine  string
	ValhallaURL    string
	ValhallaAPIKey string
	GoogleAPIKey   string
	RoutingTimeout time.Duration
	RouteCacheTTL  time.Duration // zero disables route caching
	RequestTimeout time.Duration

	DefaultCosting   routing.CostingModel
	DefaultLocale    locale.Locale
	DirectionsUnits  string
	SequencedResults bool
	SessionIdleTTL   time.Duration
	LocationMaxAge   time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// Load reads an optional .env file, then the environment. It returns a
// ConfigError for the first missing or invalid value.
func Load() (*Config, error) {
	// A missing .env file is not an error; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := load(os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		AppEnv:          valueOr(getenv("APP_ENV"), "development"),
		DBDSN:           getenv("DB_DSN"),
		RoutingEngine:   strings.ToLower(valueOr(getenv("ROUTING_ENGINE"), EngineStraightLine)),
		ValhallaURL:     valueOr(getenv("VALHALLA_URL"), "http://localhost:8002"),
		ValhallaAPIKey:  getenv("VALHALLA_API_KEY"),
		GoogleAPIKey:    getenv("GOOGLE_API_KEY"),
		DirectionsUnits: valueOr(getenv("DIRECTIONS_UNITS"), routing.UnitsMiles),
		KafkaTopic:      valueOr(getenv("KAFKA_TOPIC"), "taproute.routes"),
	}

	port, err := parseIntEnv(getenv, "PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, &ConfigError{Field: "PORT", Message: "must be between 1 and 65535"}
	}
	cfg.Port = port

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"ROUTING_TIMEOUT", &cfg.RoutingTimeout, 10 * time.Second},
		{"ROUTE_CACHE_TTL", &cfg.RouteCacheTTL, 15 * time.Minute},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout, 10 * time.Second},
		{"SESSION_IDLE_TTL", &cfg.SessionIdleTTL, 30 * time.Minute},
		{"LOCATION_MAX_AGE", &cfg.LocationMaxAge, 0},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(getenv, d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.DefaultCosting = routing.DefaultCosting
	if raw := getenv("DEFAULT_COSTING"); raw != "" {
		c, err := routing.ParseCostingModel(raw)
		if err != nil {
			return nil, &ConfigError{Field: "DEFAULT_COSTING", Message: err.Error()}
		}
		cfg.DefaultCosting = c
	}

	cfg.DefaultLocale = locale.System()
	if raw := getenv("DEFAULT_LOCALE"); raw != "" {
		l, err := locale.Parse(raw)
		if err != nil {
			return nil, &ConfigError{Field: "DEFAULT_LOCALE", Message: err.Error()}
		}
		cfg.DefaultLocale = l
	}

	if raw := getenv("SEQUENCED_RESULTS"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &ConfigError{Field: "SEQUENCED_RESULTS", Message: "must be a boolean"}
		}
		cfg.SequencedResults = b
	}

	for _, b := range strings.Split(getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	return cfg, nil
}

// Validate re-checks an already-constructed Config and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "PORT", Message: "must be between 1 and 65535"})
	}
	switch c.RoutingEngine {
	case EngineValhalla:
		if c.ValhallaURL == "" {
			errs = append(errs, &ConfigError{Field: "VALHALLA_URL", Message: "required for the valhalla engine"})
		}
	case EngineGoogle:
		if c.GoogleAPIKey == "" {
			errs = append(errs, &ConfigError{Field: "GOOGLE_API_KEY", Message: "required for the google engine"})
		}
	case EngineStraightLine:
	default:
		errs = append(errs, &ConfigError{Field: "ROUTING_ENGINE", Message: fmt.Sprintf("unknown engine %q", c.RoutingEngine)})
	}
	if !c.DefaultCosting.IsValid() {
		errs = append(errs, &ConfigError{Field: "DEFAULT_COSTING", Message: fmt.Sprintf("unknown costing model %q", c.DefaultCosting)})
	}
	if c.DirectionsUnits != routing.UnitsMiles && c.DirectionsUnits != routing.UnitsKilometers {
		errs = append(errs, &ConfigError{Field: "DIRECTIONS_UNITS", Message: "must be miles or kilometers"})
	}
	if c.RoutingTimeout <= 0 {
		errs = append(errs, &ConfigError{Field: "ROUTING_TIMEOUT", Message: "must be positive"})
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, &ConfigError{Field: "KAFKA_TOPIC", Message: "required when KAFKA_BROKERS is set"})
	}
	return errors.Join(errs...)
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseIntEnv(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a valid integer"}
	}
	return v, nil
}

// parseDurationEnv accepts Go duration strings like "15m" or "24h".
func parseDurationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, &ConfigError{Field: key, Message: "must be a non-negative duration such as 30s or 15m"}
	}
	return d, nil
}
