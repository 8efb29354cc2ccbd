// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds all runtime settings for the settlement engine.
type Config struct {
	// --- HTTP ---
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// --- Database ---
	// Empty DATABASE_URL runs the service on the in-memory store.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// --- Redis cache ---
	// Empty REDIS_URL disables the read-through cache.
	RedisURL string        `envconfig:"REDIS_URL"`
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// --- Application ---
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	FundName string `envconfig:"FUND_NAME" default:"clan"`

	// --- Distribution policy defaults ---
	// Applied when a finalize request omits the corresponding field.
	BonusWindowDays   int `envconfig:"BONUS_WINDOW_DAYS" default:"7"`
	DecayHalfLifeDays int `envconfig:"DECAY_HALF_LIFE_DAYS" default:"7"`

	BaseMultiplierRaw  string `envconfig:"BASE_MULTIPLIER" default:"1"`
	CapMultiplierRaw   string `envconfig:"CAP_MULTIPLIER" default:"1.30"`
	FloorMultiplierRaw string `envconfig:"FLOOR_MULTIPLIER" default:"0.70"`
	LinearSlopeRaw     string `envconfig:"LINEAR_SLOPE" default:"0"`
	LinearInterceptRaw string `envconfig:"LINEAR_INTERCEPT" default:"1"`
	LogisticKRaw       string `envconfig:"LOGISTIC_K" default:"0.8"`
	LogisticX0Raw      string `envconfig:"LOGISTIC_X0" default:"3.0"`

	// Parsed forms of the *Raw fields above.
	BaseMultiplier  decimal.Decimal `envconfig:"-"`
	CapMultiplier   decimal.Decimal `envconfig:"-"`
	FloorMultiplier decimal.Decimal `envconfig:"-"`
	LinearSlope     decimal.Decimal `envconfig:"-"`
	LinearIntercept decimal.Decimal `envconfig:"-"`
	LogisticK       decimal.Decimal `envconfig:"-"`
	LogisticX0      decimal.Decimal `envconfig:"-"`
}

// Load reads environment variables and fills a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"BASE_MULTIPLIER", cfg.BaseMultiplierRaw, &cfg.BaseMultiplier},
		{"CAP_MULTIPLIER", cfg.CapMultiplierRaw, &cfg.CapMultiplier},
		{"FLOOR_MULTIPLIER", cfg.FloorMultiplierRaw, &cfg.FloorMultiplier},
		{"LINEAR_SLOPE", cfg.LinearSlopeRaw, &cfg.LinearSlope},
		{"LINEAR_INTERCEPT", cfg.LinearInterceptRaw, &cfg.LinearIntercept},
		{"LOGISTIC_K", cfg.LogisticKRaw, &cfg.LogisticK},
		{"LOGISTIC_X0", cfg.LogisticX0Raw, &cfg.LogisticX0},
	} {
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: bad decimal %q: %w", field.name, field.raw, err)
		}
		*field.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be > 0")
	}
	if c.BonusWindowDays < 0 {
		return fmt.Errorf("BONUS_WINDOW_DAYS must be >= 0")
	}
	if c.DecayHalfLifeDays < 0 {
		return fmt.Errorf("DECAY_HALF_LIFE_DAYS must be >= 0")
	}
	if c.CapMultiplier.LessThan(c.FloorMultiplier) {
		return fmt.Errorf("CAP_MULTIPLIER below FLOOR_MULTIPLIER")
	}
	return nil
}
