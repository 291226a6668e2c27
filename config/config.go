// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/warp/deposit-engine/bank"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime configuration for the server.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"deposits.db"`
	PGDSN       string `envconfig:"PG_DSN"`

	// RedisAddr empty means in-process locks (single instance only).
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"2m"`

	InterestAllowMidQuarterJoiners bool     `envconfig:"INTEREST_ALLOW_MID_QUARTER_JOINERS" default:"true"`
	FDEligiblePartyTypes           []string `envconfig:"FD_ELIGIBLE_PARTY_TYPES" default:"member"`

	SchedulerEnabled  bool          `envconfig:"SCHEDULER_ENABLED" default:"false"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h"`
	SchedulerActor    string        `envconfig:"SCHEDULER_ACTOR" default:"system:quarter-end"`

	RateLimitPerMinute int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("config: PG_DSN is required when STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("config: LOCK_TTL must be positive")
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		return fmt.Errorf("config: SCHEDULER_INTERVAL must be positive")
	}
	if _, err := c.PartyTypes(); err != nil {
		return err
	}
	return nil
}

// PartyTypes parses FD_ELIGIBLE_PARTY_TYPES.
func (c *Config) PartyTypes() ([]bank.PartyType, error) {
	out := make([]bank.PartyType, 0, len(c.FDEligiblePartyTypes))
	for _, raw := range c.FDEligiblePartyTypes {
		switch t := bank.PartyType(strings.TrimSpace(strings.ToLower(raw))); t {
		case bank.PartyMember, bank.PartyAssociate:
			out = append(out, t)
		case "":
		default:
			return nil, fmt.Errorf("config: unknown party type %q in FD_ELIGIBLE_PARTY_TYPES", raw)
		}
	}
	return out, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// NewLogger builds the process logger: JSON when LOG_FORMAT=json, text otherwise.
func NewLogger(c *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if c != nil {
		_ = level.UnmarshalText([]byte(c.LogLevel))
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: c.IsProduction()}
	if c != nil && c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
