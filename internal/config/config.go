// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/records-resolver/internal/fleet"
	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/resolve"
	"github.com/JakeFAU/records-resolver/internal/signals"
	"github.com/JakeFAU/records-resolver/internal/source"
	"github.com/JakeFAU/records-resolver/internal/storage/gcs"
	"github.com/JakeFAU/records-resolver/internal/storage/local"
	"github.com/JakeFAU/records-resolver/internal/storage/postgres"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig                         `mapstructure:"server"`
	Auth          AuthConfig                           `mapstructure:"auth"`
	Logging       LoggingConfig                        `mapstructure:"logging"`
	Telemetry     TelemetryConfig                      `mapstructure:"telemetry"`
	Database      DatabaseConfig                       `mapstructure:"database"`
	Storage       StorageConfig                        `mapstructure:"storage"`
	PubSub        PubSubConfig                         `mapstructure:"pubsub"`
	HTTP          HTTPConfig                           `mapstructure:"http"`
	Fleet         fleet.Config                         `mapstructure:"fleet"`
	Resolution    resolve.Config                       `mapstructure:"resolution"`
	Signals       signals.Thresholds                   `mapstructure:"signals"`
	Scoring       signals.ScoringConfig                `mapstructure:"scoring"`
	Jurisdictions map[string]source.JurisdictionConfig `mapstructure:"jurisdictions"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the trigger endpoints with a static API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls the OpenTelemetry tracer provider.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DatabaseConfig selects the store gateway.
type DatabaseConfig struct {
	Driver   string          `mapstructure:"driver"`
	Postgres postgres.Config `mapstructure:"postgres"`
	// Migrate applies pending schema migrations on startup.
	Migrate bool `mapstructure:"migrate"`
}

// StorageConfig selects where raw source payloads are archived.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	Local   local.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for score-change notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HTTPConfig configures outbound source calls.
type HTTPConfig struct {
	UserAgent      string           `mapstructure:"user_agent"`
	MaxBodyBytes   int64            `mapstructure:"max_body_bytes"`
	Policy         ratelimit.Policy `mapstructure:"policy"`
	MaxRetries     int              `mapstructure:"max_retries"`
	BackoffInitial time.Duration    `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration    `mapstructure:"backoff_max"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "records-resolver")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.postgres.max_conns", 10)
	v.SetDefault("storage.backend", ArchiveNone)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("pubsub.topic", "entity-scores")
	v.SetDefault("http.user_agent", "records-resolver/0.1")
	v.SetDefault("http.policy.requests_per_minute", 30)
	v.SetDefault("http.policy.delay", "500ms")
	v.SetDefault("http.policy.timeout", "30s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial", "250ms")
	v.SetDefault("http.backoff_max", "5s")
	v.SetDefault("fleet.pause", "2s")
	v.SetDefault("fleet.parallelism", 1)
	v.SetDefault("resolution.confidence_policy", string(resolve.PolicyMax))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Database.Driver)
	}
	switch c.Storage.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic are required when pubsub is enabled")
	}
	if c.HTTP.Policy.RequestsPerMinute < 0 || c.HTTP.Policy.Delay < 0 || c.HTTP.Policy.Timeout <= 0 {
		return fmt.Errorf("http.policy needs a positive timeout and non-negative rate and delay")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Fleet.Parallelism < 0 || c.Fleet.Pause < 0 {
		return fmt.Errorf("fleet.parallelism and fleet.pause must be >= 0")
	}
	if _, err := resolve.ParsePolicy(c.Resolution.ConfidencePolicy); err != nil {
		return fmt.Errorf("resolution.confidence_policy: %w", err)
	}
	if _, err := signals.NewScorer(c.Scoring); err != nil {
		return err
	}
	for _, id := range c.JurisdictionIDs() {
		if err := validateJurisdiction(id, c.Jurisdictions[id]); err != nil {
			return err
		}
	}
	return nil
}

func validateJurisdiction(id string, j source.JurisdictionConfig) error {
	sources := map[string]*source.SourceConfig{
		"properties":    j.Properties,
		"documents":     j.Documents,
		"court_cases":   j.CourtCases,
		"professionals": j.Professionals,
	}
	configured := 0
	for phase, sc := range sources {
		if sc == nil {
			continue
		}
		configured++
		if sc.Kind == "" {
			return fmt.Errorf("jurisdictions.%s.%s.kind is required", id, phase)
		}
	}
	if configured == 0 {
		return fmt.Errorf("jurisdictions.%s configures no sources", id)
	}
	return nil
}

// JurisdictionIDs returns the configured jurisdiction ids, sorted.
func (c Config) JurisdictionIDs() []string {
	ids := make([]string, 0, len(c.Jurisdictions))
	for id := range c.Jurisdictions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
