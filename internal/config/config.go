package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Database DatabaseConfig `yaml:"database"`
	Replay   ReplayConfig   `yaml:"replay"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// RemoteConfig locates the authoritative source.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ReplayConfig tunes the replay of queued writes.
type ReplayConfig struct {
	Interval      Duration `yaml:"interval"`
	ProbeInterval Duration `yaml:"probe_interval"`
	Concurrency   int      `yaml:"concurrency"`
	Lease         Duration `yaml:"lease"`
}

// ServerConfig contains settings of the reference remote server.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// IdempotencyRetention is how long recorded write responses are kept.
	// Zero keeps them forever.
	IdempotencyRetention Duration `yaml:"idempotency_retention"`
	PruneInterval        Duration `yaml:"prune_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// The file is PANTRY_CONFIG_PATH, or config/pantry.yaml; a missing file is
// not an error.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("PANTRY_CONFIG_PATH", "config/pantry.yaml")
	if err := loadYAMLFile(cfg, configPath, true); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, path, false); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL: "http://localhost:1337",
			Timeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/pantry.db",
		},
		Replay: ReplayConfig{
			Interval:      Duration(1 * time.Minute),
			ProbeInterval: Duration(15 * time.Second),
			Concurrency:   4,
			Lease:         Duration(2 * time.Minute),
		},
		Server: ServerConfig{
			Port:            1337,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),

			IdempotencyRetention: Duration(7 * 24 * time.Hour),
			PruneInterval:        Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadYAMLFile(cfg *Config, path string, missingOK bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if missingOK && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies PANTRY_* overrides. Only non-empty, parseable
// values override.
func applyEnvOverrides(cfg *Config) {
	envString("PANTRY_REMOTE_URL", &cfg.Remote.BaseURL)
	envDuration("PANTRY_REMOTE_TIMEOUT", &cfg.Remote.Timeout)

	envString("PANTRY_DB_PATH", &cfg.Database.Path)

	envDuration("PANTRY_REPLAY_INTERVAL", &cfg.Replay.Interval)
	envDuration("PANTRY_PROBE_INTERVAL", &cfg.Replay.ProbeInterval)
	envInt("PANTRY_REPLAY_CONCURRENCY", &cfg.Replay.Concurrency)
	envDuration("PANTRY_REPLAY_LEASE", &cfg.Replay.Lease)

	envInt("PANTRY_PORT", &cfg.Server.Port)
	envDuration("PANTRY_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("PANTRY_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("PANTRY_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envDuration("PANTRY_IDEMPOTENCY_RETENTION", &cfg.Server.IdempotencyRetention)
	envDuration("PANTRY_PRUNE_INTERVAL", &cfg.Server.PruneInterval)

	envString("PANTRY_LOG_LEVEL", &cfg.Log.Level)
	envString("PANTRY_LOG_FORMAT", &cfg.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	var errs []error

	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url %q must be an http(s) URL", c.Remote.BaseURL))
		}
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Replay.Interval < 0 || c.Replay.ProbeInterval < 0 {
		errs = append(errs, errors.New("replay intervals must not be negative"))
	}
	if c.Replay.Concurrency < 1 {
		errs = append(errs, errors.New("replay.concurrency must be at least 1"))
	}
	if c.Replay.Lease <= 0 {
		errs = append(errs, errors.New("replay.lease must be positive"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.IdempotencyRetention < 0 {
		errs = append(errs, errors.New("server.idempotency_retention must not be negative"))
	}
	if c.Server.IdempotencyRetention > 0 && c.Server.PruneInterval <= 0 {
		errs = append(errs, errors.New("server.prune_interval must be positive when retention is set"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
