// Package config assembles the Kestrel configuration from tier defaults,
// an optional YAML file and KESTREL_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Load reads the configuration from the process environment.
func Load(path string) (*domain.Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv starts from the defaults of the tier named by KESTREL_TIER or
// the file's tier field, overlays the YAML file at path when path is not
// empty, then applies environment overrides.
func LoadWithEnv(path string, getenv func(string) string) (*domain.Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		data = b
	}

	tier := domain.Tier(strings.ToLower(getenv(EnvPrefix + "TIER")))
	if tier == "" && len(data) > 0 {
		var peek struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(data, &peek); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		tier = peek.Tier
	}

	cfg, err := Defaults(tier)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.Tier = tier
		if cfg.Tier == "" {
			cfg.Tier = domain.TierCommunity
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration of a tier. The empty tier is
// community.
func Defaults(tier domain.Tier) (*domain.Config, error) {
	switch tier {
	case "", domain.TierCommunity:
		return domain.DefaultConfig(), nil
	case domain.TierPro:
		return domain.ProConfig(), nil
	default:
		return nil, fmt.Errorf("%w: tier %q", domain.ErrInvalidInput, tier)
	}
}

// override applies one environment value to the configuration.
type override func(cfg *domain.Config, v string) error

func str(set func(*domain.Config, string)) override {
	return func(cfg *domain.Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func integer(set func(*domain.Config, int)) override {
	return func(cfg *domain.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func float(set func(*domain.Config, float64)) override {
	return func(cfg *domain.Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		set(cfg, f)
		return nil
	}
}

func boolean(set func(*domain.Config, bool)) override {
	return func(cfg *domain.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(cfg, b)
		return nil
	}
}

// overrides maps variable names, without the prefix, to their setters.
var overrides = map[string]override{
	"HOST":          str(func(c *domain.Config, v string) { c.Server.Host = v }),
	"PORT":          integer(func(c *domain.Config, n int) { c.Server.Port = n }),
	"MAX_UPLOAD_MB": integer(func(c *domain.Config, n int) { c.Server.MaxUploadMB = n }),

	"MAX_WORKERS": integer(func(c *domain.Config, n int) { c.Engine.MaxWorkers = n }),
	"RULES_FILE":  str(func(c *domain.Config, v string) { c.Engine.RulesFile = v }),

	"EXPORT_DRIVER":     str(func(c *domain.Config, v string) { c.Export.Driver = v }),
	"EXPORT_TABLE":      str(func(c *domain.Config, v string) { c.Export.Table = v }),
	"SQLITE_PATH":       str(func(c *domain.Config, v string) { c.Export.SQLitePath = v }),
	"POSTGRES_HOST":     str(func(c *domain.Config, v string) { c.Export.PostgresHost = v }),
	"POSTGRES_PORT":     integer(func(c *domain.Config, n int) { c.Export.PostgresPort = n }),
	"POSTGRES_USER":     str(func(c *domain.Config, v string) { c.Export.PostgresUser = v }),
	"POSTGRES_PASSWORD": str(func(c *domain.Config, v string) { c.Export.PostgresPassword = v }),
	"POSTGRES_DB":       str(func(c *domain.Config, v string) { c.Export.PostgresDB = v }),
	"POSTGRES_SSLMODE":  str(func(c *domain.Config, v string) { c.Export.PostgresSSLMode = v }),

	"CACHE_TYPE":     str(func(c *domain.Config, v string) { c.Cache.Type = v }),
	"REDIS_ADDR":     str(func(c *domain.Config, v string) { c.Cache.RedisAddr = v }),
	"REDIS_PASSWORD": str(func(c *domain.Config, v string) { c.Cache.RedisPassword = v }),
	"REDIS_DB":       integer(func(c *domain.Config, n int) { c.Cache.RedisDB = n }),

	"BUS_TYPE":   str(func(c *domain.Config, v string) { c.EventBus.Type = v }),
	"NATS_URL":   str(func(c *domain.Config, v string) { c.EventBus.NATSUrl = v }),
	"NATS_TOKEN": str(func(c *domain.Config, v string) { c.EventBus.NATSToken = v }),
	"NATS_QUEUE": str(func(c *domain.Config, v string) { c.EventBus.NATSQueue = v }),

	"RATE_LIMIT_ENABLED": boolean(func(c *domain.Config, b bool) { c.RateLimit.Enabled = b }),
	"RATE_LIMIT_RPS":     float(func(c *domain.Config, f float64) { c.RateLimit.RPS = f }),
	"RATE_LIMIT_BURST":   integer(func(c *domain.Config, n int) { c.RateLimit.Burst = n }),

	"ASYNC_JOBS":      boolean(func(c *domain.Config, b bool) { c.Jobs.Enabled = b }),
	"JOB_RESULT_TTL":  integer(func(c *domain.Config, n int) { c.Jobs.ResultTTL = n }),
	"LOG_LEVEL":       str(func(c *domain.Config, v string) { c.Logging.Level = strings.ToLower(v) }),
	"LOG_FORMAT":      str(func(c *domain.Config, v string) { c.Logging.Format = strings.ToLower(v) }),
	"TRACING_ENABLED": boolean(func(c *domain.Config, b bool) { c.Tracing.Enabled = b }),
}

func applyEnv(cfg *domain.Config, getenv func(string) string) error {
	for name, apply := range overrides {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		if v == "" {
			continue
		}
		if err := apply(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", domain.ErrInvalidInput, EnvPrefix, name, v, err)
		}
	}

	// KESTREL_DEBUG wins over KESTREL_LOG_LEVEL.
	if v := getenv(EnvPrefix + "DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sDEBUG=%q", domain.ErrInvalidInput, EnvPrefix, v)
		}
		if debug {
			cfg.Logging.Level = "debug"
		}
	}
	return nil
}

// Validate checks the values that would otherwise fail late at startup.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d", domain.ErrInvalidInput, cfg.Server.Port)
	}
	switch cfg.Export.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: export driver %q", domain.ErrInvalidInput, cfg.Export.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: cache type %q", domain.ErrInvalidInput, cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("%w: event bus type %q", domain.ErrInvalidInput, cfg.EventBus.Type)
	}
	if _, err := level(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return fmt.Errorf("%w: rate limit rps must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// Logger builds the structured logger described by cfg.
func Logger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	lvl, err := level(cfg.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func level(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", domain.ErrInvalidInput, name)
	}
}
