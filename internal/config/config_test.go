package config

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" || cfg.Export.Driver != "sqlite" {
		t.Errorf("unexpected community backends: %s/%s/%s", cfg.Cache.Type, cfg.EventBus.Type, cfg.Export.Driver)
	}
}

func TestLoadProTierFromEnv(t *testing.T) {
	cfg, err := LoadWithEnv("", env(map[string]string{"KESTREL_TIER": "PRO"}))
	if err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}
	if cfg.Tier != domain.TierPro || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("expected pro backends, got %+v", cfg)
	}

	if _, err := LoadWithEnv("", env(map[string]string{"KESTREL_TIER": "gold"})); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown tier, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
tier: pro
server:
  port: 9090
cache:
  local_ttl: 2m
  redis_addr: redis.internal:6379
rate_limit:
  enabled: true
  rps: 2.5
  burst: 5
logging:
  format: text
`)

	cfg, err := LoadWithEnv(path, env(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}

	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier from file, got %s", cfg.Tier)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host to survive, got %s", cfg.Server.Host)
	}
	if cfg.Cache.LocalTTL != 2*time.Minute || cfg.Cache.RedisAddr != "redis.internal:6379" {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Cache.Type != "redis" {
		t.Errorf("expected pro cache type, got %s", cfg.Cache.Type)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 5 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected text logging, got %s", cfg.Logging.Format)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeFile(t, "server: [not, a, map]\n")
	if _, err := LoadWithEnv(path, env(nil)); err == nil {
		t.Error("expected error for malformed file")
	}

	path = writeFile(t, "cache:\n  type: memcached\n")
	if _, err := LoadWithEnv(path, env(nil)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown cache type, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")

	cfg, err := LoadWithEnv(path, env(map[string]string{
		"KESTREL_PORT":               "7070",
		"KESTREL_SQLITE_PATH":        "/tmp/out.db",
		"KESTREL_RATE_LIMIT_ENABLED": "false",
		"KESTREL_RATE_LIMIT_RPS":     "0",
		"KESTREL_ASYNC_JOBS":         "false",
		"KESTREL_LOG_LEVEL":          "WARN",
		"KESTREL_RULES_FILE":         "rules.yaml",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("env should win over file, got port %d", cfg.Server.Port)
	}
	if cfg.Export.SQLitePath != "/tmp/out.db" || cfg.Engine.RulesFile != "rules.yaml" {
		t.Errorf("unexpected overrides %+v %+v", cfg.Export, cfg.Engine)
	}
	if cfg.RateLimit.Enabled || cfg.Jobs.Enabled {
		t.Error("expected rate limit and jobs disabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn level, got %s", cfg.Logging.Level)
	}
}

func TestDebugOverride(t *testing.T) {
	cfg, err := LoadWithEnv("", env(map[string]string{
		"KESTREL_LOG_LEVEL": "error",
		"KESTREL_DEBUG":     "true",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestEnvErrors(t *testing.T) {
	tests := map[string]string{
		"KESTREL_PORT":           "eighty",
		"KESTREL_RATE_LIMIT_RPS": "fast",
		"KESTREL_ASYNC_JOBS":     "sometimes",
		"KESTREL_DEBUG":          "loud",
		"KESTREL_LOG_LEVEL":      "chatty",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWithEnv("", env(map[string]string{name: value}))
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*domain.Config)
	}{
		{"Port", func(c *domain.Config) { c.Server.Port = 70000 }},
		{"Driver", func(c *domain.Config) { c.Export.Driver = "mysql" }},
		{"Bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"RateLimit", func(c *domain.Config) { c.RateLimit.RPS = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.modify(cfg)
			if err := Validate(cfg); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if err := Validate(domain.ProConfig()); err != nil {
		t.Errorf("pro defaults should validate: %v", err)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := Logger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "module", "credit")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"module":"credit"`) {
		t.Errorf("unexpected json output %q", out)
	}

	buf.Reset()
	logger = Logger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("detail", "rows", 3)
	if !strings.Contains(buf.String(), "rows=3") {
		t.Errorf("unexpected text output %q", buf.String())
	}

	if !Logger(domain.LoggingConfig{}, &buf).Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default logger should enable info")
	}
}
