package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which infrastructure backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Export    ExportConfig    `json:"export" yaml:"export"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	EventBus  EventBusConfig  `json:"eventBus" yaml:"event_bus"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rate_limit"`
	Jobs      JobsConfig      `json:"jobs" yaml:"jobs"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
	MaxUploadMB  int    `json:"maxUploadMb" yaml:"max_upload_mb"`
}

// EngineConfig controls the scoring engine.
type EngineConfig struct {
	MaxWorkers int `json:"maxWorkers" yaml:"max_workers"`
	// RulesFile optionally replaces built-in rule sets with YAML definitions.
	RulesFile string `json:"rulesFile" yaml:"rules_file"`
}

// ExportConfig selects the SQL sink used by table exports.
type ExportConfig struct {
	Driver     string `json:"driver" yaml:"driver"` // sqlite, postgres
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`
	Table      string `json:"table" yaml:"table"`

	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	RPS     float64 `json:"rps" yaml:"rps"`
	Burst   int     `json:"burst" yaml:"burst"`
}

// JobsConfig controls asynchronous analysis jobs.
type JobsConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	ResultTTL int  `json:"resultTtl" yaml:"result_ttl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on in-process cache and channels
	TierCommunity Tier = "community"

	// TierPro uses Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			MaxUploadMB:  32,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			MaxWorkers: 32,
		},
		Export: ExportConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel-export.db",
			Table:      "scored_entities",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     10 * time.Minute,
			ResultTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 64,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     10,
			Burst:   20,
		},
		Jobs: JobsConfig{
			Enabled:   true,
			ResultTTL: 3600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Export = ExportConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
		Table:        "scored_entities",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   128,
		LocalTTL:       5 * time.Minute,
		ResultTTL:      24 * time.Hour,
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueue:         "kestrel-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
