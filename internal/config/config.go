package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/samber/oops"
)

const DefaultPath = "config/config.toml"

type ServerConfig struct {
	Port        string   `toml:"port" validate:"required,numeric"`
	APIKey      string   `toml:"api_key" validate:"required"`
	CORSOrigins []string `toml:"cors_origins"`
}

type StoreConfig struct {
	Backend   string `toml:"backend" validate:"oneof=memory memgraph postgres sqlite"`
	TimeoutMs int    `toml:"timeout_ms" validate:"gt=0"`
}

func (s StoreConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

type MemgraphConfig struct {
	URI         string `toml:"uri" validate:"required_if=Enabled true"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	Database    string `toml:"database"`
	Dialect     string `toml:"dialect" validate:"omitempty,oneof=memgraph neo4j"`
	MaxPoolSize int    `toml:"max_pool_size" validate:"gte=0"`
	Enabled     bool   `toml:"-"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn" validate:"required_if=Enabled true"`
	MaxConns int32  `toml:"max_conns" validate:"gte=0"`
	Migrate  bool   `toml:"migrate"`
	Enabled  bool   `toml:"-"`
}

type SQLiteConfig struct {
	Path    string `toml:"path" validate:"required_if=Enabled true"`
	Enabled bool   `toml:"-"`
}

type LockConfig struct {
	Backend string `toml:"backend" validate:"oneof=local redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr" validate:"required_if=Enabled true"`
	Password string `toml:"password"`
	DB       int    `toml:"db" validate:"gte=0"`
	TTLMs    int    `toml:"ttl_ms" validate:"required_if=Enabled true,gte=0"`
	Enabled  bool   `toml:"-"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLMs) * time.Millisecond
}

type EngineConfig struct {
	Concurrency int `toml:"concurrency" validate:"gt=0"`
}

type LLMConfig struct {
	Provider string `toml:"provider" validate:"omitempty,oneof=openai ollama claude gemini"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url" validate:"omitempty,url"`
}

type ExtractionPrompts struct {
	Entities string `toml:"entities"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
}

type TelemetryConfig struct {
	Exporter    string `toml:"exporter" validate:"oneof=none stdout otlp"`
	ServiceName string `toml:"service_name"`
}

type Config struct {
	Server     ServerConfig      `toml:"server"`
	Store      StoreConfig       `toml:"store"`
	Memgraph   MemgraphConfig    `toml:"memgraph"`
	Postgres   PostgresConfig    `toml:"postgres"`
	SQLite     SQLiteConfig      `toml:"sqlite"`
	Lock       LockConfig        `toml:"lock"`
	Redis      RedisConfig       `toml:"redis"`
	Engine     EngineConfig      `toml:"engine"`
	LLM        LLMConfig         `toml:"llm"`
	Extraction ExtractionPrompts `toml:"extraction"`
	Log        LogConfig         `toml:"log"`
	Telemetry  TelemetryConfig   `toml:"telemetry"`
}

func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080"},
		Store:     StoreConfig{Backend: "memory", TimeoutMs: 5000},
		Memgraph:  MemgraphConfig{URI: "bolt://localhost:7687", Dialect: "memgraph"},
		SQLite:    SQLiteConfig{Path: "entitynet.db"},
		Lock:      LockConfig{Backend: "local"},
		Redis:     RedisConfig{Addr: "localhost:6379", TTLMs: 30000},
		Engine:    EngineConfig{Concurrency: 8},
		Log:       LogConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{Exporter: "none", ServiceName: "entitynet"},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// allowMissing is set; the environment can carry the whole configuration.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case allowMissing && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with environment variables. A numeric
// variable that does not parse is an error.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("API_KEY", &c.Server.APIKey)
	str("STORE_BACKEND", &c.Store.Backend)
	str("MEMGRAPH_URI", &c.Memgraph.URI)
	str("MEMGRAPH_USER", &c.Memgraph.User)
	str("MEMGRAPH_PASSWORD", &c.Memgraph.Password)
	str("DATABASE_URL", &c.Postgres.DSN)
	str("SQLITE_PATH", &c.SQLite.Path)
	str("LOCK_BACKEND", &c.Lock.Backend)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("TELEMETRY_EXPORTER", &c.Telemetry.Exporter)

	if v := getenv("STORE_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return oops.In("config").Code("invalid_env").With("STORE_TIMEOUT_MS", v).Wrapf(err, "STORE_TIMEOUT_MS must be an integer")
		}
		c.Store.TimeoutMs = n
	}
	return nil
}

// Validate checks the configuration for the selected backends only.
func (c *Config) Validate() error {
	c.Memgraph.Enabled = c.Store.Backend == "memgraph"
	c.Postgres.Enabled = c.Store.Backend == "postgres"
	c.SQLite.Enabled = c.Store.Backend == "sqlite"
	c.Redis.Enabled = c.Lock.Backend == "redis"

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return oops.In("config").Code("invalid_config").Wrapf(err, "invalid configuration")
	}
	return nil
}
