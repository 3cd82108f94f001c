// Package config loads the rover configuration.
//
// Configuration comes from a YAML file checked against an embedded CUE
// schema, then from the environment (ROVER_* and the standard OTEL_*
// variables), with a .env file loaded first in development.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Duration is a time.Duration written as a Go duration string ("5m").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	Env      string          `yaml:"env"`
	Database DatabaseConfig  `yaml:"database"`
	Source   SourceConfig    `yaml:"source"`
	Engine   EngineConfig    `yaml:"engine"`
	Admin    AdminConfig     `yaml:"admin"`
	OTel     OTelConfig      `yaml:"otel"`
	Handlers []HandlerConfig `yaml:"handlers"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SourceConfig struct {
	// Type is "redis" or "memory".
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	URL      string   `yaml:"url"`
	Prefix   string   `yaml:"prefix"`
	Group    string   `yaml:"group"`
	Consumer string   `yaml:"consumer"`
	Block    Duration `yaml:"block"`
}

type EngineConfig struct {
	// Schedule is the cron spec of scheduler ticks.
	Schedule    string      `yaml:"schedule"`
	CallTimeout Duration    `yaml:"call_timeout"`
	Retention   Duration    `yaml:"retention"`
	ErrorPause  Duration    `yaml:"error_pause"`
	MarkRead    bool        `yaml:"mark_read"`
	Retry       RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	Multiplier      float64  `yaml:"multiplier"`
	MaxInterval     Duration `yaml:"max_interval"`
}

type AdminConfig struct {
	// Addr is the listen address of the admin API. Empty disables it.
	Addr string `yaml:"addr"`
}

type OTelConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Headers        string `yaml:"headers"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// HandlerConfig is one entry of the ordered handler list.
type HandlerConfig struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// Username returns the account option of the handler, if any.
func (h HandlerConfig) Username() string {
	if s, ok := h.Options["username"].(string); ok {
		return s
	}
	return ""
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Env:      "development",
		Database: DatabaseConfig{Path: "rover.db"},
		Source: SourceConfig{
			Type: "redis",
			Redis: RedisConfig{
				URL:      "redis://localhost:6379/0",
				Prefix:   "rover",
				Group:    "rover",
				Consumer: "rover-1",
				Block:    Duration(5 * time.Second),
			},
		},
		Engine: EngineConfig{
			Schedule:    "@every 5m",
			CallTimeout: Duration(30 * time.Second),
			Retention:   Duration(30 * 24 * time.Hour),
			ErrorPause:  Duration(time.Second),
			MarkRead:    true,
			Retry: RetryConfig{
				MaxAttempts:     4,
				InitialInterval: Duration(time.Second),
				Multiplier:      2,
				MaxInterval:     Duration(30 * time.Second),
			},
		},
		OTel: OTelConfig{
			ServiceName:    "rover",
			ServiceVersion: "dev",
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads the configuration file at path (optional when empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	if getEnv("ROVER_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults. The document is
// checked against the schema first, then decoded strictly.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := checkSchema(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func checkSchema(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("ROVER_ENV", cfg.Env)
	cfg.Database.Path = getEnv("ROVER_DATABASE_PATH", cfg.Database.Path)
	cfg.Source.Type = getEnv("ROVER_SOURCE", cfg.Source.Type)
	cfg.Source.Redis.URL = getEnv("ROVER_REDIS_URL", cfg.Source.Redis.URL)
	cfg.Source.Redis.Consumer = getEnv("ROVER_REDIS_CONSUMER", cfg.Source.Redis.Consumer)
	cfg.Engine.Schedule = getEnv("ROVER_SCHEDULE", cfg.Engine.Schedule)
	cfg.Engine.Retry.MaxAttempts = getEnvInt("ROVER_RETRY_MAX_ATTEMPTS", cfg.Engine.Retry.MaxAttempts)
	cfg.Admin.Addr = getEnv("ROVER_ADMIN_ADDR", cfg.Admin.Addr)
	cfg.OTel.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.Headers = getEnv("OTEL_EXPORTER_OTLP_HEADERS", cfg.OTel.Headers)
	cfg.OTel.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.OTel.ServiceName)
	cfg.OTel.ServiceVersion = getEnv("OTEL_SERVICE_VERSION", cfg.OTel.ServiceVersion)
}

// Validate checks values the schema cannot express.
func (c Config) Validate() error {
	switch c.Source.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("source.type %q must be redis or memory", c.Source.Type)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := ParseSchedule(c.Engine.Schedule); err != nil {
		return fmt.Errorf("engine.schedule: %w", err)
	}
	if c.Engine.Retry.MaxAttempts < 1 {
		return errors.New("engine.retry.max_attempts must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 {
		return errors.New("engine.call_timeout must be positive")
	}
	return nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron spec or a descriptor such as
// "@every 5m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
