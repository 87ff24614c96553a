// Package config loads gateway configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when no config file is named. A missing file is fine.
const DefaultPath = "config.yaml"

// EnvPrefix namespaces structured environment overrides:
// SOCRATIC_SERVER__PORT sets server.port.
const EnvPrefix = "SOCRATIC_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Auth      AuthConfig      `koanf:"auth"`
	Providers ProvidersConfig `koanf:"providers"`
	Tools     ToolsConfig     `koanf:"tools"`
	Storage   StorageConfig   `koanf:"storage"`
	Chat      ChatConfig      `koanf:"chat"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=0,max=65535"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type CORSConfig struct {
	// AllowedOrigins is the origin allow-list. ALLOWED_ORIGIN supplies it as
	// a comma-separated string.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type RateLimitConfig struct {
	Window        time.Duration `koanf:"window" validate:"gt=0"`
	Max           int           `koanf:"max" validate:"min=1"`
	PruneInterval time.Duration `koanf:"prune_interval" validate:"gt=0"`
	HighWater     int           `koanf:"high_water" validate:"min=1"`
	// ConversationsMax is the per-principal budget for the conversations API.
	ConversationsMax int `koanf:"conversations_max" validate:"min=1"`
}

type AuthConfig struct {
	Mode          string `koanf:"mode" validate:"oneof=secret jwt"`
	Secret        string `koanf:"secret"`
	AllowOpen     bool   `koanf:"allow_open"`
	JWTSecret     string `koanf:"jwt_secret" validate:"required_if=Mode jwt"`
	JWTIssuer     string `koanf:"jwt_issuer"`
	SessionCookie string `koanf:"session_cookie"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `koanf:"anthropic"`
	OpenAI    ProviderConfig `koanf:"openai"`
}

type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
}

type ToolsConfig struct {
	TavilyAPIKey  string  `koanf:"tavily_api_key"`
	TavilyBaseURL string  `koanf:"tavily_base_url" validate:"omitempty,url"`
	SearchRPS     float64 `koanf:"search_rps" validate:"gte=0"`
}

type StorageConfig struct {
	Type   string       `koanf:"type" validate:"oneof=sqlite memory"`
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type ChatConfig struct {
	MaxSteps        int `koanf:"max_steps" validate:"min=1,max=20"`
	MaxTokens       int `koanf:"max_tokens" validate:"gte=0"`
	ToolConcurrency int `koanf:"tool_concurrency" validate:"min=1"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// defaults apply to any key no source sets.
var defaults = map[string]any{
	"server.port":                 8080,
	"server.request_timeout":      "5m",
	"server.shutdown_timeout":     "30s",
	"ratelimit.window":            "60s",
	"ratelimit.max":               20,
	"ratelimit.prune_interval":    "60s",
	"ratelimit.high_water":        10000,
	"ratelimit.conversations_max": 120,
	"auth.mode":                   "secret",
	"storage.type":                "sqlite",
	"storage.sqlite.path":         "./data/socratic.db",
	"chat.max_steps":              5,
	"chat.max_tokens":             4096,
	"chat.tool_concurrency":       4,
	"tools.search_rps":            5,
	"telemetry.service_name":      "socratic-gateway",
}

// wellKnownEnv maps the unprefixed variable names of existing deployments
// onto config keys.
var wellKnownEnv = map[string]string{
	"ALLOWED_ORIGIN":    "cors.allowed_origins",
	"ANTHROPIC_API_KEY": "providers.anthropic.api_key",
	"OPENAI_API_KEY":    "providers.openai.api_key",
	"TAVILY_API_KEY":    "tools.tavily_api_key",
	"API_SECRET":        "auth.secret",
	"ALLOW_OPEN_API":    "auth.allow_open",
	"DATABASE_PATH":     "storage.sqlite.path",
	"AUTH_JWT_SECRET":   "auth.jwt_secret",
}

// Load reads the YAML file at path (DefaultPath when empty), then SOCRATIC_
// variables, then the well-known variables. Later sources win and defaults
// fill the rest. The result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		target, ok := wellKnownEnv[key]
		if !ok || value == "" {
			return "", nil
		}
		if target == "cors.allowed_origins" {
			return target, splitList(value)
		}
		return target, value
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		return errors.New("invalid config: storage.sqlite.path is required for sqlite storage")
	}
	return nil
}

// Address is the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
