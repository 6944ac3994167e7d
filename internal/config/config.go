// Package config loads layered configuration: defaults, an optional YAML
// file, then MOVIEREC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before mapping them to keys.
const EnvPrefix = "MOVIEREC_"

// PathEnvVar overrides the config file location.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{"movierec.yaml", "movierec.yml", "/etc/movierec/config.yaml"}

// UI modes.
const (
	ModeWeb      = "web"
	ModeTerminal = "terminal"
)

// Cache drivers.
const (
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Backend BackendConfig `koanf:"backend"`
	Posters PostersConfig `koanf:"posters"`
	Cache   CacheConfig   `koanf:"cache"`
	Logging LoggingConfig `koanf:"logging"`
	UI      UIConfig      `koanf:"ui"`
}

// ServerConfig configures the web presentation.
type ServerConfig struct {
	Addr        string        `koanf:"addr" validate:"required"`
	SessionIdle time.Duration `koanf:"session_idle" validate:"gt=0"`
	RateLimit   int           `koanf:"rate_limit" validate:"gte=0"` // requests per minute per IP, 0 disables
}

// BackendConfig configures the movie service client.
type BackendConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	Rate    float64       `koanf:"rate" validate:"gt=0"` // requests per second
	Burst   int           `koanf:"burst" validate:"gte=1"`
}

// PostersConfig configures poster URLs and the terminal poster loader.
type PostersConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required,url"`
	Concurrency int           `koanf:"concurrency" validate:"gte=1"`
	Delay       time.Duration `koanf:"delay" validate:"gte=0"`
}

// CacheConfig configures the optional search response cache.
type CacheConfig struct {
	Driver        string        `koanf:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN           string        `koanf:"dsn" validate:"required_with=Driver"`
	TTL           time.Duration `koanf:"ttl" validate:"gt=0"`
	PurgeInterval time.Duration `koanf:"purge_interval" validate:"gt=0"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	File   string `koanf:"file"`
}

// UIConfig selects the presentation.
type UIConfig struct {
	Mode string `koanf:"mode" validate:"oneof=web terminal"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			SessionIdle: 30 * time.Minute,
			RateLimit:   600,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 10 * time.Second,
			Rate:    10,
			Burst:   5,
		},
		Posters: PostersConfig{
			BaseURL:     "https://image.tmdb.org/t/p/original",
			Concurrency: 4,
			Delay:       100 * time.Millisecond,
		},
		Cache: CacheConfig{
			Driver:        "",
			DSN:           "file::memory:?cache=shared",
			TTL:           10 * time.Minute,
			PurgeInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		UI: UIConfig{
			Mode: ModeWeb,
		},
	}
}

// Load reads defaults, then the config file if one exists, then the environment.
func Load() (*Config, error) {
	return load(findFile())
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envKey maps MOVIEREC_BACKEND_BASE_URL to backend.base_url.
// The config file path variable is not a config key and is skipped.
func envKey(key string) string {
	if key == PathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
