// Package config loads suitetree settings from defaults, an optional YAML
// file and SUITETREE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	logging "github.com/hanpama/suitetree/internal/logging"
)

// DefaultFile is loaded when no explicit path is given and it exists.
const DefaultFile = "suitetree.yaml"

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys: SUITETREE_LOG__LEVEL sets log.level.
const EnvPrefix = "SUITETREE_"

// ErrInvalid is returned when a loaded value is out of range.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	MaxConcurrency int           `koanf:"max_concurrency"`
	Timeout        time.Duration `koanf:"timeout"`
	Log            Log           `koanf:"log"`
	Output         Output        `koanf:"output"`
	Otel           Otel          `koanf:"otel"`
	Server         Server        `koanf:"server"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Output struct {
	Format string `koanf:"format"`
	Color  bool   `koanf:"color"`
}

type Otel struct {
	Endpoint string `koanf:"endpoint"`
	Service  string `koanf:"service"`
}

type Server struct {
	Addr         string        `koanf:"addr"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
	// Token, when set, must be sent as a bearer token to run manifests.
	Token        string        `koanf:"token"`
}

// Defaults returns the built-in values keyed by their dotted path.
func Defaults() map[string]any {
	return map[string]any{
		"max_concurrency":       5,
		"timeout":               5 * time.Second,
		"log.level":             "info",
		"log.format":            "text",
		"output.format":         "text",
		"output.color":          true,
		"otel.endpoint":         "",
		"otel.service":          "suitetree",
		"server.addr":           "127.0.0.1:8080",
		"server.timeout":        60 * time.Second,
		"server.max_body_bytes": int64(1 << 20),
		"server.token":          "",
	}
}

// Default returns the configuration made of defaults only.
func Default() *Config {
	cfg, err := unmarshal(newKoanf())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds the configuration. path may be empty, in which case
// DefaultFile is used if present; an explicit path must exist.
func Load(path string) (*Config, error) {
	k := newKoanf()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment config: %w", err)
	}
	return unmarshal(k)
}

func newKoanf() *koanf.Koanf {
	k := koanf.New(".")
	for key, value := range Defaults() {
		k.Set(key, value)
	}
	return k
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SUITETREE_SERVER__MAX_BODY_BYTES to server.max_body_bytes.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects values the runner cannot work with.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be at least 1, got %d", ErrInvalid, c.MaxConcurrency)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown output.format %q", ErrInvalid, c.Output.Format)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: server.max_body_bytes must be positive", ErrInvalid)
	}
	return nil
}
