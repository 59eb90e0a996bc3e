// Package config centralises runtime configuration for pooled services.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/objpool/internal/pool"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// LogSettings configures the structured logger.
type LogSettings struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// TelemetrySettings configures metric export. An empty endpoint disables export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// PoolSettings are the per-pool capacity options. Pointer fields distinguish
// "unset" from an explicit zero.
type PoolSettings struct {
	TrackActive     bool `yaml:"trackActive"`
	DefaultCapacity *int `yaml:"defaultCapacity"`
	MaxSize         *int `yaml:"maxSize"`
}

// Settings is the configuration tree loaded from defaults, a YAML file, and
// environment overrides.
type Settings struct {
	Environment Environment             `yaml:"environment"`
	Log         LogSettings             `yaml:"log"`
	Telemetry   TelemetrySettings       `yaml:"telemetry"`
	Pools       map[string]PoolSettings `yaml:"pools"`
}

// Default returns the default configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Log:         LogSettings{Level: "info", Encoding: "json"},
		Telemetry:   TelemetrySettings{OTLPEndpoint: "", ServiceName: "objpool"},
		Pools:       map[string]PoolSettings{},
	}
}

// Options converts the settings into engine options, filling unset fields
// with the package defaults.
func (p PoolSettings) Options() pool.Options {
	opts := pool.DefaultOptions()
	opts.TrackActive = p.TrackActive
	if p.DefaultCapacity != nil {
		opts.DefaultCapacity = *p.DefaultCapacity
	}
	if p.MaxSize != nil {
		opts.MaxSize = *p.MaxSize
	}
	return opts
}

// PoolNames returns the configured pool names in sorted order.
func (s Settings) PoolNames() []string {
	names := make([]string, 0, len(s.Pools))
	for name := range s.Pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pool returns the settings for name, or the zero settings (all defaults).
func (s Settings) Pool(name string) PoolSettings {
	if p, ok := s.Pools[name]; ok {
		return p
	}
	return PoolSettings{}
}

// Validate checks every configured pool's capacity relationship.
func (s Settings) Validate() error {
	var failures []error
	for _, name := range s.PoolNames() {
		if strings.TrimSpace(name) == "" {
			failures = append(failures, fmt.Errorf("pools: empty pool name"))
			continue
		}
		if err := s.Pools[name].Options().Validate(name); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// Load reads a YAML configuration file on top of the defaults and applies
// environment overrides.
func Load(path string) (Settings, error) {
	reader, closer, err := openConfigFile(path)
	if err != nil {
		return Settings{}, err
	}
	defer closer()

	body, err := io.ReadAll(reader)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(body)
}

// Parse decodes YAML bytes on top of the defaults and applies environment overrides.
func Parse(body []byte) (Settings, error) {
	cfg := Default()
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Pools == nil {
		cfg.Pools = map[string]PoolSettings{}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults plus
// environment overrides otherwise. The boolean reports whether the file was read.
func LoadOrDefault(path string) (Settings, bool, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, false, nil
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, false, nil
	}
	return Settings{}, false, err
}

// ApplyEnv overrides values from environment variables.
func (s *Settings) ApplyEnv() {
	if env := strings.TrimSpace(os.Getenv("OBJPOOL_ENV")); env != "" {
		s.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("OBJPOOL_LOG_LEVEL")); v != "" {
		s.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("OBJPOOL_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OBJPOOL_SERVICE_NAME")); v != "" {
		s.Telemetry.ServiceName = v
	}
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
