// Package config loads skillguard settings from defaults, optional YAML
// files and SKILLGUARD_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKILLGUARD_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Verifiers VerifiersConfig `koanf:"verifiers"`
	Certs     CertsConfig     `koanf:"certs"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	Path         string `koanf:"path"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`
}

// GatewayConfig selects proxy mode when Target is set.
type GatewayConfig struct {
	Target string `koanf:"target"`
}

type VerifiersConfig struct {
	Signature SignatureConfig `koanf:"signature"`
	Timestamp TimestampConfig `koanf:"timestamp"`
}

type SignatureConfig struct {
	Enabled bool `koanf:"enabled"`
}

type TimestampConfig struct {
	Enabled     bool  `koanf:"enabled"`
	ToleranceMS int64 `koanf:"tolerance_ms"`
}

// Tolerance returns ToleranceMS as a duration.
func (c TimestampConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceMS) * time.Millisecond
}

type CertsConfig struct {
	ProxyURL         string `koanf:"proxy_url"`
	FetchTimeoutSecs int    `koanf:"fetch_timeout_secs"`
	RootsFile        string `koanf:"roots_file"`
}

// FetchTimeout returns FetchTimeoutSecs as a duration.
func (c CertsConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":                      "0.0.0.0",
		"server.port":                      8080,
		"server.path":                      "/alexa",
		"server.max_body_bytes":            1 << 20,
		"gateway.target":                   "",
		"verifiers.signature.enabled":      true,
		"verifiers.timestamp.enabled":      true,
		"verifiers.timestamp.tolerance_ms": 150000,
		"certs.proxy_url":                  "",
		"certs.fetch_timeout_secs":         10,
		"certs.roots_file":                 "",
		"log.level":                        "info",
		"log.format":                       "json",
	}
}

// Load builds the configuration. Missing files are skipped; unreadable or
// malformed ones are an error.
func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	base := defaults()
	if err := k.Load(confmap.Provider(base, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// YAML files (optional)
	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Environment variables override everything
	// SKILLGUARD_SERVER_MAX_BODY_BYTES -> server.max_body_bytes
	known := make(map[string]string, len(base))
	for key := range base {
		known[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.TrimPrefix(s, EnvPrefix)
		if key, ok := known[name]; ok {
			return key
		}
		return strings.ReplaceAll(strings.ToLower(name), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", c.Server.Path))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Verifiers.Timestamp.ToleranceMS < 0 || c.Verifiers.Timestamp.Tolerance() > time.Hour {
		errs = append(errs, fmt.Errorf("verifiers.timestamp.tolerance_ms %d must be between 0 and 3600000",
			c.Verifiers.Timestamp.ToleranceMS))
	}
	if c.Certs.FetchTimeoutSecs <= 0 {
		errs = append(errs, errors.New("certs.fetch_timeout_secs must be positive"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}
