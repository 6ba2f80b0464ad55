// Package config loads gettrail settings from a YAML or TOML file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gettrail/internal/compress"
	"github.com/roach88/gettrail/internal/store"
	"github.com/roach88/gettrail/internal/trailjson"
)

// Config holds the settings of one run. The zero value is not valid; start
// from Default.
type Config struct {
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	LogFormat      string `yaml:"log_format" toml:"log_format"`
	Compression    string `yaml:"compression" toml:"compression"`
	FlushBytes     int    `yaml:"flush_bytes" toml:"flush_bytes"`
	MetricsFile    string `yaml:"metrics_file" toml:"metrics_file"`
	ValueCacheSize int    `yaml:"value_cache_size" toml:"value_cache_size"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Compression:    string(compress.None),
		FlushBytes:     trailjson.DefaultFlushBytes,
		ValueCacheSize: store.DefaultValueCacheSize,
	}
}

// Load reads path over the defaults. Files ending in .toml are decoded as
// TOML, everything else as YAML. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enum values and sizes.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat)
	}
	if _, err := compress.ParseType(c.Compression); err != nil {
		return err
	}
	if c.FlushBytes <= 0 {
		return fmt.Errorf("flush_bytes must be positive, got %d", c.FlushBytes)
	}
	if c.ValueCacheSize <= 0 {
		return fmt.Errorf("value_cache_size must be positive, got %d", c.ValueCacheSize)
	}
	return nil
}

// Level returns LogLevel as a slog level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}
