package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
	assert.Equal(t, "none", cfg.Compression)
	assert.Empty(t, cfg.MetricsFile)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "gettrail.yaml", `
log_level: debug
log_format: json
compression: zstd
flush_bytes: 4096
metrics_file: /tmp/gettrail.prom
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, 4096, cfg.FlushBytes)
	assert.Equal(t, "/tmp/gettrail.prom", cfg.MetricsFile)
	assert.Equal(t, Default().ValueCacheSize, cfg.ValueCacheSize, "unset keys keep defaults")
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "gettrail.toml", `
log_level = "warn"
compression = "lz4"
value_cache_size = 128
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.Equal(t, 128, cfg.ValueCacheSize)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"unknown yaml key", "c.yaml", "colour: red\n", "colour"},
		{"unknown toml key", "c.toml", "colour = \"red\"\n", "colour"},
		{"bad level", "c.yaml", "log_level: loud\n", "log_level"},
		{"bad format", "c.yaml", "log_format: xml\n", "log_format"},
		{"bad compression", "c.yaml", "compression: rar\n", "rar"},
		{"zero flush", "c.yaml", "flush_bytes: 0\n", "flush_bytes"},
		{"negative cache", "c.toml", "value_cache_size = -1\n", "value_cache_size"},
		{"malformed yaml", "c.yaml", "log_level: [\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
