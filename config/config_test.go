package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojobuf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4096, cfg.Buffer.PageSize)
	assert.Len(t, cfg.Buffer.Options(), 2)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
buffer:
  page_size: 512
  num_pages: 8
  headroom: 0
  temp_file: /tmp/scratch.pages
logger:
  level: debug
telemetry:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Buffer.PageSize)
	assert.Equal(t, 8, cfg.Buffer.NumPages)
	assert.Equal(t, 0, cfg.Buffer.Headroom)
	assert.Equal(t, "/tmp/scratch.pages", cfg.Buffer.TempFilePath())
	assert.Equal(t, "debug", cfg.Logger.Level)
	// untouched keys keep their defaults
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, ":9464", cfg.Telemetry.PrometheusAddr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
buffer:
  page_size: 0
  num_pages: -1
telemetry:
  trace_sample_ratio: 2
`)
	_, err := Load(path)
	require.Error(t, err)
	for _, field := range []string{"buffer.page_size", "buffer.num_pages", "telemetry.trace_sample_ratio"} {
		assert.True(t, strings.Contains(err.Error(), field), "missing %s in %v", field, err)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "buffer: [not, a, map]"))
	assert.Error(t, err)
}

func TestEmptyTempFileGetsFreshPath(t *testing.T) {
	b := Default().Buffer
	first, second := b.TempFilePath(), b.TempFilePath()
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(filepath.Base(first), "gojobuf-"))
}
