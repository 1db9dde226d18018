// Package config loads the YAML configuration shared by the gojobuf binaries.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sushant-115/gojobuf/core/write_engine/bufferpool"
	"github.com/sushant-115/gojobuf/pkg/logger"
	"github.com/sushant-115/gojobuf/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// BufferConfig sizes the buffer manager.
type BufferConfig struct {
	PageSize int `yaml:"page_size"`
	NumPages int `yaml:"num_pages"`
	// Headroom is the number of blocks reserved above NumPages.
	Headroom int `yaml:"headroom"`
	// TempFile backs anonymous pages. Empty picks a fresh file under the
	// system temp dir.
	TempFile string `yaml:"temp_file"`
	// FlushRateBytes caps FlushAll write-back in bytes per second; 0 is
	// unlimited.
	FlushRateBytes int64 `yaml:"flush_rate_bytes"`
}

type Config struct {
	Buffer    BufferConfig     `yaml:"buffer"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Buffer: BufferConfig{
			PageSize: 4096,
			NumPages: 64,
			Headroom: bufferpool.DefaultHeadroom,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			ServiceName:      "gojobuf",
			PrometheusAddr:   ":9464",
			TraceSampleRatio: 1,
		},
	}
}

// Load reads path over the defaults, so a file only needs the keys it
// changes. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Buffer.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer.page_size must be positive, got %d", c.Buffer.PageSize))
	}
	if c.Buffer.NumPages <= 0 {
		errs = append(errs, fmt.Errorf("buffer.num_pages must be positive, got %d", c.Buffer.NumPages))
	}
	if c.Buffer.Headroom < 0 {
		errs = append(errs, fmt.Errorf("buffer.headroom must not be negative, got %d", c.Buffer.Headroom))
	}
	if c.Buffer.FlushRateBytes < 0 {
		errs = append(errs, fmt.Errorf("buffer.flush_rate_bytes must not be negative, got %d", c.Buffer.FlushRateBytes))
	}
	if r := c.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio must be within [0, 1], got %g", r))
	}
	return errors.Join(errs...)
}

// TempFilePath returns the configured temp file, or a fresh default path.
func (b BufferConfig) TempFilePath() string {
	if b.TempFile != "" {
		return b.TempFile
	}
	return bufferpool.DefaultTempFile()
}

// Options turns the buffer section into buffer manager options.
func (b BufferConfig) Options() []bufferpool.Option {
	return []bufferpool.Option{
		bufferpool.WithHeadroom(b.Headroom),
		bufferpool.WithFlushRate(b.FlushRateBytes),
	}
}
