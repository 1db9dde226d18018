package bufferpool

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultHeadroom is how many blocks the manager reserves above the requested
// working set.
const DefaultHeadroom = 10

type Option func(*managerConfig)

type managerConfig struct {
	headroom  int
	flushRate int64
	logger    *zap.Logger
	meter     metric.Meter
	tracer    trace.Tracer
}

func defaultConfig() managerConfig {
	return managerConfig{
		headroom: DefaultHeadroom,
		logger:   zap.NewNop(),
		meter:    noop.NewMeterProvider().Meter(""),
		tracer:   nooptrace.NewTracerProvider().Tracer(""),
	}
}

// WithHeadroom overrides the number of extra blocks reserved above numPages.
func WithHeadroom(blocks int) Option {
	return func(c *managerConfig) {
		if blocks >= 0 {
			c.headroom = blocks
		}
	}
}

// WithFlushRate caps FlushAll write-back at bytesPerSec. Zero means unlimited.
func WithFlushRate(bytesPerSec int64) Option {
	return func(c *managerConfig) {
		c.flushRate = bytesPerSec
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(c *managerConfig) {
		if meter != nil {
			c.meter = meter
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *managerConfig) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// DefaultTempFile returns a fresh temp-file path under os.TempDir.
func DefaultTempFile() string {
	return filepath.Join(os.TempDir(), "gojobuf-"+uuid.NewString()+".tmp")
}
