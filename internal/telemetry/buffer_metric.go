package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// BufferMetrics holds all the metric instruments for the buffer manager.
type BufferMetrics struct {
	PageRequestsCounter    metric.Int64Counter
	AccessesCounter        metric.Int64Counter
	EvictionsCounter       metric.Int64Counter
	WriteBacksCounter      metric.Int64Counter
	ExhaustionsCounter     metric.Int64Counter
	ResidentPagesUpDown    metric.Int64UpDownCounter
	LoadLatencyHistogram   metric.Int64Histogram
	FastPathHitsObservable metric.Int64ObservableCounter
}

// NewBufferMetrics creates and registers the buffer manager metrics.
// fastPathHits is polled on every collection; the fast path itself never
// touches the meter.
func NewBufferMetrics(meter metric.Meter, fastPathHits func() int64) (*BufferMetrics, error) {
	pageRequests, err := meter.Int64Counter(
		"gojobuf.buffer.page_requests_total",
		metric.WithDescription("Total number of page handles requested."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	accesses, err := meter.Int64Counter(
		"gojobuf.buffer.accesses_total",
		metric.WithDescription("Page byte accesses that took the warm or cold path."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"gojobuf.buffer.evictions_total",
		metric.WithDescription("Resident pages kicked out of the buffer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writeBacks, err := meter.Int64Counter(
		"gojobuf.buffer.write_backs_total",
		metric.WithDescription("Dirty pages written back to their file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	exhaustions, err := meter.Int64Counter(
		"gojobuf.buffer.exhaustions_total",
		metric.WithDescription("Requests that found no free block and nothing to evict."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	resident, err := meter.Int64UpDownCounter(
		"gojobuf.buffer.resident_pages",
		metric.WithDescription("Pages currently holding an arena block."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	loadLatency, err := meter.Int64Histogram(
		"gojobuf.buffer.load_duration",
		metric.WithDescription("Time to read a page from disk into its block."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	fastPath, err := meter.Int64ObservableCounter(
		"gojobuf.buffer.fast_path_hits_total",
		metric.WithDescription("Accesses served without taking the buffer manager lock."),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fastPathHits())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return &BufferMetrics{
		PageRequestsCounter:    pageRequests,
		AccessesCounter:        accesses,
		EvictionsCounter:       evictions,
		WriteBacksCounter:      writeBacks,
		ExhaustionsCounter:     exhaustions,
		ResidentPagesUpDown:    resident,
		LoadLatencyHistogram:   loadLatency,
		FastPathHitsObservable: fastPath,
	}, nil
}
