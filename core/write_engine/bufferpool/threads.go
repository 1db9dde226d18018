package bufferpool

import (
	"context"

	"github.com/google/uuid"
	"github.com/sushant-115/gojobuf/core/write_engine/affinity"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	commonutils "github.com/sushant-115/gojobuf/internal/common_utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExecuteThreads runs entry once per element of args, each on its own
// goroutine with its own protection slot, and waits for all of them. The
// context handed to entry carries the slot and must be passed to every
// Bytes call the worker makes. Only one batch may run at a time.
func (m *BufferManager) ExecuteThreads(ctx context.Context, entry func(ctx context.Context, arg any) error, args []any) error {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return flushmanager.ErrManagerClosed
	}
	if m.workersActive {
		m.mu.Unlock()
		m.logger.Error("ExecuteThreads called while workers are running")
		return flushmanager.ErrWorkersRunning
	}
	m.workersActive = true
	m.slots.Reset(len(args) + 1)
	m.mu.Unlock()

	batch := uuid.NewString()
	ctx, span := m.tracer.Start(ctx, "BufferManager.ExecuteThreads", trace.WithAttributes(
		attribute.String("batch.id", batch),
		attribute.Int("batch.workers", len(args)),
	))
	defer span.End()
	m.logger.Info("Starting worker batch", zap.String("batch", batch), zap.Int("workers", len(args)))

	var g errgroup.Group
	for i, arg := range args {
		slot := affinity.Slot(i + 1)
		g.Go(func() error {
			m.logger.Debug("Worker started",
				zap.String("batch", batch),
				zap.Int("slot", int(slot)),
				zap.Int64("goroutine", commonutils.GoID()),
			)
			return entry(affinity.WithSlot(ctx, slot), arg)
		})
	}
	err := g.Wait()

	m.mu.Lock()
	m.slots.Reset(1)
	m.workersActive = false
	m.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("Worker batch failed", zap.String("batch", batch), zap.Error(err))
		return err
	}
	m.logger.Info("Worker batch finished", zap.String("batch", batch))
	return nil
}
