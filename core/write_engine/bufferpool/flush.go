package bufferpool

import (
	"context"
	"errors"

	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// FlushAll writes every dirty resident table page back to its file without
// evicting it. Writes are paced by the configured flush rate. A page whose
// write fails stays dirty.
func (m *BufferManager) FlushAll(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "BufferManager.FlushAll")
	defer span.End()

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return flushmanager.ErrManagerClosed
	}
	var candidates []*pagemanager.Page
	for _, p := range m.pages {
		if p.State().Resident() && p.IsDirty() {
			candidates = append(candidates, p)
		}
	}
	m.mu.Unlock()

	var errs []error
	flushed := 0
	for _, p := range candidates {
		if err := m.throttle.Wait(ctx, m.pageSize); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := m.flushPage(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			flushed++
		}
	}

	span.SetAttributes(attribute.Int("pages.flushed", flushed))
	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Flush finished with errors", zap.Int("pages_flushed", flushed), zap.Error(err))
		return err
	}
	m.logger.Debug("Flushed dirty pages", zap.Int("pages_flushed", flushed))
	return nil
}

// flushPage writes p back if it is still resident and dirty.
func (m *BufferManager) flushPage(ctx context.Context, p *pagemanager.Page) (bool, error) {
	m.mu.Lock()
	m.waitIOLocked(p)
	if m.closed.Load() {
		m.mu.Unlock()
		return false, flushmanager.ErrManagerClosed
	}
	if !p.State().Resident() || !p.TakeDirty() {
		m.mu.Unlock()
		return false, nil
	}
	p.BeginIO()
	block := p.Block()
	f := m.files.File(p.Loc(), false)
	m.mu.Unlock()

	err := flushmanager.WritePage(f, p.Pos(), m.arena.Bytes(block))

	m.mu.Lock()
	defer m.mu.Unlock()
	p.EndIO()
	if err != nil {
		p.SetDirty(true)
		return false, err
	}
	m.stats.writeBacks.Inc()
	m.metrics.WriteBacksCounter.Add(ctx, 1)
	return true, nil
}
