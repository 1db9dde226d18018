package bufferpool

import (
	"context"
	"os"
	"time"

	"github.com/sushant-115/gojobuf/core/write_engine/affinity"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// recent reports whether p was touched within the last window ticks.
func (m *BufferManager) recent(p *pagemanager.Page) bool {
	return p.Tick()+m.window > m.lastTick.Load()
}

// access makes p resident and protected for the calling slot, and returns
// its block.
func (m *BufferManager) access(ctx context.Context, p *pagemanager.Page) (int32, error) {
	if m.closed.Load() {
		return pagemanager.NoBlock, flushmanager.ErrManagerClosed
	}
	slot := affinity.SlotFrom(ctx)

	// Lock-free: the page was touched recently and this slot still protects
	// its block, so nobody can have evicted it.
	if block := p.Block(); block != pagemanager.NoBlock && m.recent(p) &&
		m.slots.ProtectedBy(slot, block) && p.Block() == block {
		m.stats.fastHits.Inc()
		return block, nil
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return pagemanager.NoBlock, flushmanager.ErrManagerClosed
	}
	m.waitIOLocked(p)

	switch st := p.State(); {
	case st == pagemanager.StatePinned || (st.Resident() && m.recent(p)):
		block := p.Block()
		m.slots.Protect(slot, block)
		m.mu.Unlock()
		m.stats.warmHits.Inc()
		m.metrics.AccessesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "warm")))
		return block, nil
	case st.InLRU():
		m.lru.Remove(p)
		m.stampLocked(p)
		m.lru.Insert(p)
		block := p.Block()
		m.slots.Protect(slot, block)
		m.mu.Unlock()
		m.stats.warmHits.Inc()
		m.metrics.AccessesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "warm")))
		return block, nil
	}

	block, wb, ok := m.reserveBlockLocked(ctx)
	if !ok {
		m.mu.Unlock()
		m.logger.Error("Buffer memory exhausted, cannot load page",
			zap.Stringer("page", p.Key()),
			zap.Bool("anonymous", p.IsAnonymous()),
		)
		return pagemanager.NoBlock, flushmanager.ErrBufferExhausted
	}
	m.attachLocked(p, block)
	m.slots.Protect(slot, block)
	m.stampLocked(p)
	m.lru.Insert(p)
	m.moveTo(p, pagemanager.StateUnpinned)
	p.BeginIO()
	f := m.files.File(p.Loc(), p.IsAnonymous())
	m.mu.Unlock()

	if err := m.load(ctx, p, f, block, wb); err != nil {
		return pagemanager.NoBlock, err
	}
	m.metrics.AccessesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "cold")))
	return block, nil
}

// load finishes the victim write-back that freed block, then reads p into it
// and lifts p's I/O latch. On a read error p goes back to non-resident.
// Called without the lock.
func (m *BufferManager) load(ctx context.Context, p *pagemanager.Page, f *os.File, block int32, wb *writeBack) error {
	m.finishWriteBack(ctx, wb)

	start := time.Now()
	err := flushmanager.ReadPage(f, p.Pos(), m.arena.Bytes(block))
	m.metrics.LoadLatencyHistogram.Record(ctx, time.Since(start).Microseconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	p.EndIO()
	if err != nil {
		m.logger.Error("Failed to load page", zap.Stringer("page", p), zap.Error(err))
		if p.State().InLRU() {
			m.lru.Remove(p)
		}
		m.detachLocked(p)
		m.moveTo(p, pagemanager.StateNonResident)
		return err
	}
	m.stats.coldLoads.Inc()
	m.logger.Debug("Page loaded", zap.Stringer("page", p), zap.Int32("block", block))
	return nil
}
