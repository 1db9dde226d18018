package bufferpool

import (
	"context"
	"os"

	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// writeBack is a dirty victim whose bytes still sit in block and must reach
// disk before the block is overwritten.
type writeBack struct {
	page  *pagemanager.Page
	file  *os.File
	block int32
}

// reserveBlockLocked returns a block for a new resident page, taking a free
// one or evicting the least recently used page nobody protects. A non-nil
// writeBack must be finished, outside the lock, before the block is reused.
func (m *BufferManager) reserveBlockLocked(ctx context.Context) (int32, *writeBack, bool) {
	if block, ok := m.arena.Take(); ok {
		return block, nil, true
	}

	victim, ok := m.lru.Victim(func(p *pagemanager.Page) bool {
		return p.IODone() != nil || m.slots.IsProtected(p.Block())
	})
	if !ok {
		m.stats.exhaustions.Inc()
		m.metrics.ExhaustionsCounter.Add(ctx, 1)
		return pagemanager.NoBlock, nil, false
	}

	m.lru.Remove(victim)
	block := victim.Block()
	victim.SetBlock(pagemanager.NoBlock)
	m.moveTo(victim, pagemanager.StateNonResident)
	m.stats.evictions.Inc()
	m.metrics.EvictionsCounter.Add(ctx, 1)
	m.logger.Debug("Evicting page", zap.Stringer("page", victim), zap.Int32("block", block))

	if victim.TakeDirty() {
		// The victim stays latched in the page table until its bytes are on
		// disk, so a concurrent request for it waits instead of reading stale
		// data.
		victim.BeginIO()
		return block, &writeBack{
			page:  victim,
			file:  m.files.File(victim.Loc(), victim.IsAnonymous()),
			block: block,
		}, true
	}
	if victim.Handles() == 0 {
		m.purgeLocked(victim)
	}
	// The block changes owner without passing through the free pool.
	m.metrics.ResidentPagesUpDown.Add(ctx, -1)
	return block, nil, true
}

// finishWriteBack writes the victim's bytes and lifts its latch. A failed
// write is logged; the victim's contents are lost. Called without the lock.
func (m *BufferManager) finishWriteBack(ctx context.Context, wb *writeBack) {
	if wb == nil {
		return
	}
	err := flushmanager.WritePage(wb.file, wb.page.Pos(), m.arena.Bytes(wb.block))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.ResidentPagesUpDown.Add(ctx, -1)
	wb.page.EndIO()
	if err != nil {
		m.logger.Error("Failed to write back evicted page", zap.Stringer("page", wb.page), zap.Error(err))
	} else {
		m.stats.writeBacks.Inc()
		m.metrics.WriteBacksCounter.Add(ctx, 1)
	}
	if wb.page.Handles() == 0 && wb.page.State() == pagemanager.StateNonResident {
		m.purgeLocked(wb.page)
	}
}

// release drops one handle reference from p and purges it when it was the
// last one.
func (m *BufferManager) release(p *pagemanager.Page) {
	if p.DropHandle() > 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() || p.Handles() > 0 {
		return
	}
	m.purgeLocked(p)
}

// purgeLocked settles a page that has no handles left. Anonymous pages are
// discarded, since nobody can ask for them again. Resident table pages stay
// cached in the LRU; non-resident ones are dropped from the page table.
func (m *BufferManager) purgeLocked(p *pagemanager.Page) {
	m.waitIOLocked(p)
	if p.Handles() > 0 || p.State() == pagemanager.StateDead {
		return
	}

	if p.IsAnonymous() {
		if p.State().InLRU() {
			m.lru.Remove(p)
		}
		m.detachLocked(p)
		m.positions.Release(p.Pos())
		delete(m.anon, p.ID())
		m.moveTo(p, pagemanager.StateDead)
		return
	}

	switch p.State() {
	case pagemanager.StatePinned:
		m.stampLocked(p)
		m.lru.Insert(p)
		m.moveTo(p, pagemanager.StateCached)
	case pagemanager.StateUnpinned:
		m.moveTo(p, pagemanager.StateCached)
	case pagemanager.StateNonResident:
		if m.pages[p.Key()] == p {
			delete(m.pages, p.Key())
		}
		m.moveTo(p, pagemanager.StateDead)
	}
}
