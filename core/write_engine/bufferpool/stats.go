package bufferpool

import (
	"github.com/puzpuzpuz/xsync/v3"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
)

// counters are bumped on hot paths, some of them outside the lock.
type counters struct {
	fastHits    *xsync.Counter
	warmHits    *xsync.Counter
	coldLoads   *xsync.Counter
	evictions   *xsync.Counter
	writeBacks  *xsync.Counter
	exhaustions *xsync.Counter
}

func newCounters() *counters {
	return &counters{
		fastHits:    xsync.NewCounter(),
		warmHits:    xsync.NewCounter(),
		coldLoads:   xsync.NewCounter(),
		evictions:   xsync.NewCounter(),
		writeBacks:  xsync.NewCounter(),
		exhaustions: xsync.NewCounter(),
	}
}

// Stats is a point-in-time snapshot of the buffer manager.
type Stats struct {
	PageSize   int
	Capacity   int
	FreeBlocks int

	TrackedPages  int
	AnonPages     int
	ResidentPages int
	PinnedPages   int
	CachedPages   int
	DirtyPages    int
	Slots         int

	FastPathHits int64
	WarmAccesses int64
	ColdLoads    int64
	Evictions    int64
	WriteBacks   int64
	Exhaustions  int64
}

func (m *BufferManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		PageSize:     m.pageSize,
		Capacity:     m.capacity,
		TrackedPages: len(m.pages),
		AnonPages:    len(m.anon),
		Slots:        m.slots.Len(),
		FastPathHits: m.stats.fastHits.Value(),
		WarmAccesses: m.stats.warmHits.Value(),
		ColdLoads:    m.stats.coldLoads.Value(),
		Evictions:    m.stats.evictions.Value(),
		WriteBacks:   m.stats.writeBacks.Value(),
		Exhaustions:  m.stats.exhaustions.Value(),
	}
	if !m.closed.Load() {
		s.FreeBlocks = m.arena.Free()
	}
	count := func(p *pagemanager.Page) {
		st := p.State()
		if !st.Resident() {
			return
		}
		s.ResidentPages++
		switch st {
		case pagemanager.StatePinned:
			s.PinnedPages++
		case pagemanager.StateCached:
			s.CachedPages++
		}
		if p.IsDirty() {
			s.DirtyPages++
		}
	}
	for _, p := range m.pages {
		count(p)
	}
	for _, p := range m.anon {
		count(p)
	}
	return s
}
