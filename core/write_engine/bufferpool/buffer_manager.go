package bufferpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sushant-115/gojobuf/core/write_engine/affinity"
	"github.com/sushant-115/gojobuf/core/write_engine/arena"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	"github.com/sushant-115/gojobuf/core/write_engine/lru"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojobuf/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BufferManager caches fixed-size pages of table files and of an anonymous
// temp file in a bounded arena of blocks. Page lookups, eviction and state
// changes happen under a single lock; disk reads and write-backs do not.
type BufferManager struct {
	mu sync.Mutex

	pageSize int
	numPages int
	capacity int
	// window is how many ticks a page stays eligible for the lock-free path.
	window uint64

	arena     *arena.Arena
	lru       *lru.Index
	pages     map[pagemanager.Key]*pagemanager.Page
	anon      map[uint64]*pagemanager.Page
	positions *pagemanager.PositionPool
	files     *flushmanager.Registry
	slots     *affinity.Table
	throttle  *flushmanager.Throttle

	lastTick      atomic.Uint64
	nextID        uint64
	workersActive bool
	closed        atomic.Bool

	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *internaltelemetry.BufferMetrics
	stats   *counters
}

// New creates a buffer manager able to hold numPages pages of pageSize bytes
// plus the configured headroom. Anonymous pages live in tempFile, which is
// created (truncated) now and removed on Close. An empty tempFile picks a
// fresh path under os.TempDir.
func New(pageSize, numPages int, tempFile string, opts ...Option) (*BufferManager, error) {
	if pageSize <= 0 {
		return nil, flushmanager.ErrInvalidPageSize
	}
	if numPages <= 0 {
		return nil, flushmanager.ErrInvalidNumPages
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if tempFile == "" {
		tempFile = DefaultTempFile()
	}

	capacity := numPages + cfg.headroom
	blocks, err := arena.New(pageSize, capacity)
	if err != nil {
		return nil, err
	}
	files, err := flushmanager.NewRegistry(tempFile, cfg.logger)
	if err != nil {
		blocks.Release()
		return nil, err
	}

	m := &BufferManager{
		pageSize:  pageSize,
		numPages:  numPages,
		capacity:  capacity,
		window:    uint64(capacity / 2),
		arena:     blocks,
		lru:       lru.New(),
		pages:     make(map[pagemanager.Key]*pagemanager.Page),
		anon:      make(map[uint64]*pagemanager.Page),
		positions: pagemanager.NewPositionPool(),
		files:     files,
		slots:     affinity.NewTable(),
		throttle:  flushmanager.NewThrottle(cfg.flushRate, pageSize),
		logger:    cfg.logger.Named("buffer_manager"),
		tracer:    cfg.tracer,
		stats:     newCounters(),
	}
	m.metrics, err = internaltelemetry.NewBufferMetrics(cfg.meter, m.stats.fastHits.Value)
	if err != nil {
		blocks.Release()
		_ = files.Close()
		return nil, fmt.Errorf("failed to register buffer metrics: %w", err)
	}

	m.logger.Info("Buffer manager initialized",
		zap.Int("page_size", pageSize),
		zap.Int("num_pages", numPages),
		zap.Int("capacity", capacity),
		zap.String("temp_file", tempFile),
	)
	return m, nil
}

// PageSize is the size in bytes of every page this manager serves.
func (m *BufferManager) PageSize() int { return m.pageSize }

// GetPage returns a handle to page index of table. The page is not loaded
// until the handle's bytes are first accessed.
func (m *BufferManager) GetPage(ctx context.Context, table flushmanager.Table, index int64) (*PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.tablePageLocked(table, index)
	if err != nil {
		return nil, err
	}
	m.countRequest(ctx, "table")
	return m.newHandleLocked(p), nil
}

// GetAnonPage returns a handle to a new page of the temp file. Anonymous
// pages are never shared: every call yields a distinct page.
func (m *BufferManager) GetAnonPage(ctx context.Context) (*PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return nil, flushmanager.ErrManagerClosed
	}
	p := m.newAnonPageLocked()
	m.countRequest(ctx, "anon")
	return m.newHandleLocked(p), nil
}

// GetPinnedPage returns a handle to page index of table, loaded and pinned.
// A pinned page is never evicted until Unpin. When no block can be freed the
// request fails with ErrBufferPoolFull and leaves no trace.
func (m *BufferManager) GetPinnedPage(ctx context.Context, table flushmanager.Table, index int64) (*PageHandle, error) {
	m.mu.Lock()
	p, err := m.tablePageLocked(table, index)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.countRequest(ctx, "pinned")
	h := m.newHandleLocked(p)
	m.waitIOLocked(p)

	switch st := p.State(); {
	case st == pagemanager.StatePinned:
		m.mu.Unlock()
		return h, nil
	case st.InLRU():
		m.lru.Remove(p)
		m.moveTo(p, pagemanager.StatePinned)
		m.mu.Unlock()
		return h, nil
	}

	block, wb, ok := m.reserveBlockLocked(ctx)
	if !ok {
		m.mu.Unlock()
		h.Release()
		m.logger.Warn("Pinned page request failed, buffer pool is full", zap.Stringer("page", p.Key()))
		return nil, flushmanager.ErrBufferPoolFull
	}
	m.attachLocked(p, block)
	m.moveTo(p, pagemanager.StatePinned)
	p.BeginIO()
	f := m.files.File(p.Loc(), false)
	m.mu.Unlock()

	if err := m.load(ctx, p, f, block, wb); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

// GetPinnedAnonPage returns a handle to a new, zeroed, pinned page of the
// temp file.
func (m *BufferManager) GetPinnedAnonPage(ctx context.Context) (*PageHandle, error) {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil, flushmanager.ErrManagerClosed
	}
	p := m.newAnonPageLocked()
	m.countRequest(ctx, "pinned_anon")
	h := m.newHandleLocked(p)

	block, wb, ok := m.reserveBlockLocked(ctx)
	if !ok {
		m.mu.Unlock()
		h.Release()
		m.logger.Warn("Pinned anonymous page request failed, buffer pool is full")
		return nil, flushmanager.ErrBufferPoolFull
	}
	m.attachLocked(p, block)
	m.moveTo(p, pagemanager.StatePinned)
	m.mu.Unlock()

	// Nobody else can reach p yet, so no latch is needed.
	m.finishWriteBack(ctx, wb)
	m.arena.Zero(block)
	return h, nil
}

// Unpin returns the page behind h to the LRU so it becomes evictable again.
// Unpinning a page that is not pinned, or through a released handle, does
// nothing.
func (m *BufferManager) Unpin(h *PageHandle) {
	if h == nil || h.released.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p := h.page
	if p.State() != pagemanager.StatePinned {
		return
	}
	m.stampLocked(p)
	m.lru.Insert(p)
	if p.Handles() > 0 {
		m.moveTo(p, pagemanager.StateUnpinned)
	} else {
		m.moveTo(p, pagemanager.StateCached)
	}
}

// Close writes back every dirty resident table page, releases the arena,
// closes all files and removes the temp file. Handles must not be used
// afterwards.
func (m *BufferManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.workersActive || m.slots.Len() > 1 {
		m.logger.Warn("Closing buffer manager while workers are still running", zap.Int("slots", m.slots.Len()))
	}

	var errs []error
	flushed := 0
	for _, p := range m.pages {
		m.waitIOLocked(p)
		if !p.HasBlock() || !p.TakeDirty() {
			continue
		}
		if err := flushmanager.WritePage(m.files.File(p.Loc(), false), p.Pos(), m.arena.Bytes(p.Block())); err != nil {
			m.logger.Error("Failed to write back page on close", zap.Stringer("page", p.Key()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		flushed++
	}

	m.arena.Release()
	if err := m.files.Close(); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info("Buffer manager closed", zap.Int("pages_flushed", flushed), zap.Int("pages_tracked", len(m.pages)))
	return errors.Join(errs...)
}

func (m *BufferManager) tablePageLocked(table flushmanager.Table, index int64) (*pagemanager.Page, error) {
	if table == nil {
		m.logger.Error("Page requested for a nil table", zap.Int64("index", index))
		return nil, flushmanager.ErrNilTable
	}
	if index < 0 {
		return nil, flushmanager.ErrInvalidPageIdx
	}
	if m.closed.Load() {
		return nil, flushmanager.ErrManagerClosed
	}
	loc := table.StorageLoc()
	if _, err := m.files.Open(loc); err != nil {
		return nil, err
	}
	key := pagemanager.Key{Loc: loc, Pos: index}
	p, ok := m.pages[key]
	if !ok {
		m.nextID++
		p = pagemanager.NewPage(m.nextID, loc, index)
		m.pages[key] = p
	}
	return p, nil
}

func (m *BufferManager) newAnonPageLocked() *pagemanager.Page {
	m.nextID++
	p := pagemanager.NewAnonPage(m.nextID, m.positions.Acquire())
	m.anon[p.ID()] = p
	return p
}

func (m *BufferManager) newHandleLocked(p *pagemanager.Page) *PageHandle {
	p.AddHandle()
	if p.State() == pagemanager.StateCached {
		m.moveTo(p, pagemanager.StateUnpinned)
	}
	return &PageHandle{mgr: m, page: p}
}

// attachLocked gives block to p. The caller sets p's state.
func (m *BufferManager) attachLocked(p *pagemanager.Page, block int32) {
	p.SetBlock(block)
	m.metrics.ResidentPagesUpDown.Add(context.Background(), 1)
}

// detachLocked takes p's block back into the free pool.
func (m *BufferManager) detachLocked(p *pagemanager.Page) {
	block := p.Block()
	if block == pagemanager.NoBlock {
		return
	}
	p.SetBlock(pagemanager.NoBlock)
	m.slots.Clear(block)
	m.arena.Put(block)
	m.metrics.ResidentPagesUpDown.Add(context.Background(), -1)
}

func (m *BufferManager) stampLocked(p *pagemanager.Page) {
	p.SetTick(m.lastTick.Add(1))
}

func (m *BufferManager) moveTo(p *pagemanager.Page, to pagemanager.State) {
	from := p.State()
	if !p.MoveTo(to) {
		m.logger.DPanic("Illegal page state transition",
			zap.Stringer("page", p),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}

// waitIOLocked blocks until p has no load or write-back in flight. The lock
// is dropped while waiting.
func (m *BufferManager) waitIOLocked(p *pagemanager.Page) {
	for {
		done := p.IODone()
		if done == nil {
			return
		}
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
}

func (m *BufferManager) countRequest(ctx context.Context, kind string) {
	m.metrics.PageRequestsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
