package bufferpool

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const testPageSize = 64

// --- Test Helpers ---

// setupManager builds a manager with no headroom, so numPages is the exact
// number of blocks, plus a table file in the same temp dir.
func setupManager(t *testing.T, numPages int, opts ...Option) (*BufferManager, flushmanager.Table, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithHeadroom(0), WithLogger(zaptest.NewLogger(t))}, opts...)
	m, err := New(testPageSize, numPages, filepath.Join(dir, "temp.pages"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, flushmanager.NewTable("orders", filepath.Join(dir, "orders.tbl")), dir
}

func page(c byte) []byte { return bytes.Repeat([]byte{c}, testPageSize) }

// write fills h's page with c and marks it dirty.
func write(t *testing.T, h *PageHandle, c byte) {
	t.Helper()
	b, err := h.Bytes(context.Background())
	require.NoError(t, err)
	copy(b, page(c))
	h.WroteBytes()
}

func read(t *testing.T, h *PageHandle) []byte {
	t.Helper()
	b, err := h.Bytes(context.Background())
	require.NoError(t, err)
	return append([]byte(nil), b...)
}

func getPage(t *testing.T, m *BufferManager, table flushmanager.Table, index int64) *PageHandle {
	t.Helper()
	h, err := m.GetPage(context.Background(), table, index)
	require.NoError(t, err)
	return h
}

// --- Test Cases ---

func TestNewValidatesArguments(t *testing.T) {
	dir := t.TempDir()
	_, err := New(0, 4, filepath.Join(dir, "a"))
	assert.ErrorIs(t, err, flushmanager.ErrInvalidPageSize)
	_, err = New(testPageSize, 0, filepath.Join(dir, "b"))
	assert.ErrorIs(t, err, flushmanager.ErrInvalidNumPages)

	m, err := New(testPageSize, 4, "")
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, testPageSize, m.PageSize())
	assert.Equal(t, 4+DefaultHeadroom, m.Stats().Capacity)
}

func TestGetPageDeduplicatesByIdentity(t *testing.T) {
	m, table, dir := setupManager(t, 4)
	ctx := context.Background()

	h1 := getPage(t, m, table, 5)
	h2 := getPage(t, m, table, 5)
	assert.Same(t, h1.Page(), h2.Page())
	assert.EqualValues(t, 2, h1.Page().Handles())

	// same storage location under another name is the same file
	alias := flushmanager.NewTable("orders_alias", filepath.Join(dir, "orders.tbl"))
	h3, err := m.GetPage(ctx, alias, 5)
	require.NoError(t, err)
	assert.Same(t, h1.Page(), h3.Page())

	h4 := getPage(t, m, table, 6)
	assert.NotSame(t, h1.Page(), h4.Page())
	assert.Equal(t, 2, m.Stats().TrackedPages)
}

func TestConcurrentGetPageSharesOnePage(t *testing.T) {
	m, table, _ := setupManager(t, 4)

	const n = 16
	handles := make([]*PageHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.GetPage(context.Background(), table, 3)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles[1:] {
		assert.Same(t, handles[0].Page(), h.Page())
	}
	assert.EqualValues(t, n, handles[0].Page().Handles())
}

func TestGetPageRejectsBadInput(t *testing.T) {
	m, table, _ := setupManager(t, 1)
	ctx := context.Background()

	_, err := m.GetPage(ctx, nil, 0)
	assert.ErrorIs(t, err, flushmanager.ErrNilTable)
	_, err = m.GetPinnedPage(ctx, nil, 0)
	assert.ErrorIs(t, err, flushmanager.ErrNilTable)
	_, err = m.GetPage(ctx, table, -1)
	assert.ErrorIs(t, err, flushmanager.ErrInvalidPageIdx)
}

func TestAnonPagesAreNeverShared(t *testing.T) {
	m, _, _ := setupManager(t, 4)
	ctx := context.Background()

	a1, err := m.GetAnonPage(ctx)
	require.NoError(t, err)
	a2, err := m.GetAnonPage(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a1.Page(), a2.Page())
	assert.True(t, a1.Page().IsAnonymous())
	assert.EqualValues(t, 0, a1.Page().Pos())
	assert.EqualValues(t, 1, a2.Page().Pos())

	// a released anonymous page gives its temp-file position back
	a1.Release()
	assert.Equal(t, pagemanager.StateDead, a1.Page().State())
	a3, err := m.GetAnonPage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, a3.Page().Pos())
	assert.Equal(t, 2, m.Stats().AnonPages)
}

func TestEvictionWritesBackDirtyPage(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	h0 := getPage(t, m, table, 0)
	write(t, h0, 'A')
	h0.Release()
	assert.Equal(t, pagemanager.StateCached, h0.Page().State())

	h1 := getPage(t, m, table, 1)
	write(t, h1, 'B')
	h1.Release()

	// a third page forces page 0, the least recently used, out
	h2 := getPage(t, m, table, 2)
	read(t, h2)
	st := m.Stats()
	assert.EqualValues(t, 1, st.Evictions)
	assert.EqualValues(t, 1, st.WriteBacks)
	assert.Equal(t, pagemanager.StateDead, h0.Page().State(), "unreferenced evicted page is dropped")

	data, err := os.ReadFile(table.StorageLoc())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), testPageSize)
	assert.Equal(t, page('A'), data[:testPageSize])

	// page 0 comes back from disk, pushing page 1 out
	again := getPage(t, m, table, 0)
	assert.NotSame(t, h0.Page(), again.Page())
	assert.Equal(t, page('A'), read(t, again))
	assert.EqualValues(t, 2, m.Stats().WriteBacks)

	data, err = os.ReadFile(table.StorageLoc())
	require.NoError(t, err)
	assert.Equal(t, page('B'), data[testPageSize:2*testPageSize])
}

func TestCachedPageIsReused(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	h := getPage(t, m, table, 0)
	write(t, h, 'C')
	h.Release()
	st := m.Stats()
	assert.Equal(t, 1, st.CachedPages)
	assert.Equal(t, 1, st.TrackedPages)

	again := getPage(t, m, table, 0)
	assert.Same(t, h.Page(), again.Page())
	assert.Equal(t, pagemanager.StateUnpinned, again.Page().State())
	assert.Equal(t, page('C'), read(t, again))
	assert.EqualValues(t, 1, m.Stats().ColdLoads)
}

func TestFastPathSkipsLock(t *testing.T) {
	m, table, _ := setupManager(t, 4)

	h := getPage(t, m, table, 0)
	read(t, h)
	read(t, h)
	st := m.Stats()
	assert.EqualValues(t, 1, st.ColdLoads)
	assert.EqualValues(t, 1, st.FastPathHits)
}

func TestPinnedRequestFailsWhenPoolFull(t *testing.T) {
	m, table, _ := setupManager(t, 1)
	ctx := context.Background()

	p0, err := m.GetPinnedPage(ctx, table, 0)
	require.NoError(t, err)
	assert.Equal(t, pagemanager.StatePinned, p0.Page().State())

	h, err := m.GetPinnedPage(ctx, table, 1)
	assert.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)
	assert.Nil(t, h)
	_, err = m.GetPinnedAnonPage(ctx)
	assert.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)

	// failed requests leave nothing behind
	st := m.Stats()
	assert.Equal(t, 1, st.TrackedPages)
	assert.Equal(t, 0, st.AnonPages)
	assert.EqualValues(t, 2, st.Exhaustions)
}

func TestAccessFailsWhenNothingEvictable(t *testing.T) {
	t.Run("pinned", func(t *testing.T) {
		m, table, _ := setupManager(t, 1)
		_, err := m.GetPinnedPage(context.Background(), table, 0)
		require.NoError(t, err)

		h := getPage(t, m, table, 1)
		_, err = h.Bytes(context.Background())
		assert.ErrorIs(t, err, flushmanager.ErrBufferExhausted)
		assert.Equal(t, pagemanager.StateNonResident, h.Page().State())
	})

	t.Run("protected", func(t *testing.T) {
		m, table, _ := setupManager(t, 1)
		read(t, getPage(t, m, table, 0))

		// the only resident page is the one this goroutine touched last
		h := getPage(t, m, table, 1)
		_, err := h.Bytes(context.Background())
		assert.ErrorIs(t, err, flushmanager.ErrBufferExhausted)
	})
}

func TestExhaustionLogsPageKey(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m, table, _ := setupManager(t, 1, WithLogger(zap.New(core)))
	_, err := m.GetPinnedPage(context.Background(), table, 0)
	require.NoError(t, err)

	_, err = getPage(t, m, table, 1).Bytes(context.Background())
	require.ErrorIs(t, err, flushmanager.ErrBufferExhausted)

	entries := logs.FilterMessage("Buffer memory exhausted, cannot load page").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, pagemanager.Key{Loc: table.StorageLoc(), Pos: 1}.String(), fields["page"])
	assert.Equal(t, false, fields["anonymous"])
}

func TestPinnedPageIsNeverEvicted(t *testing.T) {
	m, table, _ := setupManager(t, 2)
	ctx := context.Background()

	pinned, err := m.GetPinnedPage(ctx, table, 0)
	require.NoError(t, err)
	read(t, getPage(t, m, table, 1))

	_, err = getPage(t, m, table, 2).Bytes(ctx)
	assert.ErrorIs(t, err, flushmanager.ErrBufferExhausted)
	assert.Equal(t, pagemanager.StatePinned, pinned.Page().State())
}

func TestUnpinMakesPageEvictable(t *testing.T) {
	m, table, _ := setupManager(t, 2)
	ctx := context.Background()

	pinned, err := m.GetPinnedPage(ctx, table, 0)
	require.NoError(t, err)
	write(t, pinned, 'P')
	pinned.Unpin()
	assert.Equal(t, pagemanager.StateUnpinned, pinned.Page().State())

	read(t, getPage(t, m, table, 1))
	read(t, getPage(t, m, table, 2))
	assert.Equal(t, pagemanager.StateNonResident, pinned.Page().State())
	assert.EqualValues(t, 1, m.Stats().WriteBacks)

	// the handle is still good and reloads the written bytes
	assert.Equal(t, page('P'), read(t, pinned))
}

func TestUnpinOfUnpinnedPageIsNoop(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	h := getPage(t, m, table, 0)
	read(t, h)
	m.Unpin(h)
	m.Unpin(nil)
	assert.Equal(t, pagemanager.StateUnpinned, h.Page().State())

	pinned, err := m.GetPinnedPage(context.Background(), table, 1)
	require.NoError(t, err)
	pinned.Unpin()
	pinned.Unpin()
	assert.Equal(t, pagemanager.StateUnpinned, pinned.Page().State())
}

func TestUnpinThroughReleasedHandleIsNoop(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	pinned, err := m.GetPinnedPage(context.Background(), table, 0)
	require.NoError(t, err)
	clone := pinned.Clone()
	pinned.Release()

	pinned.Unpin()
	m.Unpin(pinned)
	assert.Equal(t, pagemanager.StatePinned, pinned.Page().State())

	clone.Unpin()
	assert.Equal(t, pagemanager.StateUnpinned, clone.Page().State())
	clone.Release()
	assert.Equal(t, pagemanager.StateCached, clone.Page().State())
}

func TestPinnedPageKeepsBlockOutsideFastWindow(t *testing.T) {
	m, table, _ := setupManager(t, 3)
	ctx := context.Background()

	pinned, err := m.GetPinnedPage(ctx, table, 0)
	require.NoError(t, err)
	b, err := pinned.Bytes(ctx)
	require.NoError(t, err)
	copy(b, page('Z')) // deliberately not marked dirty

	h1 := getPage(t, m, table, 1)
	h2 := getPage(t, m, table, 2)
	for i := 0; i < 4; i++ {
		read(t, h1)
		read(t, h2)
	}

	// a reload would have replaced the bytes with zeros from disk
	assert.Equal(t, page('Z'), read(t, pinned))
	assert.EqualValues(t, 3, m.Stats().ColdLoads)
}

func TestPinnedPageReleaseKeepsItCached(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	pinned, err := m.GetPinnedPage(context.Background(), table, 0)
	require.NoError(t, err)
	pinned.Release()
	assert.Equal(t, pagemanager.StateCached, pinned.Page().State())
	assert.Equal(t, 1, m.Stats().CachedPages)
}

func TestPinnedAnonPageIsZeroed(t *testing.T) {
	m, _, _ := setupManager(t, 1)
	ctx := context.Background()

	a, err := m.GetPinnedAnonPage(ctx)
	require.NoError(t, err)
	write(t, a, 'q')
	a.Release()
	assert.Equal(t, pagemanager.StateDead, a.Page().State())

	// the block comes back through the free pool and must not leak 'q'
	b, err := m.GetPinnedAnonPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testPageSize), read(t, b))
}

func TestAnonPageSurvivesEviction(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	a, err := m.GetAnonPage(context.Background())
	require.NoError(t, err)
	write(t, a, 'x')

	read(t, getPage(t, m, table, 0))
	read(t, getPage(t, m, table, 1))
	assert.Equal(t, pagemanager.StateNonResident, a.Page().State())

	assert.Equal(t, page('x'), read(t, a))
}

func TestCloneAndRelease(t *testing.T) {
	m, table, _ := setupManager(t, 2)

	h := getPage(t, m, table, 0)
	c := h.Clone()
	require.NotNil(t, c)
	assert.Same(t, h.Page(), c.Page())

	h.Release()
	h.Release()
	assert.EqualValues(t, 1, c.Page().Handles())
	assert.Nil(t, h.Clone())
	_, err := h.Bytes(context.Background())
	assert.ErrorIs(t, err, flushmanager.ErrHandleReleased)

	c.Release()
	// never loaded, so nothing keeps it around
	assert.Equal(t, pagemanager.StateDead, c.Page().State())
	assert.Equal(t, 0, m.Stats().TrackedPages)
}

func TestFlushAll(t *testing.T) {
	m, table, _ := setupManager(t, 4, WithFlushRate(1<<20))
	ctx := context.Background()

	for i, c := range []byte("abc") {
		h := getPage(t, m, table, int64(i))
		write(t, h, c)
		h.Release()
	}
	assert.Equal(t, 3, m.Stats().DirtyPages)

	require.NoError(t, m.FlushAll(ctx))
	st := m.Stats()
	assert.Equal(t, 0, st.DirtyPages)
	assert.Equal(t, 3, st.ResidentPages)
	assert.EqualValues(t, 3, st.WriteBacks)

	data, err := os.ReadFile(table.StorageLoc())
	require.NoError(t, err)
	assert.Equal(t, append(append(page('a'), page('b')...), page('c')...), data)

	// nothing left to write
	require.NoError(t, m.FlushAll(ctx))
	assert.EqualValues(t, 3, m.Stats().WriteBacks)
}

func TestCloseWritesBackAndRemovesTempFile(t *testing.T) {
	m, table, dir := setupManager(t, 2)
	ctx := context.Background()

	h := getPage(t, m, table, 1)
	write(t, h, 'w')
	a, err := m.GetAnonPage(ctx)
	require.NoError(t, err)
	write(t, a, 'n')

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	data, err := os.ReadFile(table.StorageLoc())
	require.NoError(t, err)
	assert.Equal(t, page('w'), data[testPageSize:])
	_, err = os.Stat(filepath.Join(dir, "temp.pages"))
	assert.True(t, os.IsNotExist(err))

	_, err = m.GetPage(ctx, table, 0)
	assert.ErrorIs(t, err, flushmanager.ErrManagerClosed)
	_, err = h.Bytes(ctx)
	assert.ErrorIs(t, err, flushmanager.ErrManagerClosed)
	assert.ErrorIs(t, m.FlushAll(ctx), flushmanager.ErrManagerClosed)
	h.Release()
}

func TestMetricsAreRecorded(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	m, table, _ := setupManager(t, 2, WithMeter(provider.Meter("test")))
	h := getPage(t, m, table, 0)
	write(t, h, 'm')
	read(t, h)
	h.Release()
	read(t, getPage(t, m, table, 1))
	read(t, getPage(t, m, table, 2))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.EqualValues(t, 3, sumOf(t, rm, "gojobuf.buffer.page_requests_total"))
	assert.EqualValues(t, 1, sumOf(t, rm, "gojobuf.buffer.evictions_total"))
	assert.EqualValues(t, 1, sumOf(t, rm, "gojobuf.buffer.write_backs_total"))
	assert.EqualValues(t, 2, sumOf(t, rm, "gojobuf.buffer.resident_pages"))
	assert.EqualValues(t, 1, sumOf(t, rm, "gojobuf.buffer.fast_path_hits_total"))
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}
