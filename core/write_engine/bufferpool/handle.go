package bufferpool

import (
	"context"
	"sync/atomic"

	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
)

// PageHandle is a counted reference to a page. A page stays tracked while at
// least one handle to it is live; Release drops the reference.
type PageHandle struct {
	mgr      *BufferManager
	page     *pagemanager.Page
	released atomic.Bool
}

// Bytes returns the page's block, loading it from disk first if needed. The
// slice stays valid until the calling goroutine accesses another page or the
// page is unpinned and evicted.
func (h *PageHandle) Bytes(ctx context.Context) ([]byte, error) {
	if h.released.Load() {
		return nil, flushmanager.ErrHandleReleased
	}
	block, err := h.mgr.access(ctx, h.page)
	if err != nil {
		return nil, err
	}
	return h.mgr.arena.Bytes(block), nil
}

// WroteBytes marks the page dirty so it is written back before its block is
// reused.
func (h *PageHandle) WroteBytes() {
	h.page.SetDirty(true)
}

// Unpin is shorthand for h's manager Unpin. It does nothing once h is
// released.
func (h *PageHandle) Unpin() {
	if h.released.Load() {
		return
	}
	h.mgr.Unpin(h)
}

// Clone returns a second, independent handle to the same page. Cloning a
// released handle returns nil.
func (h *PageHandle) Clone() *PageHandle {
	if h.released.Load() {
		return nil
	}
	h.page.AddHandle()
	return &PageHandle{mgr: h.mgr, page: h.page}
}

// Release drops the handle's reference. It is safe to call more than once.
func (h *PageHandle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.mgr.release(h.page)
}

func (h *PageHandle) Page() *pagemanager.Page { return h.page }
