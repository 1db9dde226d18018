// Package lru keeps resident, evictable pages ordered by last-use tick. The
// minimum is the next eviction candidate.
package lru

import (
	"github.com/google/btree"

	pagemanager "github.com/sushant-115/gojobuf/core/write_engine/page_manager"
)

// Index orders pages by (tick, id). A page's tick must not change while it is
// in the index: remove it, restamp it, insert it again.
// It is not safe for concurrent use; the buffer manager lock guards it.
type Index struct {
	tree *btree.BTreeG[*pagemanager.Page]
}

func less(a, b *pagemanager.Page) bool {
	if a.Tick() != b.Tick() {
		return a.Tick() < b.Tick()
	}
	return a.ID() < b.ID()
}

func New() *Index {
	return &Index{tree: btree.NewG(16, less)}
}

// Insert adds p. Inserting a page that is already present is a no-op.
func (ix *Index) Insert(p *pagemanager.Page) {
	ix.tree.ReplaceOrInsert(p)
}

// Remove deletes p and reports whether it was present.
func (ix *Index) Remove(p *pagemanager.Page) bool {
	_, ok := ix.tree.Delete(p)
	return ok
}

func (ix *Index) Contains(p *pagemanager.Page) bool {
	return ix.tree.Has(p)
}

func (ix *Index) Len() int { return ix.tree.Len() }

// Oldest returns the least recently used page.
func (ix *Index) Oldest() (*pagemanager.Page, bool) {
	return ix.tree.Min()
}

// Victim scans from the oldest page and returns the first one skip rejects.
// ok is false when every page is skipped; the scan never wraps around.
func (ix *Index) Victim(skip func(*pagemanager.Page) bool) (victim *pagemanager.Page, ok bool) {
	ix.tree.Ascend(func(p *pagemanager.Page) bool {
		if skip(p) {
			return true
		}
		victim, ok = p, true
		return false
	})
	return victim, ok
}

// Ascend visits pages from oldest to newest until fn returns false.
func (ix *Index) Ascend(fn func(*pagemanager.Page) bool) {
	ix.tree.Ascend(fn)
}
