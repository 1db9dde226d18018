package pagemanager

import "github.com/google/btree"

// PositionPool hands out page positions in the shared temporary file. Released
// positions are reused lowest first; when none are free the file is extended.
// It is not safe for concurrent use.
type PositionPool struct {
	free *btree.BTreeG[int64]
	next int64
}

func NewPositionPool() *PositionPool {
	return &PositionPool{free: btree.NewOrderedG[int64](8)}
}

// Acquire returns the lowest recycled position, or the next unused one.
func (pp *PositionPool) Acquire() int64 {
	if pos, ok := pp.free.DeleteMin(); ok {
		return pos
	}
	pos := pp.next
	pp.next++
	return pos
}

// Release makes pos available again.
func (pp *PositionPool) Release(pos int64) {
	pp.free.ReplaceOrInsert(pos)
}

// Extent is the number of positions the temp file has ever been extended to.
func (pp *PositionPool) Extent() int64 { return pp.next }

// Recycled is the number of positions waiting for reuse.
func (pp *PositionPool) Recycled() int { return pp.free.Len() }
