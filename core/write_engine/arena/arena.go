// Package arena owns the resident page bytes: one slab cut into fixed-size
// blocks, handed out by index. A block is either on the free stack or owned by
// exactly one page.
package arena

import "fmt"

type Arena struct {
	blockSize int
	slab      []byte
	free      []int32
	owned     []bool
}

// New reserves count blocks of blockSize bytes each.
func New(blockSize, count int) (*Arena, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("arena block size must be positive, got %d", blockSize)
	}
	if count <= 0 {
		return nil, fmt.Errorf("arena block count must be positive, got %d", count)
	}
	a := &Arena{
		blockSize: blockSize,
		slab:      make([]byte, blockSize*count),
		free:      make([]int32, 0, count),
		owned:     make([]bool, count),
	}
	// pushed in reverse so block 0 is handed out first
	for i := count - 1; i >= 0; i-- {
		a.free = append(a.free, int32(i))
	}
	return a, nil
}

// Take pops a free block. ok is false when the free pool is empty.
func (a *Arena) Take() (block int32, ok bool) {
	if len(a.free) == 0 {
		return -1, false
	}
	block = a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.owned[block] = true
	return block, true
}

// Put returns block to the free pool. Returning a block twice is a bug in the
// caller and panics.
func (a *Arena) Put(block int32) {
	if !a.owned[block] {
		panic(fmt.Sprintf("arena: block %d returned while already free", block))
	}
	a.owned[block] = false
	a.free = append(a.free, block)
}

// Bytes is the memory of block. The slice stays valid until Release.
func (a *Arena) Bytes(block int32) []byte {
	off := int(block) * a.blockSize
	return a.slab[off : off+a.blockSize : off+a.blockSize]
}

// Zero clears block.
func (a *Arena) Zero(block int32) {
	clear(a.Bytes(block))
}

func (a *Arena) BlockSize() int { return a.blockSize }
func (a *Arena) Capacity() int  { return len(a.owned) }
func (a *Arena) Free() int      { return len(a.free) }

// Release drops the slab. The arena must not be used afterwards.
func (a *Arena) Release() {
	a.slab = nil
	a.free = nil
	a.owned = nil
}
