// Package affinity tells the buffer manager which worker slot a call runs in
// and which arena block each slot is currently protecting from eviction.
//
// Workers started by the buffer manager receive a context carrying their
// slot. Any other context maps to MainSlot, so goroutines that were not
// started as workers share the main slot.
package affinity

import (
	"context"
	"sync/atomic"
)

// Slot indexes the Thread Slot Table. Slot 0 is the main thread.
type Slot int

const MainSlot Slot = 0

// none is stored in a slot that protects no block.
const none int32 = -1

type slotKey struct{}

// WithSlot returns a context whose calls run in slot s.
func WithSlot(ctx context.Context, s Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, s)
}

// SlotFrom returns the slot carried by ctx, or MainSlot.
func SlotFrom(ctx context.Context) Slot {
	if ctx == nil {
		return MainSlot
	}
	if s, ok := ctx.Value(slotKey{}).(Slot); ok {
		return s
	}
	return MainSlot
}

// Table holds one protected block per slot. Reads are lock-free so the access
// fast path can check its own slot; Reset and Protect are called under the
// buffer manager lock.
type Table struct {
	slots atomic.Pointer[[]atomic.Int32]
}

// NewTable returns a table with only the main slot.
func NewTable() *Table {
	t := &Table{}
	t.Reset(1)
	return t
}

// Reset resizes the table to n slots. The main slot keeps its block; every
// other slot starts empty.
func (t *Table) Reset(n int) {
	if n < 1 {
		n = 1
	}
	slots := make([]atomic.Int32, n)
	for i := range slots {
		slots[i].Store(none)
	}
	if old := t.slots.Load(); old != nil {
		slots[MainSlot].Store((*old)[MainSlot].Load())
	}
	t.slots.Store(&slots)
}

// Len is the number of slots, main slot included.
func (t *Table) Len() int { return len(*t.slots.Load()) }

// resolve maps slots from a finished worker batch back to the main slot.
func (t *Table) resolve(s Slot) (*[]atomic.Int32, Slot) {
	slots := t.slots.Load()
	if s < 0 || int(s) >= len(*slots) {
		return slots, MainSlot
	}
	return slots, s
}

// Protect records block as the one slot s must not lose.
func (t *Table) Protect(s Slot, block int32) {
	slots, s := t.resolve(s)
	(*slots)[s].Store(block)
}

// ProtectedBy reports whether slot s currently protects block.
func (t *Table) ProtectedBy(s Slot, block int32) bool {
	slots, s := t.resolve(s)
	return (*slots)[s].Load() == block
}

// IsProtected reports whether any slot protects block.
func (t *Table) IsProtected(block int32) bool {
	slots := t.slots.Load()
	for i := range *slots {
		if (*slots)[i].Load() == block {
			return true
		}
	}
	return false
}

// Clear drops block from every slot protecting it.
func (t *Table) Clear(block int32) {
	slots := t.slots.Load()
	for i := range *slots {
		(*slots)[i].CompareAndSwap(block, none)
	}
}
