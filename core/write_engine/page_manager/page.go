package pagemanager

import (
	"fmt"
	"sync/atomic"
)

// --- Page Management ---

// NoBlock marks a page that does not currently own an arena block.
const NoBlock int32 = -1

// Key identifies a table-backed page: the table's storage location plus the
// page index within that file. Anonymous pages have no Key.
type Key struct {
	Loc string
	Pos int64
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Loc, k.Pos) }

// Page is the buffer manager's metadata for one logical page. The fields that
// the lock-free access path reads (block, tick, dirty, handles) are atomic;
// state and the I/O latch are guarded by the buffer manager lock.
type Page struct {
	id   uint64 // creation sequence, breaks LRU ties
	loc  string // storage location, empty for anonymous pages
	pos  int64
	anon bool

	block   atomic.Int32
	tick    atomic.Uint64
	dirty   atomic.Bool
	handles atomic.Int32

	state State
	// ioDone is non-nil while a load or write-back of this page is in flight
	// and is closed when it completes.
	ioDone chan struct{}
}

// NewPage creates metadata for the page at pos of the file at loc.
func NewPage(id uint64, loc string, pos int64) *Page {
	p := &Page{id: id, loc: loc, pos: pos, state: StateNonResident}
	p.block.Store(NoBlock)
	return p
}

// NewAnonPage creates metadata for a temp-file page at pos.
func NewAnonPage(id uint64, pos int64) *Page {
	p := NewPage(id, "", pos)
	p.anon = true
	return p
}

func (p *Page) ID() uint64        { return p.id }
func (p *Page) Loc() string       { return p.loc }
func (p *Page) Pos() int64        { return p.pos }
func (p *Page) IsAnonymous() bool { return p.anon }
func (p *Page) Key() Key          { return Key{Loc: p.loc, Pos: p.pos} }

func (p *Page) Block() int32          { return p.block.Load() }
func (p *Page) SetBlock(b int32)      { p.block.Store(b) }
func (p *Page) HasBlock() bool        { return p.block.Load() != NoBlock }
func (p *Page) Tick() uint64          { return p.tick.Load() }
func (p *Page) SetTick(t uint64)      { p.tick.Store(t) }
func (p *Page) IsDirty() bool         { return p.dirty.Load() }
func (p *Page) SetDirty(dirty bool)   { p.dirty.Store(dirty) }
func (p *Page) TakeDirty() bool       { return p.dirty.Swap(false) }
func (p *Page) Handles() int32        { return p.handles.Load() }
func (p *Page) AddHandle() int32      { return p.handles.Add(1) }
func (p *Page) DropHandle() int32     { return p.handles.Add(-1) }
func (p *Page) State() State          { return p.state }
func (p *Page) IODone() chan struct{} { return p.ioDone }

// BeginIO installs a fresh I/O latch and returns it.
func (p *Page) BeginIO() chan struct{} {
	p.ioDone = make(chan struct{})
	return p.ioDone
}

// EndIO releases whoever waits on the page's I/O latch.
func (p *Page) EndIO() {
	if p.ioDone != nil {
		close(p.ioDone)
		p.ioDone = nil
	}
}

// MoveTo switches the page to state to. It reports false, leaving the page
// untouched, when the transition is not legal.
func (p *Page) MoveTo(to State) bool {
	if !p.state.CanMoveTo(to) {
		return false
	}
	p.state = to
	return true
}

func (p *Page) String() string {
	if p.anon {
		return fmt.Sprintf("anon#%d(%s)", p.pos, p.state)
	}
	return fmt.Sprintf("%s#%d(%s)", p.loc, p.pos, p.state)
}
