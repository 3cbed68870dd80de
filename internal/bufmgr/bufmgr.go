// Package bufmgr is a minimal stand-in for the buffer manager that
// spec.md declares an external collaborator. It gives the B-tree code in
// internal/zs a pin+lock contract to run against: pins are a plain
// reference count, locks are a reader/writer mutex, and the two are
// independent, exactly as spec.md Sec 5 requires.
package bufmgr

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// BlockNum identifies a fixed-size block within a BlockStore.
type BlockNum uint32

// InvalidBlock is the sentinel for "no block" (a right-link off the end
// of a chain, or an empty tree's root pointer).
const InvalidBlock BlockNum = 0xFFFFFFFF

// BlockStore is the durable substrate behind a Pager. Implementations live
// in internal/pagestore.
type BlockStore interface {
	ReadBlock(blk BlockNum, buf []byte) error
	WriteBlock(blk BlockNum, buf []byte) error
	Allocate() (BlockNum, error)
	BlockCount() (BlockNum, error)
	Sync() error
}

// Page is one cached block, pinned and possibly locked by the caller.
type Page struct {
	mu    sync.RWMutex
	blk   BlockNum
	pager *Pager
	pin   int32
	dirty bool

	Bytes []byte
}

func (pg *Page) Block() BlockNum { return pg.blk }

// RLock takes a share lock on an already-pinned page.
func (pg *Page) RLock() { pg.mu.RLock() }

// Lock takes an exclusive lock on an already-pinned page.
func (pg *Page) Lock() { pg.mu.Lock() }

// RUnlock releases a share lock, keeping the pin.
func (pg *Page) RUnlock() { pg.mu.RUnlock() }

// Unlock releases an exclusive lock, flushing the page first if it is
// dirty (or if the caller marks it dirty here).
func (pg *Page) Unlock(dirty bool) error {
	var err error
	if dirty {
		pg.dirty = true
	}
	if pg.dirty {
		err = pg.pager.writePage(pg)
		if err == nil {
			pg.dirty = false
		}
	}
	pg.mu.Unlock()
	return err
}

// MarkDirty flags the page for write-back on the next Unlock. Callers use
// this instead of Unlock(true) when the critical section unlocks via a
// deferred call that doesn't know whether it mutated the page.
func (pg *Page) MarkDirty() { pg.dirty = true }

// Release drops this caller's pin without touching the lock. Used for
// buffers handed back "pinned but unlocked", per descend's contract in
// spec.md Sec 4.C2.
func (pg *Page) Release() {
	atomic.AddInt32(&pg.pin, -1)
}

// Pager is the buffer pool: one cached Page per block, read through to a
// BlockStore on first reference.
type Pager struct {
	mu       sync.Mutex
	pages    map[BlockNum]*Page
	ioMu     sync.Mutex
	store    BlockStore
	pageSize int
}

func NewPager(store BlockStore, pageSize int) *Pager {
	return &Pager{pages: map[BlockNum]*Page{}, store: store, pageSize: pageSize}
}

func (pc *Pager) PageSize() int { return pc.pageSize }

// Fetch pins the page for blk without locking it. Callers must Lock or
// RLock before touching Bytes. Unlock/RUnlock release only the lock; the
// pin count is decremented only by Release.
func (pc *Pager) Fetch(blk BlockNum) (*Page, error) {
	pc.mu.Lock()
	if pg, ok := pc.pages[blk]; ok {
		atomic.AddInt32(&pg.pin, 1)
		pc.mu.Unlock()
		return pg, nil
	}
	pg := &Page{blk: blk, pager: pc, pin: 1, Bytes: make([]byte, pc.pageSize)}
	pc.pages[blk] = pg
	pc.mu.Unlock()

	if err := pc.readPage(pg); err != nil {
		return nil, err
	}
	return pg, nil
}

// LockPage fetches and exclusively locks a page in one call.
func (pc *Pager) LockPage(blk BlockNum) (*Page, error) {
	pg, err := pc.Fetch(blk)
	if err != nil {
		return nil, err
	}
	pg.Lock()
	return pg, nil
}

// RLockPage fetches and share-locks a page in one call.
func (pc *Pager) RLockPage(blk BlockNum) (*Page, error) {
	pg, err := pc.Fetch(blk)
	if err != nil {
		return nil, err
	}
	pg.RLock()
	return pg, nil
}

// NewPage allocates a fresh block from the store and returns it pinned
// and exclusively locked. Allocation happens here, before a split writes
// any of its new page images, so that running out of space
// surfaces as a plain error instead of corrupting a half-applied
// structural change (spec.md Sec 4.C1, Sec 7 item 4).
func (pc *Pager) NewPage() (*Page, error) {
	pc.ioMu.Lock()
	blk, err := pc.store.Allocate()
	pc.ioMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bufmgr: allocate page: %w", err)
	}
	pg := &Page{blk: blk, pager: pc, pin: 1, Bytes: make([]byte, pc.pageSize), dirty: true}
	pc.mu.Lock()
	pc.pages[blk] = pg
	pc.mu.Unlock()
	pg.Lock()
	return pg, nil
}

func (pc *Pager) readPage(pg *Page) error {
	pc.ioMu.Lock()
	defer pc.ioMu.Unlock()

	count, err := pc.store.BlockCount()
	if err != nil {
		return err
	}
	if BlockNum(pg.blk) >= count {
		return nil // brand new, zero-filled page
	}
	return pc.store.ReadBlock(pg.blk, pg.Bytes)
}

func (pc *Pager) writePage(pg *Page) error {
	pc.ioMu.Lock()
	defer pc.ioMu.Unlock()
	return pc.store.WriteBlock(pg.blk, pg.Bytes)
}

// Sync flushes the underlying store.
func (pc *Pager) Sync() error {
	pc.ioMu.Lock()
	defer pc.ioMu.Unlock()
	return pc.store.Sync()
}
