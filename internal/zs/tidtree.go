package zs

import (
	"fmt"
	"sync"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/undo"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// TidTree is the authoritative index of a table's row ids: every live
// or recently-dead tid the table has ever allocated, each carrying an
// undo pointer to the record describing its current state.
type TidTree struct {
	pager *bufmgr.Pager
	mu    sync.Mutex // serializes root changes and tid allocation
	root  bufmgr.BlockNum
}

func NewTidTree(pager *bufmgr.Pager, root bufmgr.BlockNum) *TidTree {
	return &TidTree{pager: pager, root: root}
}

func (t *TidTree) Root() bufmgr.BlockNum {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// LastTid returns the highest tid ever allocated by this tree, live or
// dead, or zstid.Invalid if the tree is empty.
func (t *TidTree) LastTid() (zstid.Tid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTidLocked()
}

func (t *TidTree) lastTidLocked() (zstid.Tid, error) {
	if t.root == bufmgr.InvalidBlock {
		return zstid.Invalid, nil
	}
	pg, p, err := descend(t.pager, t.root, zstid.Max, leafLevel, false)
	if err != nil {
		return zstid.Invalid, err
	}
	defer pg.RUnlock()
	if len(p.Items) == 0 {
		return zstid.Invalid, nil
	}
	it, err := decodeTidItem(p.Items[len(p.Items)-1].Payload)
	if err != nil {
		return zstid.Invalid, err
	}
	return it.lastTid(), nil
}

// Insert allocates count fresh, consecutive tids and records one
// INSERT undo record covering all of them: a multi-row insert becomes
// one run, matching zsbt_tid_multi_insert.
func (t *TidTree) Insert(log *undo.Log, xid uint64, count int, speculative bool) ([]zstid.Tid, error) {
	if count <= 0 {
		return nil, fmt.Errorf("zs: Insert: count must be positive, got %d", count)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	last, err := t.lastTidLocked()
	if err != nil {
		return nil, err
	}
	first := last + 1
	if last == zstid.Invalid {
		first = zstid.Min
	}

	ptr := log.Append(undo.Record{Kind: undo.Insert, Tid: first, Xid: xid})

	item := TidItem{FirstTid: first, NumTids: count}
	for i := 0; i < count; i++ {
		item.UndoPtrs = append(item.UndoPtrs, ptr)
		item.Dead = append(item.Dead, false)
		item.Speculative = append(item.Speculative, speculative)
	}

	raw := rawItem{FirstTid: first, Payload: encodeTidItem(item)}
	if err := insertItem(t.pager, &t.root, raw); err != nil {
		return nil, err
	}

	tids := make([]zstid.Tid, count)
	for i := range tids {
		tids[i] = first + zstid.Tid(i)
	}
	return tids, nil
}

// Fetch returns the undo pointer for tid, and whether the slot exists
// and is not marked dead.
func (t *TidTree) Fetch(tid zstid.Tid) (undo.Ptr, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == bufmgr.InvalidBlock {
		return undo.InvalidPtr, false, nil
	}
	pg, p, err := descend(t.pager, t.root, tid, leafLevel, false)
	if err != nil {
		return undo.InvalidPtr, false, err
	}
	defer pg.RUnlock()

	idx := findItemIndex(p.Items, tid)
	if idx < 0 {
		return undo.InvalidPtr, false, nil
	}
	it, err := decodeTidItem(p.Items[idx].Payload)
	if err != nil {
		return undo.InvalidPtr, false, err
	}
	offset := int(tid - it.FirstTid)
	if offset < 0 || offset >= it.NumTids || it.Dead[offset] {
		return undo.InvalidPtr, false, nil
	}
	return it.UndoPtrs[offset], true, nil
}

// mutateItem locates the run covering tid and applies mutate to its
// per-tid slices in place. Because mutation never changes a run's
// FirstTid or NumTids, the encoded item never grows past what the page
// already held room for, so this reuses descend's single locked page
// rather than the full insert path/split machinery.
func (t *TidTree) mutateItem(tid zstid.Tid, mutate func(it *TidItem, offset int) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pg, p, err := descend(t.pager, t.root, tid, leafLevel, true)
	if err != nil {
		return err
	}

	idx := findItemIndex(p.Items, tid)
	if idx < 0 {
		pg.Unlock(false)
		return fmt.Errorf("zs: tid %s not found", tid)
	}
	it, err := decodeTidItem(p.Items[idx].Payload)
	if err != nil {
		pg.Unlock(false)
		return err
	}
	offset := int(tid - it.FirstTid)
	if offset < 0 || offset >= it.NumTids {
		pg.Unlock(false)
		return fmt.Errorf("zs: tid %s not found", tid)
	}
	if err := mutate(&it, offset); err != nil {
		pg.Unlock(false)
		return err
	}
	p.Items[idx].Payload = encodeTidItem(it)

	if !pageFits(p, t.pager.PageSize()) {
		pg.Unlock(false)
		return fmt.Errorf("zs: in-place update of tid %s would overflow its page", tid)
	}
	if err := writePage(pg, p, t.pager.PageSize()); err != nil {
		pg.Unlock(false)
		return err
	}
	return pg.Unlock(true)
}

// Delete marks tid deleted by xid, after checking snap's visibility
// rules against the row's current undo pointer, chaining a DELETE
// record off it.
func (t *TidTree) Delete(log *undo.Log, snap visibility.Snapshot, xid uint64, tid zstid.Tid) error {
	ptr, ok, err := t.Fetch(tid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("zs: Delete: tid %s does not exist", tid)
	}
	status, err := visibility.SatisfiesUpdate(log, ptr, snap)
	if err != nil {
		return err
	}
	if status != visibility.MayUpdate {
		return fmt.Errorf("zs: Delete: tid %s is not visible for update (status %v)", tid, status)
	}

	newPtr := log.Append(undo.Record{Kind: undo.Delete, Tid: tid, Xid: xid, Prev: ptr})
	return t.mutateItem(tid, func(it *TidItem, offset int) error {
		it.UndoPtrs[offset] = newPtr
		return nil
	})
}

// Update replaces the row at oldTid with newTid (already inserted via
// Insert), holding the old row's leaf page locked across both the
// visibility check and the undo-chain update: a concurrent updater can
// never observe the row between "checked" and "marked". The reference
// engine instead releases the lock between the two steps and raises a
// fatal error if it loses the race; holding the lock the whole time
// avoids that failure mode at the cost of a slightly longer critical
// section.
func (t *TidTree) Update(log *undo.Log, snap visibility.Snapshot, xid uint64, oldTid, newTid zstid.Tid) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pg, p, err := descend(t.pager, t.root, oldTid, leafLevel, true)
	if err != nil {
		return err
	}

	idx := findItemIndex(p.Items, oldTid)
	if idx < 0 {
		pg.Unlock(false)
		return fmt.Errorf("zs: Update: tid %s does not exist", oldTid)
	}
	it, err := decodeTidItem(p.Items[idx].Payload)
	if err != nil {
		pg.Unlock(false)
		return err
	}
	offset := int(oldTid - it.FirstTid)
	if offset < 0 || offset >= it.NumTids {
		pg.Unlock(false)
		return fmt.Errorf("zs: Update: tid %s does not exist", oldTid)
	}

	status, err := visibility.SatisfiesUpdate(log, it.UndoPtrs[offset], snap)
	if err != nil {
		pg.Unlock(false)
		return err
	}
	if status != visibility.MayUpdate {
		pg.Unlock(false)
		return fmt.Errorf("zs: Update: tid %s is not visible for update (status %v)", oldTid, status)
	}

	newPtr := log.Append(undo.Record{Kind: undo.Update, Tid: oldTid, Xid: xid, Prev: it.UndoPtrs[offset], NewTid: newTid})
	it.UndoPtrs[offset] = newPtr
	p.Items[idx].Payload = encodeTidItem(it)

	if !pageFits(p, t.pager.PageSize()) {
		pg.Unlock(false)
		return fmt.Errorf("zs: Update: in-place update of tid %s would overflow its page", oldTid)
	}
	if err := writePage(pg, p, t.pager.PageSize()); err != nil {
		pg.Unlock(false)
		return err
	}
	return pg.Unlock(true)
}

// Lock records a TUPLE_LOCK undo entry against tid, refusing if the row
// is concurrently being modified by a transaction not yet visible.
func (t *TidTree) Lock(log *undo.Log, snap visibility.Snapshot, xid uint64, tid zstid.Tid, mode int) error {
	return t.mutateItem(tid, func(it *TidItem, offset int) error {
		status, err := visibility.SatisfiesUpdate(log, it.UndoPtrs[offset], snap)
		if err != nil {
			return err
		}
		if status == visibility.BeingModified {
			return fmt.Errorf("zs: Lock: tid %s is concurrently being modified", tid)
		}
		newPtr := log.Append(undo.Record{Kind: undo.TupleLock, Tid: tid, Xid: xid, Prev: it.UndoPtrs[offset], LockMode: mode})
		it.UndoPtrs[offset] = newPtr
		return nil
	})
}

// MarkDead flags tid dead without touching its undo pointer. Idempotent,
// matching zsbt_tid_mark_dead: vacuum calls this on every tid
// CollectDeadTids reported, and may be asked to do so more than once.
func (t *TidTree) MarkDead(tid zstid.Tid) error {
	return t.mutateItem(tid, func(it *TidItem, offset int) error {
		it.Dead[offset] = true
		return nil
	})
}

// UndoDeletion reverts a delete, but only if tid's undo pointer is
// still exactly deletePtr; if a later transaction has already
// superseded it, this is a no-op, matching zsbt_tid_undo_deletion.
func (t *TidTree) UndoDeletion(tid zstid.Tid, deletePtr, restorePtr undo.Ptr) error {
	return t.mutateItem(tid, func(it *TidItem, offset int) error {
		if it.UndoPtrs[offset] != deletePtr {
			return nil
		}
		it.UndoPtrs[offset] = restorePtr
		return nil
	})
}

// ClearSpeculativeToken clears the speculative-insertion marker on tid,
// once the speculative insert has been confirmed.
func (t *TidTree) ClearSpeculativeToken(tid zstid.Tid) error {
	return t.mutateItem(tid, func(it *TidItem, offset int) error {
		it.Speculative[offset] = false
		return nil
	})
}

// FindLatestTid follows the chain of UPDATE undo records starting from
// tid to the most recent row version reachable from it, the way
// zsbt_find_latest_tid lets a cursor positioned on a since-updated row
// find where it ended up.
func (t *TidTree) FindLatestTid(log *undo.Log, tid zstid.Tid) (zstid.Tid, error) {
	for {
		ptr, ok, err := t.Fetch(tid)
		if err != nil {
			return zstid.Invalid, err
		}
		if !ok {
			return tid, nil
		}
		rec, ok := log.Fetch(ptr)
		if !ok || rec.Kind != undo.Update {
			return tid, nil
		}
		tid = rec.NewTid
	}
}

// CollectDeadTids walks every leaf left to right and returns every tid
// whose current undo pointer resolves to a DELETE record from a
// transaction older than horizonXid: those rows are dead to every
// possible snapshot and safe for MarkDead/Remove to reclaim. limit <= 0
// means no limit.
func (t *TidTree) CollectDeadTids(log *undo.Log, horizonXid uint64, limit int) ([]zstid.Tid, error) {
	t.mu.Lock()
	root := t.root
	t.mu.Unlock()
	if root == bufmgr.InvalidBlock {
		return nil, nil
	}

	pg, p, err := descend(t.pager, root, zstid.Min, leafLevel, false)
	if err != nil {
		return nil, err
	}

	var dead []zstid.Tid
	for {
		for _, raw := range p.Items {
			it, err := decodeTidItem(raw.Payload)
			if err != nil {
				pg.RUnlock()
				return nil, err
			}
			for i := 0; i < it.NumTids; i++ {
				if it.Dead[i] {
					continue
				}
				rec, ok := log.Fetch(it.UndoPtrs[i])
				if ok && rec.Kind == undo.Delete && rec.Xid < horizonXid {
					dead = append(dead, it.FirstTid+zstid.Tid(i))
					if limit > 0 && len(dead) >= limit {
						pg.RUnlock()
						return dead, nil
					}
				}
			}
		}
		next := p.Rightlink
		pg.RUnlock()
		if next == bufmgr.InvalidBlock {
			return dead, nil
		}
		pg, err = t.pager.RLockPage(next)
		if err != nil {
			return nil, err
		}
		p, err = decodePage(pg.Bytes)
		if err != nil {
			pg.RUnlock()
			return nil, err
		}
	}
}

// Remove physically reclaims the entries for tids whose every slot in
// their run is already marked dead, matching zsbt_tid_remove. A run
// that is only partially dead is left alone: partial reclamation would
// require renumbering items mid-page for little space back. A leaf
// left with zero items is unlinked (see unlinkEmptyLeaf).
func (t *TidTree) Remove(tids []zstid.Tid) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tid := range tids {
		if err := t.removeOneLocked(tid); err != nil {
			return err
		}
	}
	return nil
}

func (t *TidTree) removeOneLocked(tid zstid.Tid) error {
	if t.root == bufmgr.InvalidBlock {
		return nil
	}
	path, err := descendPath(t.pager, t.root, tid)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	p := leaf.page

	idx := findItemIndex(p.Items, tid)
	if idx < 0 {
		unwindPath(path)
		return nil
	}
	it, err := decodeTidItem(p.Items[idx].Payload)
	if err != nil {
		unwindPath(path)
		return err
	}
	for _, d := range it.Dead {
		if !d {
			unwindPath(path)
			return nil
		}
	}
	p.Items = append(append([]rawItem{}, p.Items[:idx]...), p.Items[idx+1:]...)

	if len(p.Items) == 0 {
		return unlinkEmptyLeaf(t.pager, &t.root, path)
	}

	if err := writePage(leaf.pg, p, t.pager.PageSize()); err != nil {
		leaf.pg.Unlock(false)
		unwindPath(path[:len(path)-1])
		return err
	}
	leaf.pg.Unlock(true)
	unwindPath(path[:len(path)-1])
	return nil
}
