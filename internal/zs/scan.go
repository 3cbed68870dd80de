package zs

import (
	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/undo"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// TidScan walks a TidTree's leaves left to right from a starting tid,
// applying snap's visibility rules one row at a time, matching
// zsbt_tid_scan_next. A leaf is locked only long enough to decode and
// cache its items; Next serves rows from that cache and never holds a
// page lock across a call returning to the caller, so a row handed
// back to a caller never keeps a writer out of that leaf.
type TidScan struct {
	pager *bufmgr.Pager
	log   *undo.Log
	snap  visibility.Snapshot

	page    *page
	itemIdx int
	offset  int
	done    bool
}

// BeginScan opens a tid-tree scan starting at start (inclusive).
func (t *TidTree) BeginScan(log *undo.Log, snap visibility.Snapshot, start zstid.Tid) (*TidScan, error) {
	s := &TidScan{pager: t.pager, log: log, snap: snap}

	t.mu.Lock()
	root := t.root
	t.mu.Unlock()
	if root == bufmgr.InvalidBlock {
		s.done = true
		return s, nil
	}

	pg, p, err := descend(t.pager, root, start, leafLevel, false)
	if err != nil {
		return nil, err
	}
	pg.RUnlock()
	s.page = p
	if idx := findItemIndex(p.Items, start); idx >= 0 {
		s.itemIdx = idx
		it, err := decodeTidItem(p.Items[idx].Payload)
		if err != nil {
			return nil, err
		}
		if off := int(start - it.FirstTid); off > 0 {
			s.offset = off
		}
	}
	return s, nil
}

// Next returns the next visible (tid, undo pointer) pair in tid order,
// or ok=false once the scan is exhausted.
func (s *TidScan) Next() (tid zstid.Tid, ptr undo.Ptr, ok bool, err error) {
	for {
		if s.done {
			return 0, undo.InvalidPtr, false, nil
		}
		if s.itemIdx >= len(s.page.Items) {
			next := s.page.Rightlink
			if next == bufmgr.InvalidBlock {
				s.done = true
				return 0, undo.InvalidPtr, false, nil
			}
			pg, err := s.pager.RLockPage(next)
			if err != nil {
				s.done = true
				return 0, undo.InvalidPtr, false, err
			}
			p, err := decodePage(pg.Bytes)
			pg.RUnlock()
			if err != nil {
				s.done = true
				return 0, undo.InvalidPtr, false, err
			}
			s.page, s.itemIdx, s.offset = p, 0, 0
			continue
		}

		it, err := decodeTidItem(s.page.Items[s.itemIdx].Payload)
		if err != nil {
			return 0, undo.InvalidPtr, false, err
		}
		if s.offset >= it.NumTids {
			s.itemIdx++
			s.offset = 0
			continue
		}

		curTid := it.FirstTid + zstid.Tid(s.offset)
		dead := it.Dead[s.offset]
		curPtr := it.UndoPtrs[s.offset]
		s.offset++

		if dead {
			continue
		}
		visible, err := visibility.SatisfiesVisibility(s.log, curPtr, s.snap)
		if err != nil {
			return 0, undo.InvalidPtr, false, err
		}
		if !visible {
			if rec, ok := s.log.Fetch(curPtr); ok {
				_ = visibility.CheckForSerializableConflictOut(s.snap, rec.Xid)
			}
			continue
		}
		return curTid, curPtr, true, nil
	}
}

// Close marks the scan exhausted. Safe to call more than once; never
// holds a page lock by the time a caller can reach it.
func (s *TidScan) Close() {
	s.done = true
}

// AttrScan walks an AttrTree's leaves left to right, yielding every
// stored (tid, value) in tid order, with no visibility filtering of
// its own: the tid tree's scan decides which tids are live. Like
// TidScan, a leaf is locked only long enough to decode and cache its
// items.
type AttrScan struct {
	pager *bufmgr.Pager

	page    *page
	itemIdx int
	offset  int
	done    bool
}

// BeginScan opens an attribute-tree scan starting at start (inclusive).
func (a *AttrTree) BeginScan(start zstid.Tid) (*AttrScan, error) {
	s := &AttrScan{pager: a.pager}

	a.mu.Lock()
	root := a.root
	a.mu.Unlock()
	if root == bufmgr.InvalidBlock {
		s.done = true
		return s, nil
	}

	pg, p, err := descend(a.pager, root, start, leafLevel, false)
	if err != nil {
		return nil, err
	}
	pg.RUnlock()
	s.page = p
	if idx := findItemIndex(p.Items, start); idx >= 0 {
		s.itemIdx = idx
		it, err := decodeAttrItem(p.Items[idx].Payload)
		if err != nil {
			return nil, err
		}
		if off := int(start - it.FirstTid); off > 0 {
			s.offset = off
		}
	}
	return s, nil
}

func (s *AttrScan) Next() (tid zstid.Tid, isNull bool, datum []byte, ok bool, err error) {
	for {
		if s.done {
			return 0, false, nil, false, nil
		}
		if s.itemIdx >= len(s.page.Items) {
			next := s.page.Rightlink
			if next == bufmgr.InvalidBlock {
				s.done = true
				return 0, false, nil, false, nil
			}
			pg, err := s.pager.RLockPage(next)
			if err != nil {
				s.done = true
				return 0, false, nil, false, err
			}
			p, err := decodePage(pg.Bytes)
			pg.RUnlock()
			if err != nil {
				s.done = true
				return 0, false, nil, false, err
			}
			s.page, s.itemIdx, s.offset = p, 0, 0
			continue
		}

		it, err := decodeAttrItem(s.page.Items[s.itemIdx].Payload)
		if err != nil {
			return 0, false, nil, false, err
		}
		if s.offset >= it.NumTids {
			s.itemIdx++
			s.offset = 0
			continue
		}
		curTid := it.FirstTid + zstid.Tid(s.offset)
		isN := it.IsNulls[s.offset]
		d := it.Datums[s.offset]
		s.offset++
		return curTid, isN, d, true, nil
	}
}

func (s *AttrScan) Close() {
	s.done = true
}

// Row is one reconstructed row: a live tid plus one value per column.
type Row struct {
	Tid     zstid.Tid
	IsNulls []bool
	Datums  [][]byte
}

// Scan is the cross-tree coordinator: one TidTree cursor plus one
// AttrTree cursor per column, merged by tid. This is what lets the tid
// tree decide visibility while each attribute tree only ever has to
// enumerate its own values in order.
type Scan struct {
	tids  *TidScan
	attrs []*AttrScan

	attrCur  []zstid.Tid
	attrNull []bool
	attrVal  [][]byte
	attrOK   []bool
}

func NewScan(tids *TidScan, attrs []*AttrScan) (*Scan, error) {
	s := &Scan{
		tids:     tids,
		attrs:    attrs,
		attrCur:  make([]zstid.Tid, len(attrs)),
		attrNull: make([]bool, len(attrs)),
		attrVal:  make([][]byte, len(attrs)),
		attrOK:   make([]bool, len(attrs)),
	}
	for i := range attrs {
		if err := s.advanceAttr(i); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scan) advanceAttr(i int) error {
	tid, isNull, datum, ok, err := s.attrs[i].Next()
	if err != nil {
		return err
	}
	s.attrCur[i], s.attrNull[i], s.attrVal[i], s.attrOK[i] = tid, isNull, datum, ok
	return nil
}

// Next returns the next live row. A column whose cursor has no stored
// value at the tid tree's current tid (the column was added after the
// row was inserted) reads back as null here; the zedstore package
// substitutes the column's ADD COLUMN default for such a value.
func (s *Scan) Next() (Row, bool, error) {
	tid, _, ok, err := s.tids.Next()
	if err != nil || !ok {
		return Row{}, false, err
	}

	row := Row{Tid: tid, IsNulls: make([]bool, len(s.attrs)), Datums: make([][]byte, len(s.attrs))}
	for i := range s.attrs {
		for s.attrOK[i] && s.attrCur[i] < tid {
			if err := s.advanceAttr(i); err != nil {
				return Row{}, false, err
			}
		}
		if s.attrOK[i] && s.attrCur[i] == tid {
			row.IsNulls[i] = s.attrNull[i]
			row.Datums[i] = s.attrVal[i]
		} else {
			row.IsNulls[i] = true
		}
	}
	return row, true, nil
}

func (s *Scan) Close() {
	s.tids.Close()
	for _, a := range s.attrs {
		a.Close()
	}
}
