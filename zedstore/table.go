// Package zedstore ties one tid tree and one attribute tree per column
// into a storeif.Table: the columnar, MVCC table storage engine
// described in SPEC_FULL.md.
package zedstore

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/storeif"
	"github.com/wapache-org/postgres-zedstore/internal/undo"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zs"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// Table is the concrete storeif.Table: a tid tree plus one attribute
// tree per live column, all sharing one pager and one undo log.
type Table struct {
	cfg   Config
	pager *bufmgr.Pager
	log   *undo.Log

	mu      sync.RWMutex // guards cols/colDefs/defaults (only AddColumn grows them)
	metaMu  sync.Mutex   // serializes metapage read-modify-write across concurrent writers
	meta    *zs.Meta
	tids    *zs.TidTree
	cols    []*zs.AttrTree
	colDefs []storeif.ColumnDef
	defaults []storeif.Value
}

// Create initializes a brand new table: a fresh metapage (block 0) and
// one empty attribute tree per column. store must not have any blocks
// allocated yet.
func Create(store bufmgr.BlockStore, cfg Config, cols []storeif.ColumnDef) (*Table, error) {
	cfg = cfg.WithDefaults()
	pager := bufmgr.NewPager(store, cfg.PageSize)

	meta, err := zs.InitMeta(pager, len(cols))
	if err != nil {
		return nil, fmt.Errorf("zedstore: create table: %w", err)
	}

	t := &Table{
		cfg:      cfg,
		pager:    pager,
		log:      undo.NewLog(),
		meta:     meta,
		tids:     zs.NewTidTree(pager, meta.TidRoot),
		colDefs:  append([]storeif.ColumnDef{}, cols...),
		defaults: make([]storeif.Value, len(cols)),
	}
	for range cols {
		t.cols = append(t.cols, zs.NewAttrTree(pager, bufmgr.InvalidBlock))
	}
	return t, nil
}

// Open reattaches to a table previously built by Create, using the
// metapage already written to store.
func Open(store bufmgr.BlockStore, cfg Config, cols []storeif.ColumnDef) (*Table, error) {
	cfg = cfg.WithDefaults()
	pager := bufmgr.NewPager(store, cfg.PageSize)

	meta, err := zs.LoadMeta(pager, len(cols))
	if err != nil {
		return nil, fmt.Errorf("zedstore: open table: %w", err)
	}

	t := &Table{
		cfg:      cfg,
		pager:    pager,
		log:      undo.NewLog(),
		meta:     meta,
		tids:     zs.NewTidTree(pager, meta.TidRoot),
		colDefs:  append([]storeif.ColumnDef{}, cols...),
		defaults: make([]storeif.Value, len(cols)),
	}
	for _, root := range meta.AttrRoots {
		t.cols = append(t.cols, zs.NewAttrTree(pager, root))
	}
	return t, nil
}

// syncMeta refreshes the metapage's root pointers after a structural
// change to the tid tree or an attribute tree. It takes its own lock
// rather than relying on a caller's t.mu, because every mutating
// Table method only needs a read lock on t.mu (cols/colDefs/defaults
// are append-only, grown solely by AddColumn) and multiple such
// methods can be writing concurrently.
func (t *Table) syncMeta() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.metaMu.Lock()
	defer t.metaMu.Unlock()

	t.meta.TidRoot = t.tids.Root()
	for i, c := range t.cols {
		t.meta.AttrRoots[i] = c.Root()
	}
	return t.meta.Store(t.pager)
}

// encodeDatum turns one column value into the bytes an attribute tree
// stores, toasting it first if it's over threshold.
func (t *Table) encodeDatum(v storeif.Value) (isNull bool, datum []byte, err error) {
	if v == nil {
		return true, nil, nil
	}
	if _, ok := v.(storeif.Null); ok {
		return true, nil, nil
	}
	enc, err := encodeValue(v)
	if err != nil {
		return false, nil, err
	}
	if len(enc) <= t.cfg.ToastThreshold {
		return false, enc, nil
	}
	ptr, err := writeToast(t.pager, enc)
	if err != nil {
		return false, nil, err
	}
	return false, encodeToastPointer(ptr), nil
}

// decodeDatum reverses encodeDatum, following a toast pointer if one
// is present.
func (t *Table) decodeDatum(isNull bool, datum []byte) (storeif.Value, error) {
	if isNull {
		return storeif.Null{}, nil
	}
	if isToastPointer(datum) {
		ptr, err := decodeToastPointer(datum)
		if err != nil {
			return nil, err
		}
		raw, err := readToast(t.pager, ptr)
		if err != nil {
			return nil, err
		}
		return decodeValue(raw)
	}
	return decodeValue(datum)
}

// Insert stores one new row and returns its tid, matching
// zedstore_insert / zsbt_tid_insert + zsbt_attr_insert in the
// reference engine.
func (t *Table) Insert(ctx context.Context, xid uint64, row storeif.Row) (zstid.Tid, error) {
	tids, err := t.MultiInsert(ctx, xid, []storeif.Row{row})
	if err != nil {
		return zstid.Invalid, err
	}
	return tids[0], nil
}

// MultiInsert batches several rows into one run of consecutive tids
// and one leaf item per column, matching the COPY-style fast path the
// reference engine provides (zsbt_tid_multi_insert /
// zsbt_attr_multi_insert).
func (t *Table) MultiInsert(ctx context.Context, xid uint64, rows []storeif.Row) ([]zstid.Tid, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	t.mu.RLock()
	ncols := len(t.cols)
	t.mu.RUnlock()
	for i, row := range rows {
		if len(row) != ncols {
			return nil, fmt.Errorf("zedstore: MultiInsert: row %d has %d values, want %d", i, len(row), ncols)
		}
	}

	tids, err := t.tids.Insert(t.log, xid, len(rows), false)
	if err != nil {
		return nil, err
	}

	if err := func() error {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for c := 0; c < ncols; c++ {
			isNulls := make([]bool, len(rows))
			datums := make([][]byte, len(rows))
			for r, row := range rows {
				isNull, datum, err := t.encodeDatum(row[c])
				if err != nil {
					return fmt.Errorf("zedstore: encode column %d of row %d: %w", c, r, err)
				}
				isNulls[r] = isNull
				datums[r] = datum
			}
			if err := t.cols[c].MultiInsert(tids, isNulls, datums); err != nil {
				return err
			}
		}
		return nil
	}(); err != nil {
		return nil, err
	}

	// syncMeta takes its own lock on t.mu; it must run after the block
	// above has released its read lock, since RWMutex read locks are
	// not safely re-entrant against a writer that might be queued
	// in between (AddColumn).
	if err := t.syncMeta(); err != nil {
		return nil, err
	}
	log.WithField("rows", len(rows)).Debug("zedstore: inserted rows")
	return tids, nil
}

func (t *Table) Delete(ctx context.Context, snap visibility.Snapshot, xid uint64, tid zstid.Tid) error {
	if err := t.tids.Delete(t.log, snap, xid, tid); err != nil {
		return err
	}
	return t.syncMeta()
}

// Update allocates a new row version, writes its column values, and
// links it to oldTid via an UPDATE undo record. If oldTid is no longer
// visible for update, no new row is written and the caller's status
// explains why (matching TM_Result from the reference engine's
// heap_update, adapted to this engine's smaller status set).
func (t *Table) Update(ctx context.Context, snap visibility.Snapshot, xid uint64, oldTid zstid.Tid, newRow storeif.Row) (zstid.Tid, visibility.UpdateStatus, error) {
	oldPtr, found, err := t.tids.Fetch(oldTid)
	if err != nil {
		return zstid.Invalid, 0, err
	}
	if !found {
		return zstid.Invalid, visibility.RowDeleted, fmt.Errorf("zedstore: Update: tid %s does not exist", oldTid)
	}
	status, err := visibility.SatisfiesUpdate(t.log, oldPtr, snap)
	if err != nil {
		return zstid.Invalid, 0, err
	}
	if status != visibility.MayUpdate {
		return zstid.Invalid, status, nil
	}

	newTids, err := t.MultiInsert(ctx, xid, []storeif.Row{newRow})
	if err != nil {
		return zstid.Invalid, 0, err
	}
	newTid := newTids[0]

	if err := t.tids.Update(t.log, snap, xid, oldTid, newTid); err != nil {
		return zstid.Invalid, 0, err
	}
	return newTid, visibility.MayUpdate, t.syncMeta()
}

func (t *Table) Lock(ctx context.Context, snap visibility.Snapshot, xid uint64, tid zstid.Tid, mode storeif.LockMode) (visibility.UpdateStatus, error) {
	ptr, found, err := t.tids.Fetch(tid)
	if err != nil {
		return 0, err
	}
	if !found {
		return visibility.RowDeleted, fmt.Errorf("zedstore: Lock: tid %s does not exist", tid)
	}
	status, err := visibility.SatisfiesUpdate(t.log, ptr, snap)
	if err != nil {
		return 0, err
	}
	if status == visibility.BeingModified {
		return status, nil
	}
	lockMode := int(mode)
	if err := t.tids.Lock(t.log, snap, xid, tid, lockMode); err != nil {
		return 0, err
	}
	return visibility.MayUpdate, nil
}

// buildRow reads every column's value for tid, used by IndexFetch and
// every scan flavor.
func (t *Table) buildRow(tid zstid.Tid) (storeif.Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row := make(storeif.Row, len(t.cols))
	for i, col := range t.cols {
		isNull, datum, found, err := col.Fetch(tid)
		if err != nil {
			return nil, err
		}
		if !found {
			if t.defaults[i] != nil {
				row[i] = t.defaults[i]
			} else {
				row[i] = storeif.Null{}
			}
			continue
		}
		v, err := t.decodeDatum(isNull, datum)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func (t *Table) IndexFetch(ctx context.Context, snap visibility.Snapshot, tid zstid.Tid) (storeif.Row, bool, error) {
	ptr, found, err := t.tids.Fetch(tid)
	if err != nil || !found {
		return nil, false, err
	}
	visible, err := visibility.SatisfiesVisibility(t.log, ptr, snap)
	if err != nil || !visible {
		return nil, false, err
	}
	row, err := t.buildRow(tid)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (t *Table) ToastID(attno int, tid zstid.Tid) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if attno < 0 || attno >= len(t.cols) {
		return false, fmt.Errorf("zedstore: ToastID: column %d out of range", attno)
	}
	_, datum, found, err := t.cols[attno].Fetch(tid)
	if err != nil || !found {
		return false, err
	}
	return isToastPointer(datum), nil
}

func (t *Table) FetchToast(ptr []byte) ([]byte, error) {
	p, err := decodeToastPointer(ptr)
	if err != nil {
		return nil, err
	}
	return readToast(t.pager, p)
}
