// Package storeif is the storage AM callback surface an executor would
// drive a table through: row-at-a-time and batched mutation, locking,
// index/bitmap/sample scans, vacuum, analyze, schema evolution, and the
// two-line toast contract. zedstore.Table is the only implementation.
package storeif

import (
	"context"
	"fmt"

	"github.com/wapache-org/postgres-zedstore/internal/undo"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// Value is one column value, kept deliberately small: enough to
// compare and print, the way the teacher's sql.Value is, without
// dragging in a full SQL type system that is out of scope here.
type Value interface {
	fmt.Stringer
	Compare(v2 Value) (int, error)
}

// Null is the one value that is never stored: columns track nullness
// out of band (zs.AttrItem.IsNulls), so Null only ever appears in a Row
// handed to a caller, never written back into an attribute tree.
type Null struct{}

func (Null) String() string { return "NULL" }
func (Null) Compare(v2 Value) (int, error) {
	if _, ok := v2.(Null); ok {
		return 0, nil
	}
	return -1, nil
}

type Int64Value int64

func (i Int64Value) String() string { return fmt.Sprintf("%d", int64(i)) }
func (i Int64Value) Compare(v2 Value) (int, error) {
	o, ok := v2.(Int64Value)
	if !ok {
		return 0, fmt.Errorf("storeif: want Int64Value, got %T", v2)
	}
	switch {
	case i < o:
		return -1, nil
	case i > o:
		return 1, nil
	}
	return 0, nil
}

type StringValue string

func (s StringValue) String() string { return string(s) }
func (s StringValue) Compare(v2 Value) (int, error) {
	o, ok := v2.(StringValue)
	if !ok {
		return 0, fmt.Errorf("storeif: want StringValue, got %T", v2)
	}
	switch {
	case s < o:
		return -1, nil
	case s > o:
		return 1, nil
	}
	return 0, nil
}

type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (b BoolValue) Compare(v2 Value) (int, error) {
	o, ok := v2.(BoolValue)
	if !ok {
		return 0, fmt.Errorf("storeif: want BoolValue, got %T", v2)
	}
	if b == o {
		return 0, nil
	}
	if !b {
		return -1, nil
	}
	return 1, nil
}

// Row is one logical row's worth of column values, in column-number
// order. A Null entry means the column is null for this row.
type Row []Value

// LockMode mirrors the two tuple-lock strengths the undo layer
// distinguishes: a plain read lock ("for share") versus an update lock
// that also blocks a concurrent key-changing update.
type LockMode int

const (
	LockForShare LockMode = iota
	LockForUpdate
)

// ColumnDef describes one column for CreateTable/AddColumn.
type ColumnDef struct {
	Name     string
	Nullable bool
}

// SampleMethod selects a SampleScan strategy.
type SampleMethod int

const (
	// SampleSystem includes or skips whole tid blocks (the
	// OffsetsPerBlock consecutive tids sharing one zstid.Tid.Block()):
	// rows within a sampled block are not independently selected.
	SampleSystem SampleMethod = iota
	// SampleBernoulli independently includes each live row with
	// probability Percent/100.
	SampleBernoulli
)

// VacuumStats summarizes one Vacuum pass, for a caller that wants to
// log or test against it.
type VacuumStats struct {
	DeadTidsRemoved  int
	ToastPagesFreed  int
	MissingAttrWarns int
}

// Stats summarizes one Analyze pass.
type Stats struct {
	LiveRows int64
}

// RowIterator is the cursor type returned by every scan-shaped method.
// Callers call Next until ok is false, then Close exactly once.
type RowIterator interface {
	Next() (tid zstid.Tid, row Row, ok bool, err error)
	Close()
}

// Table is the storage AM callback surface: what an executor (absent
// here; out of scope per the Non-goals) would call to read and write
// one table's rows.
type Table interface {
	Insert(ctx context.Context, xid uint64, row Row) (zstid.Tid, error)
	MultiInsert(ctx context.Context, xid uint64, rows []Row) ([]zstid.Tid, error)
	Delete(ctx context.Context, snap visibility.Snapshot, xid uint64, tid zstid.Tid) error
	Update(ctx context.Context, snap visibility.Snapshot, xid uint64, oldTid zstid.Tid, newRow Row) (zstid.Tid, visibility.UpdateStatus, error)
	Lock(ctx context.Context, snap visibility.Snapshot, xid uint64, tid zstid.Tid, mode LockMode) (visibility.UpdateStatus, error)

	IndexFetch(ctx context.Context, snap visibility.Snapshot, tid zstid.Tid) (Row, bool, error)
	BitmapHeapScan(ctx context.Context, snap visibility.Snapshot, tids []zstid.Tid) (RowIterator, error)
	SampleScan(ctx context.Context, snap visibility.Snapshot, method SampleMethod, percent float64, seed int64) (RowIterator, error)
	Scan(ctx context.Context, snap visibility.Snapshot) (RowIterator, error)

	Vacuum(ctx context.Context, horizonXid uint64) (VacuumStats, error)
	Analyze(ctx context.Context) (Stats, error)
	AddColumn(ctx context.Context, def ColumnDef, defaultValue Value) error

	Copy(ctx context.Context, snap visibility.Snapshot, fn func(tid zstid.Tid, row Row) error) error

	// ToastID reports whether the stored value for (attno, tid) lives
	// out-of-line in the toast chain rather than inline in the
	// attribute tree. spec.md's one-line contract is phrased
	// column-less ("does this attribute value live out-of-line"); a
	// real table has one tree per column, so this adapts that contract
	// to take the column number explicitly.
	ToastID(attno int, tid zstid.Tid) (bool, error)
	FetchToast(ptr []byte) ([]byte, error)
}

// UndoLog is an alias for undo.Log, the concrete log type a Table
// records its undo entries in.
type UndoLog = undo.Log
