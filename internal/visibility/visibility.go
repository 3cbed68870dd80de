// Package visibility is a minimal stand-in for the external MVCC
// machinery spec.md treats as a collaborator rather than something
// this engine owns: given a snapshot and the undo record chain
// attached to a row's current tid, decide whether the row is visible,
// and whether an update or delete attempt against it should proceed,
// conflict, or wait.
package visibility

import (
	"github.com/wapache-org/postgres-zedstore/internal/undo"
)

// Snapshot answers the one question the rest of this package needs: is
// the effect of transaction xid visible to the snapshot holder.
type Snapshot interface {
	XidVisible(xid uint64) bool
}

// SimpleSnapshot is a straightforward Postgres-style snapshot: a
// transaction's effects are visible if it committed before the
// snapshot was taken and it isn't the snapshot holder's own
// in-progress work being looked at out of order.
type SimpleSnapshot struct {
	Own        uint64
	Xmin       uint64
	Xmax       uint64
	InProgress map[uint64]bool
}

func (s SimpleSnapshot) XidVisible(xid uint64) bool {
	if xid == s.Own {
		return true
	}
	if xid < s.Xmin {
		return true
	}
	if xid >= s.Xmax {
		return false
	}
	return !s.InProgress[xid]
}

// resolve walks a record's Prev chain past lock-only entries to the
// nearest record that actually creates or ends a row version.
func resolve(log *undo.Log, ptr undo.Ptr) (undo.Record, bool) {
	for {
		rec, ok := log.Fetch(ptr)
		if !ok {
			return undo.Record{}, false
		}
		if rec.Kind != undo.TupleLock {
			return rec, true
		}
		ptr = rec.Prev
		if ptr == undo.InvalidPtr {
			return undo.Record{}, false
		}
	}
}

// SatisfiesVisibility reports whether the row version identified by ptr
// (the undo pointer stored alongside a TidItem) is visible to snap. A
// zero ptr means the row has no outstanding undo entry and is always
// visible: it was committed long enough ago that the record was
// discarded.
func SatisfiesVisibility(log *undo.Log, ptr undo.Ptr, snap Snapshot) (bool, error) {
	if ptr == undo.InvalidPtr {
		return true, nil
	}
	rec, ok := resolve(log, ptr)
	if !ok {
		return true, nil
	}

	switch rec.Kind {
	case undo.Insert:
		return snap.XidVisible(rec.Xid), nil
	case undo.Delete, undo.Update:
		// The row version existed before this delete/update. It remains
		// visible to snap exactly as long as the delete/update itself
		// isn't visible yet.
		return !snap.XidVisible(rec.Xid), nil
	default:
		return true, nil
	}
}

// UpdateStatus is the outcome of checking a row version against an
// update or delete attempt.
type UpdateStatus int

const (
	// MayUpdate means the row is visible to the caller's own command and
	// not concurrently being modified: it's safe to proceed.
	MayUpdate UpdateStatus = iota
	// Updated means a different, already-visible transaction replaced
	// this row version.
	Updated
	// RowDeleted means a different, already-visible transaction deleted
	// this row version.
	RowDeleted
	// BeingModified means a concurrent, not-yet-visible transaction is
	// in the middle of updating or deleting this row version; the
	// caller must wait for it and retry.
	BeingModified
)

// SatisfiesUpdate decides whether an update or delete against the row
// version addressed by ptr may proceed under snap.
func SatisfiesUpdate(log *undo.Log, ptr undo.Ptr, snap Snapshot) (UpdateStatus, error) {
	if ptr == undo.InvalidPtr {
		return MayUpdate, nil
	}
	rec, ok := resolve(log, ptr)
	if !ok {
		return MayUpdate, nil
	}

	switch rec.Kind {
	case undo.Insert:
		return MayUpdate, nil
	case undo.Delete:
		if snap.XidVisible(rec.Xid) {
			return RowDeleted, nil
		}
		return BeingModified, nil
	case undo.Update:
		if snap.XidVisible(rec.Xid) {
			return Updated, nil
		}
		return BeingModified, nil
	default:
		return MayUpdate, nil
	}
}

// CheckForSerializableConflictOut is a hook the scan path calls whenever
// it skips a not-yet-visible row version, mirroring the reference
// engine's integration point with serializable snapshot isolation. This
// stand-in never raises a conflict; a caller wiring in a real
// serializable-isolation manager would make this hook call into it.
func CheckForSerializableConflictOut(snap Snapshot, xid uint64) error {
	return nil
}
