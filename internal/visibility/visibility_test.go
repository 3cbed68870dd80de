package visibility

import (
	"testing"

	"github.com/wapache-org/postgres-zedstore/internal/undo"
)

func TestSatisfiesVisibilityNoUndo(t *testing.T) {
	log := undo.NewLog()
	snap := SimpleSnapshot{Xmin: 1, Xmax: 100}
	visible, err := SatisfiesVisibility(log, undo.InvalidPtr, snap)
	if err != nil {
		t.Fatalf("SatisfiesVisibility: %v", err)
	}
	if !visible {
		t.Errorf("row with no undo pointer must always be visible")
	}
}

func TestSatisfiesVisibilityInsert(t *testing.T) {
	log := undo.NewLog()
	ptr := log.Append(undo.Record{Kind: undo.Insert, Xid: 50})

	committed := SimpleSnapshot{Xmin: 1, Xmax: 100}
	visible, _ := SatisfiesVisibility(log, ptr, committed)
	if !visible {
		t.Errorf("insert by an xid below Xmax and not in-progress should be visible")
	}

	tooNew := SimpleSnapshot{Xmin: 1, Xmax: 40}
	visible, _ = SatisfiesVisibility(log, ptr, tooNew)
	if visible {
		t.Errorf("insert by an xid at/above Xmax should not be visible yet")
	}
}

func TestSatisfiesVisibilityDelete(t *testing.T) {
	log := undo.NewLog()
	ptr := log.Append(undo.Record{Kind: undo.Delete, Xid: 50})

	beforeDelete := SimpleSnapshot{Xmin: 1, Xmax: 40}
	visible, _ := SatisfiesVisibility(log, ptr, beforeDelete)
	if !visible {
		t.Errorf("row should still be visible to a snapshot that predates the delete")
	}

	afterDelete := SimpleSnapshot{Xmin: 1, Xmax: 100}
	visible, _ = SatisfiesVisibility(log, ptr, afterDelete)
	if visible {
		t.Errorf("row should not be visible once its delete is visible")
	}
}

func TestSatisfiesUpdate(t *testing.T) {
	log := undo.NewLog()
	insertPtr := log.Append(undo.Record{Kind: undo.Insert, Xid: 10})

	snap := SimpleSnapshot{Xmin: 1, Xmax: 100}
	status, err := SatisfiesUpdate(log, insertPtr, snap)
	if err != nil {
		t.Fatalf("SatisfiesUpdate: %v", err)
	}
	if status != MayUpdate {
		t.Errorf("fresh insert should report MayUpdate, got %v", status)
	}

	deletePtr := log.Append(undo.Record{Kind: undo.Delete, Xid: 20, Prev: insertPtr})
	status, _ = SatisfiesUpdate(log, deletePtr, snap)
	if status != RowDeleted {
		t.Errorf("already-visible delete should report RowDeleted, got %v", status)
	}

	concurrent := SimpleSnapshot{Xmin: 1, Xmax: 100, InProgress: map[uint64]bool{20: true}}
	status, _ = SatisfiesUpdate(log, deletePtr, concurrent)
	if status != BeingModified {
		t.Errorf("in-progress delete should report BeingModified, got %v", status)
	}
}

func TestSatisfiesVisibilitySkipsTupleLock(t *testing.T) {
	log := undo.NewLog()
	insertPtr := log.Append(undo.Record{Kind: undo.Insert, Xid: 5})
	lockPtr := log.Append(undo.Record{Kind: undo.TupleLock, Xid: 6, Prev: insertPtr})

	snap := SimpleSnapshot{Xmin: 1, Xmax: 100}
	visible, err := SatisfiesVisibility(log, lockPtr, snap)
	if err != nil {
		t.Fatalf("SatisfiesVisibility: %v", err)
	}
	if !visible {
		t.Errorf("a lock-only record should resolve through to the insert and be visible")
	}
}
