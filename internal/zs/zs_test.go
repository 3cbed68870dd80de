package zs

import (
	"fmt"
	"testing"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/testutil"
	"github.com/wapache-org/postgres-zedstore/internal/undo"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

const testPageSize = 512

func newTestPager() *bufmgr.Pager {
	return testutil.NewMemPager(testPageSize)
}

func alwaysVisible() visibility.Snapshot {
	return visibility.SimpleSnapshot{Xmin: 1, Xmax: 1 << 30}
}

func TestTidTreeInsertFetch(t *testing.T) {
	pager := newTestPager()
	tree := NewTidTree(pager, bufmgr.InvalidBlock)
	log := undo.NewLog()

	tids, err := tree.Insert(log, 10, 3, false)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(tids) != 3 {
		t.Fatalf("Insert returned %d tids, want 3", len(tids))
	}

	for _, tid := range tids {
		ptr, ok, err := tree.Fetch(tid)
		if err != nil {
			t.Fatalf("Fetch(%s): %v", tid, err)
		}
		if !ok {
			t.Fatalf("Fetch(%s) not found", tid)
		}
		if ptr == undo.InvalidPtr {
			t.Errorf("Fetch(%s) returned InvalidPtr", tid)
		}
	}

	last, err := tree.LastTid()
	if err != nil {
		t.Fatalf("LastTid: %v", err)
	}
	if last != tids[len(tids)-1] {
		t.Errorf("LastTid() = %s, want %s", last, tids[len(tids)-1])
	}
}

func TestTidTreeForcesSplit(t *testing.T) {
	pager := newTestPager()
	tree := NewTidTree(pager, bufmgr.InvalidBlock)
	log := undo.NewLog()

	var all []zstid.Tid
	for i := 0; i < 200; i++ {
		tids, err := tree.Insert(log, uint64(i+1), 1, false)
		if err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
		all = append(all, tids[0])
	}

	for _, tid := range all {
		if _, ok, err := tree.Fetch(tid); err != nil || !ok {
			t.Fatalf("Fetch(%s) after many inserts: ok=%v err=%v", tid, ok, err)
		}
	}
}

func TestTidTreeDeleteAndVisibility(t *testing.T) {
	pager := newTestPager()
	tree := NewTidTree(pager, bufmgr.InvalidBlock)
	log := undo.NewLog()

	tids, err := tree.Insert(log, 10, 1, false)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tid := tids[0]

	snap := visibility.SimpleSnapshot{Xmin: 1, Xmax: 100}
	if err := tree.Delete(log, snap, 20, tid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ptr, _, err := tree.Fetch(tid)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	beforeDelete := visibility.SimpleSnapshot{Xmin: 1, Xmax: 15}
	visible, err := visibility.SatisfiesVisibility(log, ptr, beforeDelete)
	if err != nil {
		t.Fatalf("SatisfiesVisibility: %v", err)
	}
	if !visible {
		t.Errorf("row should still be visible to a snapshot predating the delete")
	}

	afterDelete := visibility.SimpleSnapshot{Xmin: 1, Xmax: 100}
	visible, err = visibility.SatisfiesVisibility(log, ptr, afterDelete)
	if err != nil {
		t.Fatalf("SatisfiesVisibility: %v", err)
	}
	if visible {
		t.Errorf("row should not be visible once its delete is visible")
	}
}

func TestTidTreeUpdateChain(t *testing.T) {
	pager := newTestPager()
	tree := NewTidTree(pager, bufmgr.InvalidBlock)
	log := undo.NewLog()
	snap := alwaysVisible()

	oldTids, err := tree.Insert(log, 1, 1, false)
	if err != nil {
		t.Fatalf("Insert old: %v", err)
	}
	newTids, err := tree.Insert(log, 1, 1, false)
	if err != nil {
		t.Fatalf("Insert new: %v", err)
	}

	if err := tree.Update(log, snap, 1, oldTids[0], newTids[0]); err != nil {
		t.Fatalf("Update: %v", err)
	}

	latest, err := tree.FindLatestTid(log, oldTids[0])
	if err != nil {
		t.Fatalf("FindLatestTid: %v", err)
	}
	if latest != newTids[0] {
		t.Errorf("FindLatestTid = %s, want %s", latest, newTids[0])
	}
}

func TestTidTreeVacuumCycle(t *testing.T) {
	pager := newTestPager()
	tree := NewTidTree(pager, bufmgr.InvalidBlock)
	log := undo.NewLog()

	tids, err := tree.Insert(log, 1, 1, false)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tid := tids[0]

	snap := visibility.SimpleSnapshot{Xmin: 1, Xmax: 100}
	if err := tree.Delete(log, snap, 5, tid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	dead, err := tree.CollectDeadTids(log, 1000, 0)
	if err != nil {
		t.Fatalf("CollectDeadTids: %v", err)
	}
	found := false
	for _, d := range dead {
		if d == tid {
			found = true
		}
	}
	if !found {
		t.Fatalf("CollectDeadTids did not report %s as dead, got %v", tid, dead)
	}

	if err := tree.MarkDead(tid); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}
	if err := tree.Remove(dead); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok, err := tree.Fetch(tid); err != nil {
		t.Fatalf("Fetch after Remove: %v", err)
	} else if ok {
		t.Errorf("Fetch(%s) should fail after Remove", tid)
	}
}

func TestAttrTreeMultiInsertAndFetch(t *testing.T) {
	pager := newTestPager()
	tree := NewAttrTree(pager, bufmgr.InvalidBlock)

	tids := []zstid.Tid{1, 2, 3, 4, 5}
	isNulls := make([]bool, 5)
	datums := make([][]byte, 5)
	for i := range tids {
		datums[i] = []byte(fmt.Sprintf("value-%d", i))
	}

	if err := tree.MultiInsert(tids, isNulls, datums); err != nil {
		t.Fatalf("MultiInsert: %v", err)
	}

	for i, tid := range tids {
		isNull, datum, found, err := tree.Fetch(tid)
		if err != nil {
			t.Fatalf("Fetch(%s): %v", tid, err)
		}
		if !found {
			t.Fatalf("Fetch(%s) not found", tid)
		}
		if isNull {
			t.Errorf("Fetch(%s) reported null", tid)
		}
		if string(datum) != string(datums[i]) {
			t.Errorf("Fetch(%s) = %q, want %q", tid, datum, datums[i])
		}
	}
}

func TestAttrTreeDuplicateInsertFails(t *testing.T) {
	pager := newTestPager()
	tree := NewAttrTree(pager, bufmgr.InvalidBlock)

	tids := []zstid.Tid{10}
	if err := tree.MultiInsert(tids, []bool{false}, [][]byte{[]byte("a")}); err != nil {
		t.Fatalf("first MultiInsert: %v", err)
	}
	if err := tree.MultiInsert(tids, []bool{false}, [][]byte{[]byte("b")}); err == nil {
		t.Errorf("inserting a second value for an already-populated tid should fail")
	}
}

func TestAttrTreeRemove(t *testing.T) {
	pager := newTestPager()
	tree := NewAttrTree(pager, bufmgr.InvalidBlock)

	tids := []zstid.Tid{1, 2, 3}
	datums := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	if err := tree.MultiInsert(tids, make([]bool, 3), datums); err != nil {
		t.Fatalf("MultiInsert: %v", err)
	}

	if err := tree.Remove([]zstid.Tid{2}); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, _, found, err := tree.Fetch(2); err != nil || found {
		t.Errorf("Fetch(2) after Remove: found=%v err=%v", found, err)
	}
	if _, datum, found, err := tree.Fetch(1); err != nil || !found || string(datum) != "a" {
		t.Errorf("Fetch(1) after removing 2: datum=%q found=%v err=%v", datum, found, err)
	}
	if _, datum, found, err := tree.Fetch(3); err != nil || !found || string(datum) != "c" {
		t.Errorf("Fetch(3) after removing 2: datum=%q found=%v err=%v", datum, found, err)
	}
}

func TestCrossTreeScan(t *testing.T) {
	pager := newTestPager()
	tids := NewTidTree(pager, bufmgr.InvalidBlock)
	col0 := NewAttrTree(pager, bufmgr.InvalidBlock)
	log := undo.NewLog()
	snap := alwaysVisible()

	var allTids []zstid.Tid
	for i := 0; i < 5; i++ {
		got, err := tids.Insert(log, 1, 1, false)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		allTids = append(allTids, got[0])
		if err := col0.MultiInsert(got, []bool{false}, [][]byte{[]byte(fmt.Sprintf("row-%d", i))}); err != nil {
			t.Fatalf("MultiInsert: %v", err)
		}
	}

	// Delete the middle row; it should vanish from the merged scan.
	if err := tids.Delete(log, visibility.SimpleSnapshot{Xmin: 1, Xmax: 2}, 2, allTids[2]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	tidScan, err := tids.BeginScan(log, snap, zstid.Min)
	if err != nil {
		t.Fatalf("BeginScan tid: %v", err)
	}
	attrScan, err := col0.BeginScan(zstid.Min)
	if err != nil {
		t.Fatalf("BeginScan attr: %v", err)
	}
	scan, err := NewScan(tidScan, []*AttrScan{attrScan})
	if err != nil {
		t.Fatalf("NewScan: %v", err)
	}
	defer scan.Close()

	var seen []zstid.Tid
	for {
		row, ok, err := scan.Next()
		if err != nil {
			t.Fatalf("Scan.Next: %v", err)
		}
		if !ok {
			break
		}
		seen = append(seen, row.Tid)
		if row.IsNulls[0] {
			t.Errorf("row %s unexpectedly null", row.Tid)
		}
	}

	if len(seen) != 4 {
		t.Fatalf("scan returned %d rows, want 4 (one deleted): %v", len(seen), seen)
	}
	for _, tid := range seen {
		if tid == allTids[2] {
			t.Errorf("deleted tid %s should not appear in scan", tid)
		}
	}
}
