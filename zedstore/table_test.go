package zedstore

import (
	"context"
	"testing"

	"github.com/wapache-org/postgres-zedstore/internal/storeif"
	"github.com/wapache-org/postgres-zedstore/internal/testutil"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

func newTestTable(t *testing.T, cols []storeif.ColumnDef) *Table {
	t.Helper()
	store := testutil.NewMemStore()
	table, err := Create(store, Config{PageSize: 512}, cols)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return table
}

var twoCols = []storeif.ColumnDef{{Name: "id"}, {Name: "name", Nullable: true}}

func TestInsertAndScan(t *testing.T) {
	table := newTestTable(t, twoCols)
	ctx := context.Background()

	_, err := table.MultiInsert(ctx, 1, []storeif.Row{
		{storeif.Int64Value(1), storeif.StringValue("alice")},
		{storeif.Int64Value(2), storeif.StringValue("bob")},
	})
	if err != nil {
		t.Fatalf("MultiInsert: %v", err)
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: 100}
	scan, err := table.Scan(ctx, snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer scan.Close()

	var rows []storeif.Row
	for {
		_, row, ok, err := scan.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	if len(rows) != 2 {
		t.Fatalf("scanned %d rows, want 2", len(rows))
	}
	if rows[0][1].String() != "alice" || rows[1][1].String() != "bob" {
		t.Errorf("unexpected row contents: %v", rows)
	}
}

func TestUpdateVisibility(t *testing.T) {
	table := newTestTable(t, twoCols)
	ctx := context.Background()

	tid, err := table.Insert(ctx, 1, storeif.Row{storeif.Int64Value(1), storeif.StringValue("v1")})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: 100}
	newTid, status, err := table.Update(ctx, snap, 2, tid, storeif.Row{storeif.Int64Value(1), storeif.StringValue("v2")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if status != visibility.MayUpdate {
		t.Fatalf("Update status = %v, want MayUpdate", status)
	}

	row, ok, err := table.IndexFetch(ctx, snap, newTid)
	if err != nil {
		t.Fatalf("IndexFetch new: %v", err)
	}
	if !ok || row[1].String() != "v2" {
		t.Errorf("new row = %v ok=%v, want v2", row, ok)
	}

	oldRow, ok, err := table.IndexFetch(ctx, snap, tid)
	if err != nil {
		t.Fatalf("IndexFetch old: %v", err)
	}
	if ok {
		t.Errorf("old row should no longer be visible, got %v", oldRow)
	}
}

func TestDeleteThenVacuum(t *testing.T) {
	table := newTestTable(t, twoCols)
	ctx := context.Background()

	tid, err := table.Insert(ctx, 1, storeif.Row{storeif.Int64Value(1), storeif.Null{}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: 100}
	if err := table.Delete(ctx, snap, 2, tid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	stats, err := table.Vacuum(ctx, 1000)
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if stats.DeadTidsRemoved != 1 {
		t.Errorf("Vacuum removed %d tids, want 1", stats.DeadTidsRemoved)
	}

	if _, ok, err := table.IndexFetch(ctx, snap, tid); err != nil || ok {
		t.Errorf("row should be gone after vacuum: ok=%v err=%v", ok, err)
	}
}

func TestAddColumnDefaultsOldRows(t *testing.T) {
	table := newTestTable(t, twoCols)
	ctx := context.Background()

	tid, err := table.Insert(ctx, 1, storeif.Row{storeif.Int64Value(1), storeif.StringValue("a")})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := table.AddColumn(ctx, storeif.ColumnDef{Name: "note"}, storeif.StringValue("default")); err != nil {
		t.Fatalf("AddColumn: %v", err)
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: 100}
	row, ok, err := table.IndexFetch(ctx, snap, tid)
	if err != nil {
		t.Fatalf("IndexFetch: %v", err)
	}
	if !ok {
		t.Fatalf("row not found")
	}
	if len(row) != 3 {
		t.Fatalf("row has %d columns, want 3", len(row))
	}
	if row[2].String() != "default" {
		t.Errorf("new column = %q, want %q", row[2].String(), "default")
	}
}

func TestToastRoundTrip(t *testing.T) {
	table := newTestTable(t, []storeif.ColumnDef{{Name: "body"}})
	table.cfg.ToastThreshold = 16
	ctx := context.Background()

	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte('a' + i%26)
	}

	tid, err := table.Insert(ctx, 1, storeif.Row{storeif.StringValue(big)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	toasted, err := table.ToastID(0, tid)
	if err != nil {
		t.Fatalf("ToastID: %v", err)
	}
	if !toasted {
		t.Fatalf("expected large value to be toasted")
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: 100}
	row, ok, err := table.IndexFetch(ctx, snap, tid)
	if err != nil {
		t.Fatalf("IndexFetch: %v", err)
	}
	if !ok {
		t.Fatalf("row not found")
	}
	if row[0].String() != string(big) {
		t.Errorf("round-tripped toast value does not match (len %d vs %d)", len(row[0].String()), len(big))
	}
}

func TestBitmapHeapScan(t *testing.T) {
	table := newTestTable(t, twoCols)
	ctx := context.Background()

	tids, err := table.MultiInsert(ctx, 1, []storeif.Row{
		{storeif.Int64Value(1), storeif.StringValue("a")},
		{storeif.Int64Value(2), storeif.StringValue("b")},
		{storeif.Int64Value(3), storeif.StringValue("c")},
	})
	if err != nil {
		t.Fatalf("MultiInsert: %v", err)
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: 100}
	scan, err := table.BitmapHeapScan(ctx, snap, []zstid.Tid{tids[0], tids[2]})
	if err != nil {
		t.Fatalf("BitmapHeapScan: %v", err)
	}
	defer scan.Close()

	var seen []string
	for {
		_, row, ok, err := scan.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		seen = append(seen, row[1].String())
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "c" {
		t.Errorf("BitmapHeapScan returned %v, want [a c]", seen)
	}
}
