package zedstore

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/wapache-org/postgres-zedstore/internal/storeif"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
)

// TestConcurrentInsertersDontLoseRows fans out several concurrent
// inserters against one table and checks that every row they wrote is
// present exactly once in a scan taken afterward -- the same
// no-lost-writes invariant spec.md's concurrency scenarios require,
// grounded on the teacher pack's errgroup-driven concurrent-writer
// tests.
func TestConcurrentInsertersDontLoseRows(t *testing.T) {
	table := newTestTable(t, twoCols)
	ctx := context.Background()

	const writers = 8
	const perWriter = 20

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				xid := uint64(w*perWriter + i + 1)
				_, err := table.Insert(ctx, xid, storeif.Row{
					storeif.Int64Value(xid), storeif.StringValue("row"),
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent insert: %v", err)
	}

	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: writers*perWriter + 1}
	scan, err := table.Scan(ctx, snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer scan.Close()

	seen := map[int64]bool{}
	count := 0
	for {
		_, row, ok, err := scan.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
		id := int64(row[0].(storeif.Int64Value))
		if seen[id] {
			t.Errorf("id %d appeared more than once", id)
		}
		seen[id] = true
	}
	if count != writers*perWriter {
		t.Fatalf("scanned %d rows, want %d", count, writers*perWriter)
	}
}
