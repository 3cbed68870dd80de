package zedstore

import (
	"context"
	"fmt"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/storeif"
	"github.com/wapache-org/postgres-zedstore/internal/visibility"
	"github.com/wapache-org/postgres-zedstore/internal/zs"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// fullScan wraps a zs.Scan and decodes every column value, turning the
// hard core's raw-bytes Row into a storeif.Row.
type fullScan struct {
	t    *Table
	scan *zs.Scan
}

func (s *fullScan) Next() (zstid.Tid, storeif.Row, bool, error) {
	r, ok, err := s.scan.Next()
	if err != nil || !ok {
		return 0, nil, ok, err
	}
	row := make(storeif.Row, len(r.IsNulls))
	for i := range row {
		if r.IsNulls[i] {
			// A null may mean the column has no stored value for this
			// row (added later); buildRow reads those as the default.
			s.t.mu.RLock()
			def, col := s.t.defaults[i], s.t.cols[i]
			s.t.mu.RUnlock()
			if def != nil {
				_, _, found, err := col.Fetch(r.Tid)
				if err != nil {
					return 0, nil, false, err
				}
				if !found {
					row[i] = def
					continue
				}
			}
		}
		v, err := s.t.decodeDatum(r.IsNulls[i], r.Datums[i])
		if err != nil {
			return 0, nil, false, err
		}
		row[i] = v
	}
	return r.Tid, row, true, nil
}

func (s *fullScan) Close() { s.scan.Close() }

func (t *Table) newFullScan(snap visibility.Snapshot) (*fullScan, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tidScan, err := t.tids.BeginScan(t.log, snap, zstid.Min)
	if err != nil {
		return nil, err
	}
	attrs := make([]*zs.AttrScan, len(t.cols))
	for i, c := range t.cols {
		as, err := c.BeginScan(zstid.Min)
		if err != nil {
			tidScan.Close()
			for _, a := range attrs[:i] {
				a.Close()
			}
			return nil, err
		}
		attrs[i] = as
	}
	zscan, err := zs.NewScan(tidScan, attrs)
	if err != nil {
		return nil, err
	}
	return &fullScan{t: t, scan: zscan}, nil
}

// Scan implements a plain sequential scan of every visible row.
func (t *Table) Scan(ctx context.Context, snap visibility.Snapshot) (storeif.RowIterator, error) {
	return t.newFullScan(snap)
}

// bitmapIter replays a fixed list of tids through IndexFetch, matching
// a bitmap heap scan driven by an index AM this engine doesn't itself
// implement (out of scope; see SPEC_FULL.md Non-goals).
type bitmapIter struct {
	t    *Table
	snap visibility.Snapshot
	tids []zstid.Tid
	pos  int
}

func (b *bitmapIter) Next() (zstid.Tid, storeif.Row, bool, error) {
	for b.pos < len(b.tids) {
		tid := b.tids[b.pos]
		b.pos++
		row, ok, err := b.t.IndexFetch(context.Background(), b.snap, tid)
		if err != nil {
			return 0, nil, false, err
		}
		if ok {
			return tid, row, true, nil
		}
	}
	return 0, nil, false, nil
}

func (b *bitmapIter) Close() {}

func (t *Table) BitmapHeapScan(ctx context.Context, snap visibility.Snapshot, tids []zstid.Tid) (storeif.RowIterator, error) {
	return &bitmapIter{t: t, snap: snap, tids: append([]zstid.Tid{}, tids...)}, nil
}

// sampleIter filters a fullScan down to a sampled subset.
type sampleIter struct {
	inner   *fullScan
	method  storeif.SampleMethod
	percent float64
	rnd     *rand.Rand

	pageBlock       zstid.Tid // coarse key used for SampleSystem's per-block decision
	pageIncluded    bool
	pageInitialized bool
}

func (s *sampleIter) Next() (zstid.Tid, storeif.Row, bool, error) {
	for {
		tid, row, ok, err := s.inner.Next()
		if err != nil || !ok {
			return 0, nil, ok, err
		}
		switch s.method {
		case storeif.SampleBernoulli:
			if s.rnd.Float64()*100 < s.percent {
				return tid, row, true, nil
			}
		case storeif.SampleSystem:
			block := tid.Block()
			if !s.pageInitialized || zstid.Tid(block) != s.pageBlock {
				s.pageBlock = zstid.Tid(block)
				s.pageIncluded = s.rnd.Float64()*100 < s.percent
				s.pageInitialized = true
			}
			if s.pageIncluded {
				return tid, row, true, nil
			}
		default:
			return 0, nil, false, fmt.Errorf("zedstore: unknown sample method %d", s.method)
		}
	}
}

func (s *sampleIter) Close() { s.inner.Close() }

// SampleScan implements TABLESAMPLE SYSTEM/BERNOULLI: Bernoulli
// independently samples each live row, System includes or skips each
// tid block (tid.Block()) as a whole, matching spec.md scenario 6. Both
// read every visible row of the table and filter it.
func (t *Table) SampleScan(ctx context.Context, snap visibility.Snapshot, method storeif.SampleMethod, percent float64, seed int64) (storeif.RowIterator, error) {
	inner, err := t.newFullScan(snap)
	if err != nil {
		return nil, err
	}
	return &sampleIter{inner: inner, method: method, percent: percent, rnd: rand.New(rand.NewSource(seed))}, nil
}

// Copy streams every visible row to fn, in tid order, for bulk export.
func (t *Table) Copy(ctx context.Context, snap visibility.Snapshot, fn func(tid zstid.Tid, row storeif.Row) error) error {
	scan, err := t.newFullScan(snap)
	if err != nil {
		return err
	}
	defer scan.Close()
	for {
		tid, row, ok, err := scan.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(tid, row); err != nil {
			return err
		}
	}
}

// Vacuum reclaims tids whose delete is older than horizonXid, from the
// tid tree and from every attribute tree, and counts their toast chains'
// pages in ToastPagesFreed; those toast blocks stay allocated, since
// bufmgr has no free list.
func (t *Table) Vacuum(ctx context.Context, horizonXid uint64) (storeif.VacuumStats, error) {
	t.mu.RLock()
	cols := t.cols
	t.mu.RUnlock()

	var stats storeif.VacuumStats
	for {
		dead, err := t.tids.CollectDeadTids(t.log, horizonXid, t.cfg.MaintenanceWorkMem)
		if err != nil {
			return stats, err
		}
		if len(dead) == 0 {
			break
		}

		for i, col := range cols {
			for _, tid := range dead {
				_, datum, found, err := col.Fetch(tid)
				if err != nil {
					return stats, err
				}
				if !found {
					stats.MissingAttrWarns++
					log.WithField("tid", tid.String()).WithField("attno", i).
						Warn("zedstore: vacuum found no attribute row for a dead tid")
					continue
				}
				if isToastPointer(datum) {
					ptr, err := decodeToastPointer(datum)
					if err != nil {
						return stats, err
					}
					freed, err := freeToast(t.pager, ptr)
					if err != nil {
						return stats, err
					}
					stats.ToastPagesFreed += freed
				}
			}
			if err := col.Remove(dead); err != nil {
				return stats, err
			}
		}

		for _, tid := range dead {
			if err := t.tids.MarkDead(tid); err != nil {
				return stats, err
			}
		}
		if err := t.tids.Remove(dead); err != nil {
			return stats, err
		}
		stats.DeadTidsRemoved += len(dead)

		if t.cfg.MaintenanceWorkMem <= 0 || len(dead) < t.cfg.MaintenanceWorkMem {
			break
		}
	}

	log.WithField("removed", stats.DeadTidsRemoved).Debug("zedstore: vacuum complete")
	return stats, t.syncMeta()
}

// Analyze counts live rows with a single visibility-filtered scan.
func (t *Table) Analyze(ctx context.Context) (storeif.Stats, error) {
	snap := visibility.SimpleSnapshot{Xmin: 0, Xmax: ^uint64(0)}
	scan, err := t.newFullScan(snap)
	if err != nil {
		return storeif.Stats{}, err
	}
	defer scan.Close()

	var stats storeif.Stats
	for {
		_, _, ok, err := scan.Next()
		if err != nil {
			return stats, err
		}
		if !ok {
			break
		}
		stats.LiveRows++
	}
	return stats, nil
}

// AddColumn appends a new, initially empty attribute tree: existing
// rows are not rewritten, they simply read back as defaultValue (or
// null) until a later UPDATE gives them a real value, matching the
// reference engine's metadata-only ADD COLUMN.
func (t *Table) AddColumn(ctx context.Context, def storeif.ColumnDef, defaultValue storeif.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.colDefs = append(t.colDefs, def)
	t.defaults = append(t.defaults, defaultValue)
	t.cols = append(t.cols, zs.NewAttrTree(t.pager, bufmgr.InvalidBlock))
	t.meta.AttrRoots = append(t.meta.AttrRoots, bufmgr.InvalidBlock)

	log.WithField("column", def.Name).Debug("zedstore: added column")
	return t.meta.Store(t.pager)
}
