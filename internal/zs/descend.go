package zs

import (
	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// descend walks from root down to the page at stopLevel that should
// contain tid. Each child is locked before its parent is released, so a
// concurrent split higher in the tree is never observed half-applied
// by a reader descending past it.
func descend(pager *bufmgr.Pager, root bufmgr.BlockNum, tid zstid.Tid, stopLevel uint16, writable bool) (*bufmgr.Page, *page, error) {
	blk := root
	var prev *bufmgr.Page
	for {
		pg, err := lockGeneric(pager, blk, writable)
		if err != nil {
			if prev != nil {
				unlockGeneric(prev, writable)
			}
			return nil, nil, err
		}
		if prev != nil {
			unlockGeneric(prev, writable)
		}

		p, err := decodePage(pg.Bytes)
		if err != nil {
			unlockGeneric(pg, writable)
			return nil, nil, err
		}

		if p.Level == stopLevel {
			return pg, p, nil
		}

		blk = findChild(p, tid)
		prev = pg
	}
}

func lockGeneric(pager *bufmgr.Pager, blk bufmgr.BlockNum, writable bool) (*bufmgr.Page, error) {
	if writable {
		return pager.LockPage(blk)
	}
	return pager.RLockPage(blk)
}

func unlockGeneric(pg *bufmgr.Page, writable bool) {
	if writable {
		pg.Unlock(false)
	} else {
		pg.RUnlock()
	}
}

// findChild returns the child whose key range covers tid: the last
// item whose FirstTid <= tid.
func findChild(p *page, tid zstid.Tid) bufmgr.BlockNum {
	best := p.Items[0]
	for _, it := range p.Items {
		if it.FirstTid <= tid {
			best = it
		} else {
			break
		}
	}
	return decodeChild(best.Payload)
}

// findItemIndex returns the index of the item whose run covers tid, or
// -1 if no item starts at or before tid.
func findItemIndex(items []rawItem, tid zstid.Tid) int {
	idx := -1
	for i, it := range items {
		if it.FirstTid <= tid {
			idx = i
		} else {
			break
		}
	}
	return idx
}
