package zs

import (
	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// pathEntry is one level visited while descending to find where an
// item belongs, kept so a split can propagate upward without a second
// descent.
type pathEntry struct {
	blk  bufmgr.BlockNum
	pg   *bufmgr.Page
	page *page
}

// insertItem adds item (keyed by item.FirstTid) to the tree rooted at
// *root, splitting and propagating new downlinks upward, level by
// level, as needed, and installing a fresh root if the split reaches
// the top. The same code handles both the tid tree and every attribute
// tree, leaf and internal levels alike, because internal items use the
// same rawItem shape leaves do (see page.go).
func insertItem(pager *bufmgr.Pager, root *bufmgr.BlockNum, item rawItem) error {
	if *root == bufmgr.InvalidBlock {
		return createRoot(pager, root, item)
	}

	path, err := descendPath(pager, *root, item.FirstTid)
	if err != nil {
		return err
	}

	leaf := path[len(path)-1]
	insertSorted(leaf.page, item)
	return splitAndPropagate(pager, root, path)
}

// descendPath locks every page from root to the leaf that should
// contain tid, exclusively, returning them bottom-up-unwindable.
func descendPath(pager *bufmgr.Pager, root bufmgr.BlockNum, tid zstid.Tid) ([]pathEntry, error) {
	var path []pathEntry
	blk := root
	for {
		pg, err := pager.LockPage(blk)
		if err != nil {
			unwindPath(path)
			return nil, err
		}
		p, err := decodePage(pg.Bytes)
		if err != nil {
			pg.Unlock(false)
			unwindPath(path)
			return nil, err
		}
		path = append(path, pathEntry{blk: blk, pg: pg, page: p})
		if p.isLeaf() {
			return path, nil
		}
		blk = findChild(p, tid)
	}
}

func createRoot(pager *bufmgr.Pager, root *bufmgr.BlockNum, item rawItem) error {
	pg, err := pager.NewPage()
	if err != nil {
		return err
	}
	p := &page{Level: leafLevel, Lokey: zstid.Min, Hikey: zstid.MaxPlusOne, Rightlink: bufmgr.InvalidBlock}
	p.Items = []rawItem{item}
	if err := writePage(pg, p, pager.PageSize()); err != nil {
		pg.Unlock(false)
		return err
	}
	*root = pg.Block()
	return pg.Unlock(true)
}

// splitAndPropagate checks whether path's bottom page still fits; if
// so it writes it back and unlocks the whole path. If not, it allocates
// every extra block the split needs before mutating anything (so
// running out of space can't leave the tree half-changed), writes the
// new page images, and propagates a downlink for each new sibling into
// the parent -- recursing upward, or installing a new root if the
// split reached the top of the tree.
func splitAndPropagate(pager *bufmgr.Pager, root *bufmgr.BlockNum, path []pathEntry) error {
	cur := path[len(path)-1]

	newPages := planSplitItems(cur.page, pager.PageSize())
	if len(newPages) == 1 {
		err := writePage(cur.pg, newPages[0], pager.PageSize())
		cur.pg.Unlock(err == nil)
		unwindPath(path[:len(path)-1])
		return err
	}

	// Every new page image must fit before any page is mutated or
	// written: planSplitItems returns a too-big page only when a single
	// item exceeds the page size, and checking here turns that case into
	// a clean, pre-mutation error instead of a half-written tree.
	for _, np := range newPages {
		if !pageFits(np, pager.PageSize()) {
			unwindPath(path)
			return errPageTooBig
		}
	}

	extra := make([]*bufmgr.Page, len(newPages)-1)
	for i := range extra {
		pg, err := pager.NewPage()
		if err != nil {
			for j := 0; j < i; j++ {
				extra[j].Unlock(false)
			}
			unwindPath(path)
			return err
		}
		extra[i] = pg
	}

	blocks := make([]bufmgr.BlockNum, len(newPages))
	blocks[0] = cur.blk
	for i, pg := range extra {
		blocks[i+1] = pg.Block()
	}
	for i := range newPages {
		if i < len(newPages)-1 {
			newPages[i].Rightlink = blocks[i+1]
		}
	}

	// allPages[i] holds newPages[i]'s image; written in one loop so a
	// failure partway through (unreachable given the fits-check above,
	// but handled regardless) unlocks exactly the pages acquired so
	// far instead of leaking any of them.
	allPages := append([]*bufmgr.Page{cur.pg}, extra...)
	for i, pg := range allPages {
		if err := writePage(pg, newPages[i], pager.PageSize()); err != nil {
			for j, p2 := range allPages {
				p2.Unlock(j < i)
			}
			unwindPath(path[:len(path)-1])
			return err
		}
	}
	for _, pg := range allPages {
		pg.Unlock(true)
	}

	upItems := make([]rawItem, len(newPages)-1)
	for i, np := range newPages[1:] {
		upItems[i] = rawItem{FirstTid: np.Lokey, Payload: encodeChild(blocks[i+1])}
	}

	if len(path) == 1 {
		return installNewRoot(pager, root, cur.blk, newPages[0].Level, upItems)
	}

	parent := path[len(path)-2]
	for _, it := range upItems {
		insertSorted(parent.page, it)
	}
	return splitAndPropagate(pager, root, path[:len(path)-1])
}

func insertSorted(p *page, item rawItem) {
	idx := len(p.Items)
	for i, existing := range p.Items {
		if item.FirstTid < existing.FirstTid {
			idx = i
			break
		}
	}
	p.Items = append(p.Items, rawItem{})
	copy(p.Items[idx+1:], p.Items[idx:])
	p.Items[idx] = item
}

func installNewRoot(pager *bufmgr.Pager, root *bufmgr.BlockNum, oldRootBlock bufmgr.BlockNum, childLevel uint16, upItems []rawItem) error {
	pg, err := pager.NewPage()
	if err != nil {
		return err
	}
	p := &page{Level: childLevel + 1, Lokey: zstid.Min, Hikey: zstid.MaxPlusOne, Rightlink: bufmgr.InvalidBlock}
	p.Items = append([]rawItem{{FirstTid: zstid.Min, Payload: encodeChild(oldRootBlock)}}, upItems...)
	if err := writePage(pg, p, pager.PageSize()); err != nil {
		pg.Unlock(false)
		return err
	}
	*root = pg.Block()
	return pg.Unlock(true)
}

func unwindPath(path []pathEntry) {
	for i := len(path) - 1; i >= 0; i-- {
		path[i].pg.Unlock(false)
	}
}
