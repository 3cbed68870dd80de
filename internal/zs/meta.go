package zs

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
)

// Meta is the table-level metapage: the root block of the tid tree and
// of every attribute tree, indexed by attribute number.
type Meta struct {
	TidRoot   bufmgr.BlockNum
	AttrRoots []bufmgr.BlockNum
}

const metaBlock bufmgr.BlockNum = 0

// InitMeta reserves block 0 as the metapage for a brand new table and
// writes an empty Meta (every root InvalidBlock) there. Must be called
// exactly once, before any other page is allocated, so a later
// pager.NewPage call never collides with block 0.
func InitMeta(pager *bufmgr.Pager, numAttrs int) (*Meta, error) {
	pg, err := pager.NewPage()
	if err != nil {
		return nil, err
	}
	if pg.Block() != metaBlock {
		pg.Unlock(false)
		return nil, fmt.Errorf("zs: InitMeta: table storage is not empty (got block %d, want %d)", pg.Block(), metaBlock)
	}

	m := &Meta{TidRoot: bufmgr.InvalidBlock, AttrRoots: make([]bufmgr.BlockNum, numAttrs)}
	for i := range m.AttrRoots {
		m.AttrRoots[i] = bufmgr.InvalidBlock
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		pg.Unlock(false)
		return nil, fmt.Errorf("zs: encode metapage: %w", err)
	}
	copy(pg.Bytes, buf.Bytes())
	if err := pg.Unlock(true); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadMeta reads the metapage of a previously initialized table.
func LoadMeta(pager *bufmgr.Pager, numAttrs int) (*Meta, error) {
	pg, err := pager.RLockPage(metaBlock)
	if err != nil {
		return nil, err
	}
	defer pg.RUnlock()

	var m Meta
	if err := gob.NewDecoder(bytes.NewReader(pg.Bytes)).Decode(&m); err != nil {
		return nil, fmt.Errorf("zs: decode metapage: %w", err)
	}
	for len(m.AttrRoots) < numAttrs {
		m.AttrRoots = append(m.AttrRoots, bufmgr.InvalidBlock)
	}
	return &m, nil
}

// Store writes m to the metapage.
func (m *Meta) Store(pager *bufmgr.Pager) error {
	pg, err := pager.LockPage(metaBlock)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		pg.Unlock(false)
		return fmt.Errorf("zs: encode metapage: %w", err)
	}
	if buf.Len() > pager.PageSize() {
		pg.Unlock(false)
		return fmt.Errorf("zs: metapage too large for %d attribute roots", len(m.AttrRoots))
	}
	copy(pg.Bytes, buf.Bytes())
	return pg.Unlock(true)
}
