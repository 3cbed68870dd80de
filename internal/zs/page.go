// Package zs is the hard core of the storage engine: the tid tree, one
// attribute tree per column, and the page/split machinery they share.
package zs

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

const leafLevel uint16 = 0

// page is the decoded, in-memory form of one on-disk block: a node in
// either the tid tree or an attribute tree. Leaf and internal nodes
// share this one shape. On a leaf, each item's Payload is an opaque,
// tree-specific encoded item (a TidItem or an AttrItem). On an internal
// page, each item's Payload is a child block number and the item's
// FirstTid is that child's low key. Unifying leaf and internal items
// this way means the split and split-propagation code in insert.go is
// written once and walks every level of the tree the same way.
type page struct {
	Level     uint16
	Lokey     zstid.Tid
	Hikey     zstid.Tid // exclusive upper bound; MaxPlusOne on the rightmost page
	Rightlink bufmgr.BlockNum
	Items     []rawItem
}

type rawItem struct {
	FirstTid zstid.Tid
	Payload  []byte
}

func (p *page) isLeaf() bool { return p.Level == leafLevel }

func encodeChild(blk bufmgr.BlockNum) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(blk))
	return b[:]
}

func decodeChild(b []byte) bufmgr.BlockNum {
	return bufmgr.BlockNum(binary.BigEndian.Uint32(b))
}

var errPageTooBig = fmt.Errorf("zs: encoded page exceeds page size")

func decodePage(buf []byte) (*page, error) {
	if isZeroBuf(buf) {
		return &page{Hikey: zstid.MaxPlusOne, Rightlink: bufmgr.InvalidBlock}, nil
	}
	p := &page{}
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(p); err != nil {
		return nil, fmt.Errorf("zs: decode page: %w", err)
	}
	return p, nil
}

func encodePage(p *page, pageSize int) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("zs: encode page: %w", err)
	}
	if buf.Len() > pageSize {
		return nil, errPageTooBig
	}
	out := make([]byte, pageSize)
	copy(out, buf.Bytes())
	return out, nil
}

func pageFits(p *page, pageSize int) bool {
	_, err := encodePage(p, pageSize)
	return err == nil
}

func writePage(pg *bufmgr.Page, p *page, pageSize int) error {
	buf, err := encodePage(p, pageSize)
	if err != nil {
		return err
	}
	copy(pg.Bytes, buf)
	return nil
}

func isZeroBuf(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
