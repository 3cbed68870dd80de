package zs

import (
	"bytes"
	"encoding/gob"

	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// AttrItem is one run of consecutive tids' worth of a single column's
// values, as stored on a page: bundled together so the values compress
// well across rows, at the cost of decoding the whole run to reach any
// one value.
type AttrItem struct {
	FirstTid zstid.Tid
	NumTids  int
	IsNulls  []bool
	Datums   [][]byte
}

func (it *AttrItem) lastTid() zstid.Tid {
	return it.FirstTid + zstid.Tid(it.NumTids) - 1
}

// ExplodedAttrItem is the one-row-at-a-time form an AttrItem unpacks
// into while merging or repacking a page. The reference engine reuses
// its packed item struct for this, with the size field zeroed as a
// sentinel for "exploded"; giving it a distinct Go type here keeps the
// two representations from ever being confused by the type system.
type ExplodedAttrItem struct {
	Tids    []zstid.Tid
	IsNulls []bool
	Datums  [][]byte
}

func explode(it AttrItem) ExplodedAttrItem {
	e := ExplodedAttrItem{
		Tids:    make([]zstid.Tid, it.NumTids),
		IsNulls: make([]bool, it.NumTids),
		Datums:  make([][]byte, it.NumTids),
	}
	for i := 0; i < it.NumTids; i++ {
		e.Tids[i] = it.FirstTid + zstid.Tid(i)
		e.IsNulls[i] = it.IsNulls[i]
		e.Datums[i] = it.Datums[i]
	}
	return e
}

// implode regroups a (sorted, deduplicated) exploded item back into
// the minimum number of contiguous-tid runs.
func implode(e ExplodedAttrItem) []AttrItem {
	if len(e.Tids) == 0 {
		return nil
	}
	var items []AttrItem
	start := 0
	for i := 1; i <= len(e.Tids); i++ {
		if i == len(e.Tids) || e.Tids[i] != e.Tids[i-1]+1 {
			items = append(items, AttrItem{
				FirstTid: e.Tids[start],
				NumTids:  i - start,
				IsNulls:  append([]bool(nil), e.IsNulls[start:i]...),
				Datums:   append([][]byte(nil), e.Datums[start:i]...),
			})
			start = i
		}
	}
	return items
}

func encodeAttrItem(it AttrItem) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(it)
	out, compressed := tryCompress(buf.Bytes())
	return append([]byte{boolByte(compressed)}, out...)
}

func decodeAttrItem(raw []byte) (AttrItem, error) {
	compressed := raw[0] != 0
	data, err := decompress(raw[1:], compressed)
	if err != nil {
		return AttrItem{}, err
	}
	var it AttrItem
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&it); err != nil {
		return AttrItem{}, err
	}
	return it, nil
}
