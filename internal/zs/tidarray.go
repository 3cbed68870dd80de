package zs

import (
	"bytes"
	"encoding/gob"

	"github.com/wapache-org/postgres-zedstore/internal/undo"
	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// TidItem is one run of consecutive tids in the tid tree: NumTids
// logical row slots starting at FirstTid, each carrying its own undo
// pointer and dead/speculative flags. Bundling consecutive tids into
// one item, instead of one item per tid, is what lets a fully packed
// leaf page compress well and is why a single multi-row insert becomes
// a single item.
type TidItem struct {
	FirstTid    zstid.Tid
	NumTids     int
	UndoPtrs    []undo.Ptr
	Dead        []bool
	Speculative []bool
}

func (it *TidItem) lastTid() zstid.Tid {
	return it.FirstTid + zstid.Tid(it.NumTids) - 1
}

func encodeTidItem(it TidItem) []byte {
	var buf bytes.Buffer
	// gob.Encode on a well-formed value only fails on unsupported types,
	// never on this struct's plain fields.
	_ = gob.NewEncoder(&buf).Encode(it)
	out, compressed := tryCompress(buf.Bytes())
	return append([]byte{boolByte(compressed)}, out...)
}

func decodeTidItem(raw []byte) (TidItem, error) {
	compressed := raw[0] != 0
	data, err := decompress(raw[1:], compressed)
	if err != nil {
		return TidItem{}, err
	}
	var it TidItem
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&it); err != nil {
		return TidItem{}, err
	}
	return it, nil
}
