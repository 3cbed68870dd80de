package zedstore

import (
	"encoding/binary"
	"fmt"

	"github.com/wapache-org/postgres-zedstore/internal/storeif"
)

// Value tags, one byte, prefixed to every encoded datum. toastTag marks
// a pointer into the toast chain rather than an inline value.
const (
	tagNull = iota
	tagInt64
	tagString
	tagBool
	toastTag
)

// encodeValue serializes v to the byte string an AttrTree leaf stores.
// storeif.Null never reaches here: callers pass isNull separately and
// never call encodeValue for a null column.
func encodeValue(v storeif.Value) ([]byte, error) {
	switch val := v.(type) {
	case storeif.Int64Value:
		buf := make([]byte, 9)
		buf[0] = tagInt64
		binary.BigEndian.PutUint64(buf[1:], uint64(val))
		return buf, nil
	case storeif.StringValue:
		buf := make([]byte, 1+len(val))
		buf[0] = tagString
		copy(buf[1:], val)
		return buf, nil
	case storeif.BoolValue:
		b := byte(0)
		if val {
			b = 1
		}
		return []byte{tagBool, b}, nil
	default:
		return nil, fmt.Errorf("zedstore: unsupported value type %T", v)
	}
}

func decodeValue(buf []byte) (storeif.Value, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("zedstore: decodeValue: empty datum")
	}
	switch buf[0] {
	case tagInt64:
		if len(buf) != 9 {
			return nil, fmt.Errorf("zedstore: decodeValue: bad Int64Value length %d", len(buf))
		}
		return storeif.Int64Value(binary.BigEndian.Uint64(buf[1:])), nil
	case tagString:
		return storeif.StringValue(buf[1:]), nil
	case tagBool:
		if len(buf) != 2 {
			return nil, fmt.Errorf("zedstore: decodeValue: bad BoolValue length %d", len(buf))
		}
		return storeif.BoolValue(buf[1] != 0), nil
	default:
		return nil, fmt.Errorf("zedstore: decodeValue: unknown tag %d", buf[0])
	}
}

func isToastPointer(buf []byte) bool {
	return len(buf) > 0 && buf[0] == toastTag
}
