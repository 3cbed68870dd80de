package zs

import "github.com/golang/snappy"

// compressionThreshold is the minimum encoded item size below which
// compressing is not worth the CPU: short byte strings rarely compress
// well and always cost a flag byte to mark them "stored raw".
const compressionThreshold = 128

// tryCompress compresses data with snappy if doing so saves space past
// compressionThreshold, reporting whether compression was applied.
func tryCompress(data []byte) (out []byte, compressed bool) {
	if len(data) < compressionThreshold {
		return data, false
	}
	c := snappy.Encode(nil, data)
	if len(c) >= len(data) {
		return data, false
	}
	return c, true
}

func decompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	return snappy.Decode(nil, data)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
