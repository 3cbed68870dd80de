package pagestore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
)

var pebbleNextKey = []byte("__zs_next_block__")

// Pebble is a bufmgr.BlockStore backed by a pebble LSM key-value store,
// one key per block number.
type Pebble struct {
	mu       sync.Mutex
	db       *pebble.DB
	pageSize int
}

// OpenPebble opens (creating if necessary) a pebble database rooted at
// dir as a block store with the given page size.
func OpenPebble(dir string, pageSize int) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pagestore/pebble: open %s: %w", dir, err)
	}
	return &Pebble{db: db, pageSize: pageSize}, nil
}

func (s *Pebble) ReadBlock(blk bufmgr.BlockNum, buf []byte) error {
	v, closer, err := s.db.Get(blockKey(blk))
	if err == pebble.ErrNotFound {
		return nil // never written: zero-filled
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	if copy(buf, v) != len(buf) {
		return fmt.Errorf("pagestore/pebble: short stored block %d: got %d, want %d", blk, len(v), len(buf))
	}
	return nil
}

func (s *Pebble) WriteBlock(blk bufmgr.BlockNum, buf []byte) error {
	return s.db.Set(blockKey(blk), buf, pebble.Sync)
}

func (s *Pebble) Allocate() (bufmgr.BlockNum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next uint32
	v, closer, err := s.db.Get(pebbleNextKey)
	switch {
	case err == pebble.ErrNotFound:
	case err != nil:
		return 0, err
	default:
		next = binary.BigEndian.Uint32(v)
		closer.Close()
	}
	blk := bufmgr.BlockNum(next)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], next+1)
	if err := s.db.Set(pebbleNextKey, b[:], pebble.Sync); err != nil {
		return 0, err
	}
	return blk, nil
}

func (s *Pebble) BlockCount() (bufmgr.BlockNum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, closer, err := s.db.Get(pebbleNextKey)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return bufmgr.BlockNum(binary.BigEndian.Uint32(v)), nil
}

func (s *Pebble) Sync() error {
	return s.db.Flush()
}

func (s *Pebble) Close() error {
	return s.db.Close()
}
