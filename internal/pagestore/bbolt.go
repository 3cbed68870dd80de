package pagestore

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
)

var (
	boltBlocksBucket = []byte("blocks")
	boltMetaBucket   = []byte("meta")
	boltNextKey      = []byte("next")
)

// Bolt is a bufmgr.BlockStore backed by a bbolt key-value file, one key
// per block number.
type Bolt struct {
	db       *bolt.DB
	pageSize int
}

// OpenBolt opens (creating if necessary) a bbolt database at path as a
// block store with the given page size.
func OpenBolt(path string, pageSize int) (*Bolt, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("pagestore/bbolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltBlocksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db, pageSize: pageSize}, nil
}

func blockKey(blk bufmgr.BlockNum) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(blk))
	return b[:]
}

func (s *Bolt) ReadBlock(blk bufmgr.BlockNum, buf []byte) error {
	return s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBlocksBucket).Get(blockKey(blk))
		if v == nil {
			return nil // never written: zero-filled
		}
		if copy(buf, v) != len(buf) {
			return fmt.Errorf("pagestore/bbolt: short stored block %d: got %d, want %d", blk, len(v), len(buf))
		}
		return nil
	})
}

func (s *Bolt) WriteBlock(blk bufmgr.BlockNum, buf []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBlocksBucket).Put(blockKey(blk), buf)
	})
}

func (s *Bolt) Allocate() (bufmgr.BlockNum, error) {
	var blk bufmgr.BlockNum
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(boltMetaBucket)
		var next uint32
		if v := meta.Get(boltNextKey); v != nil {
			next = binary.BigEndian.Uint32(v)
		}
		blk = bufmgr.BlockNum(next)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], next+1)
		return meta.Put(boltNextKey, b[:])
	})
	return blk, err
}

func (s *Bolt) BlockCount() (bufmgr.BlockNum, error) {
	var count bufmgr.BlockNum
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltMetaBucket).Get(boltNextKey); v != nil {
			count = bufmgr.BlockNum(binary.BigEndian.Uint32(v))
		}
		return nil
	})
	return count, err
}

func (s *Bolt) Sync() error {
	return s.db.Sync()
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
