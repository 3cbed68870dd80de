package pagestore

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
)

var badgerNextKey = []byte("__zs_next_block__")

// Badger is a bufmgr.BlockStore backed by a badger LSM key-value store,
// one key per block number.
type Badger struct {
	db       *badger.DB
	pageSize int
}

// OpenBadger opens (creating if necessary) a badger database rooted at
// dir as a block store with the given page size.
func OpenBadger(dir string, pageSize int) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("pagestore/badger: open %s: %w", dir, err)
	}
	return &Badger{db: db, pageSize: pageSize}, nil
}

func (s *Badger) ReadBlock(blk bufmgr.BlockNum, buf []byte) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(blk))
		if err == badger.ErrKeyNotFound {
			return nil // never written: zero-filled
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if copy(buf, v) != len(buf) {
			return fmt.Errorf("pagestore/badger: short stored block %d: got %d, want %d", blk, len(v), len(buf))
		}
		return nil
	})
}

func (s *Badger) WriteBlock(blk bufmgr.BlockNum, buf []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return txn.Set(blockKey(blk), cp)
	})
}

func (s *Badger) Allocate() (bufmgr.BlockNum, error) {
	var blk bufmgr.BlockNum
	err := s.db.Update(func(txn *badger.Txn) error {
		var next uint32
		item, err := txn.Get(badgerNextKey)
		switch {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return err
		default:
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			next = binary.BigEndian.Uint32(v)
		}
		blk = bufmgr.BlockNum(next)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], next+1)
		return txn.Set(badgerNextKey, b[:])
	})
	return blk, err
}

func (s *Badger) BlockCount() (bufmgr.BlockNum, error) {
	var count bufmgr.BlockNum
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerNextKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		count = bufmgr.BlockNum(binary.BigEndian.Uint32(v))
		return nil
	})
	return count, err
}

func (s *Badger) Sync() error {
	return s.db.Sync()
}

func (s *Badger) Close() error {
	return s.db.Close()
}
