package testutil

import (
	"io/ioutil"
	"os"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
)

// MemStore is an in-memory bufmgr.BlockStore, for tests that want a
// pager without touching disk.
type MemStore struct {
	blocks map[bufmgr.BlockNum][]byte
	next   bufmgr.BlockNum
}

func NewMemStore() *MemStore {
	return &MemStore{blocks: map[bufmgr.BlockNum][]byte{}}
}

func (m *MemStore) ReadBlock(blk bufmgr.BlockNum, buf []byte) error {
	if b, ok := m.blocks[blk]; ok {
		copy(buf, b)
	}
	return nil
}

func (m *MemStore) WriteBlock(blk bufmgr.BlockNum, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	m.blocks[blk] = cp
	return nil
}

func (m *MemStore) Allocate() (bufmgr.BlockNum, error) {
	blk := m.next
	m.next++
	return blk, nil
}

func (m *MemStore) BlockCount() (bufmgr.BlockNum, error) { return m.next, nil }
func (m *MemStore) Sync() error                           { return nil }

// NewMemPager builds a bufmgr.Pager over a fresh MemStore at the given
// page size, for tests that need a pager but not a particular backend.
func NewMemPager(pageSize int) *bufmgr.Pager {
	return bufmgr.NewPager(NewMemStore(), pageSize)
}

// CleanDir creates a fresh temporary directory for a test and returns a
// function to remove it, matching the teacher's pattern of per-test
// scratch directories for on-disk backends (pagestore.File, bbolt,
// badger, pebble all take a directory or file path).
func CleanDir(prefix string) (dir string, cleanup func()) {
	dir, err := ioutil.TempDir("", prefix)
	if err != nil {
		panic(err)
	}
	return dir, func() { os.RemoveAll(dir) }
}
