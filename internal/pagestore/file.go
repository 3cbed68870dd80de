// Package pagestore provides bufmgr.BlockStore implementations over a
// handful of different underlying storage engines, so the B-tree code
// never has to know which one it's running on.
package pagestore

import (
	"fmt"
	"os"
	"sync"

	"github.com/wapache-org/postgres-zedstore/internal/bufmgr"
)

// File is a bufmgr.BlockStore backed by a single flat file, one fixed-size
// block per bufmgr.BlockNum, growing the file as new blocks are allocated.
type File struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int64
	next     bufmgr.BlockNum
}

// OpenFile opens (creating if necessary) path as a block store with the
// given page size.
func OpenFile(path string, pageSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, pageSize: int64(pageSize), next: bufmgr.BlockNum(fi.Size() / int64(pageSize))}, nil
}

func (s *File) ReadBlock(blk bufmgr.BlockNum, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.f.ReadAt(buf, int64(blk)*s.pageSize)
	if err != nil {
		return fmt.Errorf("pagestore/file: read block %d: %w", blk, err)
	}
	if int64(n) != s.pageSize {
		return fmt.Errorf("pagestore/file: short read of block %d: got %d, want %d", blk, n, s.pageSize)
	}
	return nil
}

func (s *File) WriteBlock(blk bufmgr.BlockNum, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.f.WriteAt(buf, int64(blk)*s.pageSize)
	if err != nil {
		return fmt.Errorf("pagestore/file: write block %d: %w", blk, err)
	}
	if int64(n) != s.pageSize {
		return fmt.Errorf("pagestore/file: short write of block %d: got %d, want %d", blk, n, s.pageSize)
	}
	if blk >= s.next {
		s.next = blk + 1
	}
	return nil
}

func (s *File) Allocate() (bufmgr.BlockNum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blk := s.next
	s.next++
	return blk, nil
}

func (s *File) BlockCount() (bufmgr.BlockNum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, nil
}

func (s *File) Sync() error {
	return s.f.Sync()
}

func (s *File) Close() error {
	return s.f.Close()
}
