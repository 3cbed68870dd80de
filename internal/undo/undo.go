// Package undo is a minimal stand-in for the external undo log that
// spec.md declares a collaborator rather than something this engine
// owns: a single append-only sequence of records, each addressed by an
// opaque, monotonically increasing Ptr, that the visibility package
// consults to decide whether a row version is visible to a snapshot.
//
// The log is indexed the way the teacher indexes its own versioned rows
// (a google/btree ordered by a monotonic key), rather than a plain
// slice, so that Discard can walk and trim a prefix without scanning
// records that are still live.
package undo

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/wapache-org/postgres-zedstore/internal/zstid"
)

// Ptr addresses one record in the log. The zero value means "no undo
// record" (a row that has never been touched by a transaction still
// running).
type Ptr uint64

const InvalidPtr Ptr = 0

// Kind distinguishes the four undo record shapes spec.md names.
type Kind int

const (
	Insert Kind = iota + 1
	Delete
	Update
	TupleLock
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Delete:
		return "DELETE"
	case Update:
		return "UPDATE"
	case TupleLock:
		return "TUPLE_LOCK"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Record is one entry in the undo log. Not every field applies to every
// Kind: NewTid is set only for Update, LockMode only for TupleLock.
type Record struct {
	Ptr  Ptr
	Kind Kind
	Tid  zstid.Tid
	Xid  uint64 // transaction that created this record
	Cid  uint32 // command id within Xid

	NewTid   zstid.Tid // Update: tid of the new row version
	LockMode int       // TupleLock: lock strength requested
	Prev     Ptr       // previous record in this tid's chain, if any
}

// Less implements btree.Item, ordering records by Ptr.
func (r Record) Less(than btree.Item) bool {
	return r.Ptr < than.(Record).Ptr
}

// Log is an append-only, Ptr-indexed sequence of undo records.
type Log struct {
	mu   sync.Mutex
	tree *btree.BTree
	next Ptr
}

func NewLog() *Log {
	return &Log{tree: btree.New(32), next: 1}
}

// Append assigns the next Ptr to rec and stores it, returning the
// assigned Ptr.
func (l *Log) Append(rec Record) Ptr {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Ptr = l.next
	l.next++
	l.tree.ReplaceOrInsert(rec)
	return rec.Ptr
}

// Fetch retrieves the record at ptr, if it is still present in the log
// (it may have been discarded by a prior vacuum).
func (l *Log) Fetch(ptr Ptr) (Record, bool) {
	if ptr == InvalidPtr {
		return Record{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	item := l.tree.Get(Record{Ptr: ptr})
	if item == nil {
		return Record{}, false
	}
	return item.(Record), true
}

// Discard drops every record with Ptr < horizon, the undo-log analogue
// of a vacuum horizon: records older transactions could still need are
// never passed here.
func (l *Log) Discard(horizon Ptr) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var toRemove []Record
	l.tree.AscendLessThan(Record{Ptr: horizon}, func(item btree.Item) bool {
		toRemove = append(toRemove, item.(Record))
		return true
	})
	for _, r := range toRemove {
		l.tree.Delete(r)
	}
}

// Len reports how many live records the log currently holds.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Len()
}
