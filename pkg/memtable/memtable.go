package memtable

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ncw/directio"

	"boulder/internal/arena"
	"boulder/internal/base"
	"boulder/internal/compare"
	"boulder/internal/skiplist"
	"boulder/pkg/storage"
	"boulder/pkg/wal"
)

// MemTable is a memory table that stores key-value pairs in sorted order
// using a skip-list.
type MemTable struct {
	// seqNum is the lowest sequence number Add accepts; a record with a
	// smaller one is rejected with ErrInvalidSeqNum. New and NewFromArena
	// leave it at zero, so it does not record the database's sequence number
	// at the time the memtable was created.
	seqNum   base.SeqNum
	skiplist *skiplist.Skiplist
	cmp      compare.Compare

	// wal (write-ahead log) is the log segment opened for this memtable. Each
	// memtable has its own segment, which the DB closes and retires once the
	// memtable has been written to an SSTable on disk. Add does not append
	// records to it; a write reaches disk only when the memtable is flushed.
	wal *wal.WAL

	// references tracks the number of readers with reference to the memtable.
	// When the number of references drops to zero, the memtable can be safely
	// retired. The current DB memtable will always be incremented by one when
	// it is active. Once the memtable has been flushed to disk, the reference
	// count will be decremented by one. Once flushed, no new references will be
	// added to the memtable, but this table will exist indefinitely until the
	// referencing readers complete.
	references atomic.Int64
	// writers is the number of writers that are currently writing to the
	// memtable. This is tracked to prevent the memtable from being flushed to
	// disk while there are still active writers.
	writers sync.WaitGroup
	// readOnly indicates that the memtable is no longer accepting writes as it
	// is full and is being flushed to disk.
	readOnly atomic.Bool

	// onFlush is invoked exactly once, from a dedicated goroutine, after the
	// memtable has been marked read-only and every in-flight writer has
	// returned. The DB uses this to persist the memtable's contents and
	// retire its WAL segment.
	onFlush func(*MemTable)
}

func New(size uint, wal *wal.WAL, cmp compare.Compare, onFlush func(*MemTable)) *MemTable {
	// Round up the size to a multiple of the block size
	if size < directio.BlockSize {
		// Minimum; single disk block
		size = directio.BlockSize
	} else {
		rem := size % directio.BlockSize
		if rem != 0 {
			size += directio.BlockSize - rem
		}
	}

	m := &MemTable{
		skiplist: skiplist.New(size, cmp),
		wal:      wal,
		cmp:      cmp,
		onFlush:  onFlush,
	}

	// A newly created memtable is considered active and has a reference count
	// of 1. The reference count will be decremented when the memtable is
	// flushed to disk.
	m.references.Store(1)

	return m
}

// NewFromArena recycles an arena from a retired memtable rather than
// allocating a new one.
func NewFromArena(a *arena.Arena, cmp compare.Compare, onFlush func(*MemTable)) (*MemTable, error) {
	a.Reset()
	s, err := skiplist.NewFromArena(a, cmp)
	if err != nil {
		return nil, err
	}
	m := &MemTable{
		skiplist: s,
		cmp:      cmp,
		onFlush:  onFlush,
	}
	m.references.Store(1)
	return m, nil
}

// Add inserts an internal key-value pair into the memtable. This is used for
// all writes including set, delete, and single delete operations because the
// trailer of a delete operation acts as a tombstone.
func (m *MemTable) Add(kv base.InternalKV) error {
	m.writers.Add(1)
	defer m.writers.Done()

	if kv.SeqNum() < m.seqNum {
		return ErrInvalidSeqNum
	}

	// Add a check in case the memtable was flushed while when incrementing the
	// writer count.
	if m.readOnly.Load() {
		return ErrMemtableFlushed
	}

	err := m.skiplist.Add(kv.K, kv.V)
	if err != nil {
		if errors.Is(err, skiplist.ErrBufferFull) {
			return ErrMemtableFlushed
		}
		if errors.Is(err, skiplist.ErrRecordExists) {
			// Duplicate key, caller should increment the sequence number
			// and try again.
			return ErrRecordExists
		}
		return err
	}
	return nil
}

func (m *MemTable) Empty() bool {
	once.Do(calculateMinimumBytes)
	// Check if the underlying arena was released
	if m.skiplist.Arena() == nil {
		return true
	}

	return m.skiplist.Size() == minimumBytes
}

// Size returns the byte size of the memtable including padding bytes in the
// arena.
func (m *MemTable) Size() uint {
	// Check if the underlying arena was released
	if m.skiplist.Arena() == nil {
		return 0
	}
	return m.skiplist.Size()
}

// Cap returns the byte size of the underlying arena buffer for this memtable.
func (m *MemTable) Cap() uint {
	// Check if the underlying arena was released
	if m.skiplist.Arena() == nil {
		return 0
	}
	return m.skiplist.Arena().Cap()
}

// IsActive returns false if the memtable has been flushed to disk and no
// longer has any reader references. At which point, the memtable can be
// safely reset or destroyed (GC).
func (m *MemTable) IsActive() bool {
	return m.references.Load() != 0
}

// ReleaseArena resets the memtable's skiplist and returns a pointer to the
// arena backing it, for reuse by a future memtable. The memtable keeps
// referencing the same arena. This returns a nil arena and ErrMemtableActive
// if the memtable is still active.
func (m *MemTable) ReleaseArena() (*arena.Arena, error) {
	if m.IsActive() {
		return nil, ErrMemtableActive
	}

	a := m.skiplist.Arena()
	if err := m.skiplist.Reset(); err != nil {
		return nil, err
	}
	return a, nil
}

// AvailableBytes returns the number of bytes still free in the memtable's
// arena.
func (m *MemTable) AvailableBytes() uint {
	if m.skiplist.Arena() == nil {
		return 0
	}
	return m.skiplist.Arena().Cap() - m.skiplist.Arena().Len()
}

// UsedBytes returns the number of bytes already allocated out of the
// memtable's arena.
func (m *MemTable) UsedBytes() uint {
	return m.Size()
}

// TotalBytes returns the total capacity of the memtable's arena.
func (m *MemTable) TotalBytes() uint {
	return m.Cap()
}

// NewIterator returns an iterator over the memtable's contents in key order,
// holding a reference on the memtable until the iterator is closed. It is
// safe to call on a memtable that is concurrently being flushed.
func (m *MemTable) NewIterator() *skiplist.Iterator {
	m.references.Add(1)
	return m.skiplist.NewIterator(func() error {
		m.references.Add(-1)
		return nil
	})
}

// WAL returns the write-ahead log segment backing this memtable, or nil if
// it was constructed without one.
func (m *MemTable) WAL() *wal.WAL {
	return m.wal
}

var _ storage.Flusher = (*MemTable)(nil)

// Flush marks the memtable read-only and, once every in-flight writer has
// returned, hands it to the onFlush callback supplied at construction. This
// is idempotent; only the first call has any effect.
func (m *MemTable) Flush() {
	if m.readOnly.CompareAndSwap(false, true) {
		go func() {
			m.writers.Wait()
			if m.onFlush != nil {
				m.onFlush(m)
			}
			m.references.Add(-1)
		}()
	}
}

var (
	// once is used to initialize the size of an empty skiplist arena.
	once         sync.Once
	minimumBytes uint
)

func calculateMinimumBytes() {
	s := skiplist.New(16<<10 /* 16 KB */, compare.Bytes)
	minimumBytes = s.Size()
}
