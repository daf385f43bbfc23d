package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ncw/directio"

	"boulder/pkg/iterator"
	"boulder/pkg/storage"
)

// SSTable is an immutable, sorted on-disk table produced by flushing a
// memtable or by compacting a set of existing tables.
type SSTable struct {
	latch    atomic.Int32
	id       uint64
	filename string
	file     *os.File
	level    uint64
	size     int64
}

type TableFormat int32

type footer struct {
	format TableFormat
}

// New drains it in sorted order into a new table file, writing each entry as
// a length-prefixed record: a 4-byte key length, a 4-byte value length, the
// 8-byte trailer, the key bytes, and the value bytes. The records are
// assembled in memory and written to the underlying directio file in a
// single call so that pkg/storage.Writer's block padding is only ever
// applied once, to the true end of the table.
func New(filename string, id, level uint64, it iterator.Iterator) (*SSTable, error) {
	var buf bytes.Buffer
	var header [16]byte
	for kv := it.First(); kv != nil; kv = it.Next() {
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(kv.K.LogicalKey)))
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(kv.V)))
		binary.LittleEndian.PutUint64(header[8:16], uint64(kv.K.Trailer))

		buf.Write(header[:])
		buf.Write(kv.K.LogicalKey)
		buf.Write(kv.V)
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("failed to close sstable source iterator: %w", err)
	}

	w, err := storage.NewWriter(filename, os.O_CREATE|os.O_RDWR|os.O_APPEND)
	if err != nil {
		return nil, fmt.Errorf("failed to open new sstable: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write records to sstable: %w", err)
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to sync new sstable: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close new sstable writer: %w", err)
	}

	file, err := directio.OpenFile(filename, os.O_RDONLY, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen sstable for reads: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	return &SSTable{
		id:       id,
		filename: filename,
		file:     file,
		level:    level,
		size:     stat.Size(),
	}, nil
}

func (s *SSTable) Level() uint64 {
	return s.level
}

// Read returns a reader over the table's bytes and a closer that must be
// called when the caller is finished. The latch tracks outstanding readers
// so a background compaction goroutine knows when it is safe to delete this
// table once it has been superseded.
func (s *SSTable) Read() (reader io.ReadSeeker, close func()) {
	s.latch.Add(1)
	return s.file, func() {
		s.latch.Add(-1)
	}
}

func (s *SSTable) Close() error {
	return s.file.Close()
}
