// Package wal implements the write-ahead log each memtable is backed by.
// A WAL segment is a pooled journal writer: the physical file handle is
// owned by a writerpool.Pool rather than opened directly. Each memtable
// generation's segment has its own journal name, so opening the next
// segment constructs a new writer; the pool caches a segment's handle only
// under that segment's own name.
package wal

import (
	"fmt"
	"path/filepath"

	"boulder/internal/journal"
	"boulder/pkg/writerpool"
)

// WAL is the log segment opened for a specific memtable. Records reach it
// only through Append; the DB's write path does not call Append. Once a
// memtable has been committed to disk and removed from memory, Close is called;
// whether that physically destroys the underlying file or merely returns it
// to the pool's cache is the pool's decision, not the caller's.
type WAL struct {
	name   string
	writer journal.WriteSyncer
}

// Open acquires the WAL segment named name from pool, under dir. tok
// identifies the calling session and must be reused for every subsequent
// pool operation this DB instance performs against the same segment.
func Open(pool *writerpool.Pool, dir, name string, tok writerpool.Token) (*WAL, error) {
	meta := journal.NewMetadata(name, filepath.Join(dir, name))
	w, err := pool.Writer(meta, tok)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open segment %q: %w", name, err)
	}
	ws, ok := w.(journal.WriteSyncer)
	if !ok {
		return nil, fmt.Errorf("wal: writer %T does not support direct append", w)
	}
	return &WAL{name: name, writer: ws}, nil
}

// Name returns the WAL segment's journal name.
func (w *WAL) Name() string {
	return w.name
}

// Append writes buf to the segment. It does not by itself guarantee
// durability; callers that need a durability boundary should follow with
// Flush.
func (w *WAL) Append(buf []byte) error {
	if _, err := w.writer.Write(buf); err != nil {
		return fmt.Errorf("wal: failed to append to segment %q: %w", w.name, err)
	}
	return nil
}

// Flush forces the segment's contents to stable storage.
func (w *WAL) Flush() error {
	if err := w.writer.Sync(); err != nil {
		return fmt.Errorf("wal: failed to sync segment %q: %w", w.name, err)
	}
	return nil
}

// Close releases the segment's writer back to the pool. The memtable it
// backs has already been flushed by the time this is called. Recording the
// segment's retirement in the manifest is left to the caller, and the
// pool's sweep later closes the idle file handle.
func (w *WAL) Close() error {
	return w.writer.Close()
}
