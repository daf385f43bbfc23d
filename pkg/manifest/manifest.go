// Package manifest records the sequence of changes to a database's set of
// on-disk files: SSTables created by a flush or compaction, and WAL segments
// retired once their memtable has been durably flushed. The manifest itself
// is a single append-only journal, "MANIFEST", acquired from the same
// writer pool that serves WAL segments and held for the database's
// lifetime, so every edit goes through one open file handle rather than
// opening a fresh one per edit.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"boulder/internal/journal"
	"boulder/pkg/writerpool"
)

// Name is the fixed journal name the manifest is stored under.
const Name = "MANIFEST"

// EditKind identifies the type of change a Edit records.
type EditKind uint8

const (
	// EditAddTable records that a new SSTable was created at the given
	// level, by a flush or a compaction.
	EditAddTable EditKind = iota
	// EditRemoveTable records that an SSTable was superseded and is no
	// longer part of the database's current state.
	EditRemoveTable
	// EditRetireWAL records that a WAL segment's memtable has been
	// durably flushed and the segment may be removed.
	EditRetireWAL
)

// Edit is a single durable change to the database's file set.
type Edit struct {
	Kind  EditKind
	Path  string
	Level uint64
}

// Manifest serializes Edits to the MANIFEST journal and keeps the pooled
// writer that backs it checked out for the lifetime of the database.
type Manifest struct {
	writer journal.WriteSyncer
	logger *zap.Logger
}

// Open acquires the MANIFEST journal from pool, creating it under dir if
// this is a new database. tok identifies the database session and must be
// the same token used for every other pool operation the caller performs.
func Open(pool *writerpool.Pool, dir string, tok writerpool.Token, logger *zap.Logger) (*Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	meta := journal.NewMetadata(Name, filepath.Join(dir, Name))
	w, err := pool.Writer(meta, tok)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open: %w", err)
	}
	ws, ok := w.(journal.WriteSyncer)
	if !ok {
		return nil, fmt.Errorf("manifest: writer %T does not support direct append", w)
	}

	return &Manifest{writer: ws, logger: logger}, nil
}

// Append durably records edit. Each edit is written as a single
// length-prefixed record so that a partially-written trailing record left
// by a crash can be detected and discarded at replay time.
func (m *Manifest) Append(edit Edit) error {
	var buf bytes.Buffer
	var header [4]byte

	body := encodeEdit(edit)
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	if _, err := m.writer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("manifest: failed to append edit: %w", err)
	}
	if err := m.writer.Sync(); err != nil {
		return fmt.Errorf("manifest: failed to sync: %w", err)
	}

	m.logger.Debug("manifest edit appended",
		zap.Uint8("kind", uint8(edit.Kind)), zap.String("path", edit.Path))
	return nil
}

func encodeEdit(edit Edit) []byte {
	path := []byte(edit.Path)
	buf := make([]byte, 1+8+4+len(path))
	buf[0] = byte(edit.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], edit.Level)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(path)))
	copy(buf[13:], path)
	return buf
}

// Close releases the manifest's writer. Close's interceptor (installed by
// the pool) decides whether this actually destroys the underlying file or
// just returns it to the cache.
func (m *Manifest) Close() error {
	return m.writer.Close()
}
