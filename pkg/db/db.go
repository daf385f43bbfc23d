package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"boulder/internal/base"
	"boulder/internal/compare"
	"boulder/internal/journal"
	"boulder/pkg/manifest"
	"boulder/pkg/memtable"
	"boulder/pkg/sstable"
	"boulder/pkg/wal"
	"boulder/pkg/writerpool"
)

const (
	DataDirectoryName = "data"
	WalDirectoryName  = "wal"
)

// DB is an embedded, single-process columnar key-value store. Writes land
// in an in-memory memtable, each of which has its own write-ahead log
// segment open; writes are not appended to that segment, and reach disk
// when the memtable is flushed. Once a memtable fills, it is swapped out,
// flushed to an immutable SSTable in the background, and its WAL segment
// is retired. Every WAL segment is a pooled journal writer under its own
// name, so each rotation constructs a new writer for the new segment.
type DB struct {
	// mu protects memtable, sstables, and the handoff that swaps one
	// memtable for the next. rotateMemtable holds it while opening the next
	// WAL segment.
	mu       sync.Mutex
	seqNum   base.AtomicSeqNum
	memtable *memtable.MemTable
	sstables []*sstable.SSTable

	// flushes counts in-flight memtable-to-sstable flushes so Close can wait
	// for the final one to finish writing to the manifest before it closes
	// the manifest's writer out from underneath it.
	flushes sync.WaitGroup

	memtableSize  uint
	sweepInterval time.Duration

	dataDirectory     *os.File
	walDirectory      *os.File
	lockFile          *os.File
	dataDirectoryPath string
	walDirectoryPath  string

	walPool  *writerpool.Pool
	tok      writerpool.Token
	manifest *manifest.Manifest

	walSeq   atomic.Uint64
	tableSeq atomic.Uint64

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	logger *zap.Logger

	closed atomic.Bool
}

// Open opens the database in read-write mode. If the database directory does
// not exist or is empty, a new database is created. If the database directory
// exists, its lock file is taken and new files are written alongside the
// existing ones; existing SSTables, WAL segments and manifest records are
// not read back.
func Open(directory string, options ...Option) (*DB, error) {
	dataDirectoryPath := filepath.Join(directory, DataDirectoryName)
	walDirectoryPath := filepath.Join(directory, WalDirectoryName)

	if err := os.MkdirAll(dataDirectoryPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(walDirectoryPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create wal directory: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(directory, "db.lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("failed to lock directory: %w", err)
	}

	dataDirectory, err := os.OpenFile(dataDirectoryPath, os.O_CREATE|os.O_RDWR, 0755)
	if err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	walDirectory, err := os.OpenFile(walDirectoryPath, os.O_CREATE|os.O_RDWR, 0755)
	if err != nil {
		_ = dataDirectory.Close()
		_ = lockFile.Close()
		return nil, fmt.Errorf("failed to open wal directory: %w", err)
	}

	d := &DB{
		memtableSize:      defaultMemtableSize,
		sweepInterval:     defaultSweepInterval,
		dataDirectory:     dataDirectory,
		walDirectory:      walDirectory,
		lockFile:          lockFile,
		dataDirectoryPath: dataDirectoryPath,
		walDirectoryPath:  walDirectoryPath,
	}
	for _, opt := range options {
		opt.apply(d)
	}
	if d.logger == nil {
		logger, zapErr := zap.NewProduction()
		if zapErr != nil {
			logger = zap.NewNop()
		}
		d.logger = logger
	}

	opened := false
	defer func() {
		if !opened {
			_ = d.closeResources()
		}
	}()

	d.walPool = writerpool.New(journal.Factory{}, writerpool.WithLogger(d.logger))
	d.tok = writerpool.NewToken()

	d.manifest, err = manifest.Open(d.walPool, directory, d.tok, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	w, err := d.openNextWAL()
	if err != nil {
		return nil, fmt.Errorf("failed to open initial wal segment: %w", err)
	}
	d.memtable = memtable.New(d.memtableSize, w, compare.Bytes, d.onMemtableFlush)

	ctx, cancel := context.WithCancel(context.Background())
	d.sweepCancel = cancel
	d.sweepDone = make(chan struct{})
	go d.runSweep(ctx)

	opened = true
	return d, nil
}

// OpenReadOnly opens the database in read-only mode to perform read operations
// on persisted database. Any operation that writes data or mutates database
// state will return an error. This will maintain a directory file-lock on the
// database directory until the database is closed.
func OpenReadOnly(directory string, options ...Option) (*DB, error) {
	panic("not implemented")
}

func (d *DB) openNextWAL() (*wal.WAL, error) {
	name := fmt.Sprintf("%06d.wal", d.walSeq.Add(1))
	return wal.Open(d.walPool, d.walDirectoryPath, name, d.tok)
}

// onMemtableFlush is invoked exactly once per memtable, from the dedicated
// goroutine memtable.Flush starts, once every writer in flight at the time
// Flush was called has returned. It drains the memtable into a new SSTable,
// records the new table and the retired WAL segment in the manifest, and
// closes the segment's pooled writer.
func (d *DB) onMemtableFlush(m *memtable.MemTable) {
	defer d.flushes.Done()

	id := d.tableSeq.Add(1)
	path := filepath.Join(d.dataDirectoryPath, fmt.Sprintf("%06d.sst", id))

	table, err := sstable.New(path, id, 0, m.NewIterator())
	if err != nil {
		d.logger.Error("failed to flush memtable to sstable", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.sstables = append(d.sstables, table)
	d.mu.Unlock()

	if err := d.manifest.Append(manifest.Edit{Kind: manifest.EditAddTable, Path: path, Level: 0}); err != nil {
		d.logger.Error("failed to record new sstable in manifest", zap.Error(err))
	}

	if w := m.WAL(); w != nil {
		name := w.Name()
		if err := w.Close(); err != nil {
			d.logger.Warn("failed to close retired wal segment", zap.String("segment", name), zap.Error(err))
		}
		if err := d.manifest.Append(manifest.Edit{Kind: manifest.EditRetireWAL, Path: name}); err != nil {
			d.logger.Error("failed to record wal retirement in manifest", zap.Error(err))
		}
	}
}

// runSweep periodically reclaims WAL segment writers that have sat idle
// past the pool's TTL. It is the externally-scheduled caller the pool
// itself never provides.
func (d *DB) runSweep(ctx context.Context) {
	defer close(d.sweepDone)

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.walPool.Run()
		}
	}
}

// Close is a blocking call that will wait until all pending writes and
// compactions are finished before safely closing the DB.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	d.sweepCancel()
	<-d.sweepDone

	var errs *multierror.Error

	d.mu.Lock()
	d.flushes.Add(1)
	d.memtable.Flush()
	d.mu.Unlock()
	d.flushes.Wait()

	if err := d.manifest.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close manifest: %w", err))
	}
	if err := d.walPool.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close wal pool: %w", err))
	}
	if err := d.closeResources(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

func (d *DB) closeResources() error {
	var errs *multierror.Error
	if err := d.dataDirectory.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close data directory: %w", err))
	}
	if err := d.walDirectory.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close wal directory: %w", err))
	}
	if err := syscall.Flock(int(d.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to unlock directory: %w", err))
	}
	if err := d.lockFile.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close lock file: %w", err))
	}
	return errs.ErrorOrNil()
}

// Get returns a copy of the value most recently written for key, searching
// only the live memtable. Once a memtable is flushed, its contents are only
// reachable through an SSTable; reading flushed tables is out of scope of
// this implementation, so Get reports ErrKeyNotFound for a key whose last
// write has already been flushed.
func (d *DB) Get(key []byte) (value []byte, closer io.Closer, err error) {
	d.mu.Lock()
	m := d.memtable
	d.mu.Unlock()

	it := m.NewIterator()
	defer it.Close()

	for kv := it.First(); kv != nil; kv = it.Next() {
		c := compare.Bytes(kv.K.LogicalKey, key)
		if c < 0 {
			continue
		}
		if c > 0 {
			break
		}
		switch kv.Kind() {
		case base.InternalKeyKindDelete, base.InternalKeyKindSingleDelete:
			return nil, nil, ErrKeyNotFound
		case base.InternalKeyKindRangeKeyDelete:
			// A range tombstone's logical key is its start bound, not a
			// point value; it never answers a point Get by itself.
			continue
		}
		out := make([]byte, len(kv.V))
		copy(out, kv.V)
		return out, io.NopCloser(nil), nil
	}
	return nil, nil, ErrKeyNotFound
}

func (d *DB) Set(key, value []byte) error {
	return d.write(key, value, base.InternalKeyKindSet)
}

func (d *DB) Delete(key []byte) error {
	return d.write(key, nil, base.InternalKeyKindDelete)
}

// DeleteRange records a tombstone covering [start, end) by writing a single
// internal key-value pair whose key is the range's start bound and whose
// value is its end bound. It is a blind delete: Get does not consult range
// tombstones (see Get's scope note), so the record is only applied by a
// reader that scans sstables directly, out of scope here. Like every write,
// it reaches disk when its memtable is flushed.
func (d *DB) DeleteRange(start, end []byte) error {
	return d.write(start, end, base.InternalKeyKindRangeKeyDelete)
}

// write appends a single internal key-value pair to the live memtable,
// rotating to a fresh memtable and WAL segment if the current one has
// filled, and retrying with a bumped sequence number on the rare internal
// key collision.
func (d *DB) write(key, value []byte, kind base.InternalKeyKind) error {
	if d.closed.Load() {
		return ErrClosed
	}

	for {
		d.mu.Lock()
		m := d.memtable
		d.mu.Unlock()

		seq := d.seqNum.Add(1)
		kv := base.InternalKV{K: base.MakeInternalKey(key, seq, kind), V: value}

		err := m.Add(kv)
		if err == nil {
			return nil
		}
		if errors.Is(err, memtable.ErrRecordExists) {
			continue
		}
		if errors.Is(err, memtable.ErrMemtableFlushed) {
			if err := d.rotateMemtable(m); err != nil {
				return err
			}
			continue
		}
		if errors.Is(err, memtable.ErrInvalidSeqNum) {
			return fmt.Errorf("boulder: invalid sequence number: %w", err)
		}
		return err
	}
}

// rotateMemtable swaps in a fresh memtable and WAL segment, but only if the
// live memtable is still the one the caller observed becoming full; a
// concurrent writer may have already performed the rotation.
func (d *DB) rotateMemtable(observed *memtable.MemTable) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.memtable != observed {
		return nil
	}

	d.flushes.Add(1)
	observed.Flush()

	w, err := d.openNextWAL()
	if err != nil {
		return fmt.Errorf("failed to rotate wal segment: %w", err)
	}

	d.memtable = memtable.New(d.memtableSize, w, compare.Bytes, d.onMemtableFlush)
	return nil
}
