package pkg

import "io"

type ReadWriterCloser interface {
	Reader
	Writer
	io.Closer
}

type Reader interface {
	// Get gets the value for the given key. It returns ErrKeyNotFound if the
	// DB does not contain the key. Get only searches the live, in-memory
	// memtable: once a key's write has been flushed to an SSTable, Get no
	// longer finds it, even though the key is still durably present on disk.
	//
	// The caller should not modify the contents of the returned slice, but it is
	// safe to modify the contents of the argument after Get returns. The
	// returned slice will remain valid until the returned Closer is closed. On
	// success, the caller MUST call closer.Close() or a memory leak will occur.
	Get(key []byte) (value []byte, closer io.Closer, err error)
}

type Writer interface {
	// Set sets the value for the given key, overwriting any previous value for
	// that key if it exists, and inserting the key-value pair if it does not.
	Set(key, value []byte) error

	// Delete deletes the value for the given key. It is a blind delete, i.e.
	// it does not return an error if the key does not exist.
	Delete(key []byte) error

	// DeleteRange records a tombstone covering the range [start, end)
	// (inclusive on start, exclusive on end). Similarly to Delete, it is a
	// blind delete: it does not check whether any key in the range exists.
	// The tombstone is held in the memtable and reaches disk when that
	// memtable is flushed. Get does not consult it; applying a range tombstone against point reads is a
	// reader-side concern out of scope of this package.
	DeleteRange(start, end []byte) error
}
