package writerpool

import "sync/atomic"

// Metadata carries whatever a Factory needs to construct a writer, along
// with the unique journal name the pool keys its cache on.
type Metadata interface {
	Name() string
}

// CloseInterceptor is installed on a pooled writer so that the writer's
// Close path can ask the pool whether to actually release the underlying
// resource.
type CloseInterceptor interface {
	// CanClose is invoked from the writer's Close method. A true result
	// authorizes the writer to physically destroy itself; false means the
	// writer has been returned to the pool and must remain usable exactly
	// as if Close had never been called.
	CanClose(w Writer) bool
}

// Writer is the capability the pool requires of every pooled writer.
type Writer interface {
	// Name returns the journal name this writer was constructed for.
	Name() string

	// SetCloseInterceptor installs the hook Close must consult.
	SetCloseInterceptor(hook CloseInterceptor)
	// ClearCloseInterceptor removes the hook, reverting the writer to
	// self-owned: its Close will physically destroy it unconditionally.
	ClearCloseInterceptor()

	// SetOwnerToken stamps the token of the caller the pool just granted
	// ownership to; OwnerToken reports it back. The pool uses this pair to
	// authenticate release attempts without a separate per-checkout handle.
	SetOwnerToken(tok Token)
	OwnerToken() Token

	// Close is the client-facing close. If a close interceptor is
	// installed, it must be consulted via CanClose before anything
	// observable happens, and Close must be a no-op when CanClose returns
	// false.
	Close() error
}

// Factory constructs a fresh writer for the given metadata. Construction may
// block on filesystem I/O; the pool confines that blocking to the acquire
// path of a freshly inserted entry.
type Factory interface {
	Construct(meta Metadata) (Writer, error)
}

// result is the outcome of constructing (or failing to construct) an
// entry's writer. It is immutable once published: every field is set before
// the single atomic Store that makes it visible to other goroutines.
type result struct {
	writer Writer
	err    error
}

// entry is the pool's per-journal slot. owner is the sole synchronizer for
// ownership transfer. result is first published by the entry's creator via
// an atomic pointer store, and replaced only by clearWriter; every store
// gives later readers a well-defined happens-before edge without a mutex.
type entry struct {
	name string

	owner       atomic.Int64
	lastRelease atomic.Int64 // UnixNano, stamped on release
	locked      atomic.Bool

	result atomic.Pointer[result]
}

func newEntry(name string, owner Token) *entry {
	e := &entry{name: name}
	e.owner.Store(int64(owner))
	return e
}

func (e *entry) casOwner(old, new Token) bool {
	return e.owner.CompareAndSwap(int64(old), int64(new))
}

func (e *entry) loadOwner() Token {
	return Token(e.owner.Load())
}

// publish stores the outcome of construction. Called exactly once, by the
// goroutine that won insert-if-absent for this entry.
func (e *entry) publish(w Writer, err error) {
	e.result.Store(&result{writer: w, err: err})
}

// writer returns the currently cached writer, or nil if the entry has no
// writer (locked, poisoned, or reclaimed).
func (e *entry) writer() Writer {
	if r := e.result.Load(); r != nil {
		return r.writer
	}
	return nil
}

// constructionErr returns the error recorded for this entry, if any.
func (e *entry) constructionErr() error {
	if r := e.result.Load(); r != nil {
		return r.err
	}
	return nil
}

// clearWriter detaches the entry from any writer without altering whatever
// construction error may be recorded. Used when locking an entry that holds
// a cached writer (after Lock has physically closed it) and when CanClose
// authorizes the destruction of a writer released after the pool closed.
func (e *entry) clearWriter() {
	e.result.Store(&result{err: e.constructionErr()})
}
