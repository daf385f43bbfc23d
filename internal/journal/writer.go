package journal

import (
	"sync"

	"boulder/pkg/storage"
	"boulder/pkg/writerpool"
)

// WriteSyncer is the capability a journal writer provides beyond the
// minimal writerpool.Writer surface: a synchronous append and an explicit
// durability barrier. Callers that acquire a writer through the pool (whose
// Writer method only promises writerpool.Writer) assert to this interface
// to get at the actual I/O.
type WriteSyncer interface {
	writerpool.Writer
	Write(p []byte) (int, error)
	Sync() error
}

// Writer is an append-only handle onto one journal's on-disk file. It
// implements writerpool.Writer so the pool can cache it and redirect its
// Close back into the pool.
type Writer struct {
	name string
	file *storage.Writer

	mu         sync.Mutex
	intercept  writerpool.CloseInterceptor
	ownerToken writerpool.Token
	closed     bool
}

var _ WriteSyncer = (*Writer)(nil)

func newWriter(name string, file *storage.Writer) *Writer {
	return &Writer{name: name, file: file}
}

func (w *Writer) Name() string { return w.name }

func (w *Writer) SetCloseInterceptor(hook writerpool.CloseInterceptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intercept = hook
}

func (w *Writer) ClearCloseInterceptor() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intercept = nil
}

func (w *Writer) SetOwnerToken(tok writerpool.Token) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ownerToken = tok
}

func (w *Writer) OwnerToken() writerpool.Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ownerToken
}

// Write appends buf to the journal.
func (w *Writer) Write(buf []byte) (int, error) {
	return w.file.Write(buf)
}

// Sync flushes the journal to stable storage.
func (w *Writer) Sync() error {
	return w.file.Sync()
}

// Close consults the installed close interceptor, if any, before doing
// anything observable. A writer whose interceptor declines the close (the
// pool is keeping it cached) remains fully usable, as if Close had never
// been called. Physical closure happens at most once even if Close is
// called again after the interceptor has already authorized it.
func (w *Writer) Close() error {
	w.mu.Lock()
	hook := w.intercept
	w.mu.Unlock()

	if hook != nil && !hook.CanClose(w) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
