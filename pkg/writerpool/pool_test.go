package writerpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter is an in-memory writerpool.Writer test double. It records how
// many times it was physically closed so tests can distinguish a real close
// from a close the pool absorbed by caching the writer.
type fakeWriter struct {
	name string

	mu        sync.Mutex
	intercept CloseInterceptor
	owner     Token
	closes    int32
}

func newFakeWriter(name string) *fakeWriter { return &fakeWriter{name: name} }

func (w *fakeWriter) Name() string { return w.name }

func (w *fakeWriter) SetCloseInterceptor(hook CloseInterceptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intercept = hook
}

func (w *fakeWriter) ClearCloseInterceptor() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intercept = nil
}

func (w *fakeWriter) SetOwnerToken(tok Token) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.owner = tok
}

func (w *fakeWriter) OwnerToken() Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	hook := w.intercept
	w.mu.Unlock()

	if hook != nil && !hook.CanClose(w) {
		return nil
	}
	atomic.AddInt32(&w.closes, 1)
	return nil
}

func (w *fakeWriter) closeCount() int {
	return int(atomic.LoadInt32(&w.closes))
}

// fakeMetadata is the minimal writerpool.Metadata a fakeFactory needs.
type fakeMetadata string

func (m fakeMetadata) Name() string { return string(m) }

// fakeFactory constructs fakeWriters and counts how many times it was
// asked to, so tests can assert a cache hit never reaches the factory.
type fakeFactory struct {
	constructs atomic.Int32
	failNames  sync.Map // name -> error
}

func (f *fakeFactory) Construct(meta Metadata) (Writer, error) {
	f.constructs.Add(1)
	if v, ok := f.failNames.Load(meta.Name()); ok {
		return nil, v.(error)
	}
	return newFakeWriter(meta.Name()), nil
}

func (f *fakeFactory) failNext(name string, err error) {
	f.failNames.Store(name, err)
}

func TestPoolWriterIsExclusive(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)

	tokA := NewToken()
	tokB := NewToken()
	meta := fakeMetadata("journal-a")

	w1, err := p.Writer(meta, tokA)
	require.NoError(t, err)
	require.NotNil(t, w1)

	_, err = p.Writer(meta, tokB)
	assert.ErrorIs(t, err, ErrWriterBusy)

	require.NoError(t, w1.Close())

	w2, err := p.Writer(meta, tokB)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
}

func TestPoolWriterCachesAcrossSessions(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-b")

	tokA := NewToken()
	w1, err := p.Writer(meta, tokA)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	tokB := NewToken()
	w2, err := p.Writer(meta, tokB)
	require.NoError(t, err)
	assert.Same(t, w1, w2)

	assert.EqualValues(t, 1, f.constructs.Load())
}

func TestPoolWriterReentrantAcquire(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-c")
	tok := NewToken()

	w1, err := p.Writer(meta, tok)
	require.NoError(t, err)

	w2, err := p.Writer(meta, tok)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
}

func TestPoolReleaseDoesNotDestroyCachedWriter(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-d")
	tok := NewToken()

	w, err := p.Writer(meta, tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)

	require.NoError(t, w.Close())
	assert.Equal(t, 0, fw.closeCount(), "releasing to an open pool must not physically close the writer")
}

func TestPoolCloseDestroysFreeWritersAndRejectsNewAcquires(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-e")
	tok := NewToken()

	w, err := p.Writer(meta, tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)
	require.NoError(t, w.Close())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, fw.closeCount())

	_, err = p.Writer(meta, NewToken())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCloseDestroysOutstandingWriterOnRelease(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-f")
	tok := NewToken()

	w, err := p.Writer(meta, tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)

	require.NoError(t, p.Close())
	assert.Equal(t, 0, fw.closeCount(), "a writer still checked out is not destroyed by Close itself")

	require.NoError(t, w.Close())
	assert.Equal(t, 1, fw.closeCount(), "releasing after Close must physically destroy the writer")
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-g")
	tok := NewToken()

	w, err := p.Writer(meta, tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 0, fw.closeCount())

	// Re-acquire and release through the pool once more; still no physical
	// close since the pool stayed open the whole time.
	w2, err := p.Writer(meta, NewToken())
	require.NoError(t, err)
	require.NoError(t, w2.Close())
	assert.Equal(t, 0, fw.closeCount())
}

func TestPoolSweepReclaimsIdleWritersPastTTL(t *testing.T) {
	f := &fakeFactory{}
	p := New(f, WithInactiveTTL(time.Millisecond))
	meta := fakeMetadata("journal-h")
	tok := NewToken()

	w, err := p.Writer(meta, tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)
	require.NoError(t, w.Close())

	time.Sleep(5 * time.Millisecond)

	removed := p.Run()
	assert.True(t, removed)
	assert.Equal(t, 1, fw.closeCount())
	assert.Equal(t, 0, p.Size())
}

func TestPoolSweepLeavesFreshlyReleasedWriterAlone(t *testing.T) {
	f := &fakeFactory{}
	p := New(f, WithInactiveTTL(time.Hour))
	meta := fakeMetadata("journal-i")
	tok := NewToken()

	w, err := p.Writer(meta, tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)
	require.NoError(t, w.Close())

	assert.False(t, p.Run())
	assert.Equal(t, 0, fw.closeCount())
	assert.Equal(t, 1, p.Size())
}

func TestPoolSweepDoesNotTouchOwnedWriter(t *testing.T) {
	f := &fakeFactory{}
	p := New(f, WithInactiveTTL(time.Millisecond))
	meta := fakeMetadata("journal-j")
	tok := NewToken()

	_, err := p.Writer(meta, tok)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.False(t, p.Run())
	assert.Equal(t, 1, p.Size())
}

func TestPoolLockExcludesWriterAcquire(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	name := "journal-k"
	lockTok := NewToken()

	require.NoError(t, p.Lock(name, lockTok))

	_, err := p.Writer(fakeMetadata(name), NewToken())
	assert.ErrorIs(t, err, ErrJournalLocked)

	require.NoError(t, p.Unlock(name, lockTok))

	w, err := p.Writer(fakeMetadata(name), NewToken())
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestPoolLockFailsWhileAnotherTokenOwnsTheWriter(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	name := "journal-k2"
	tokA := NewToken()
	tokB := NewToken()

	_, err := p.Writer(fakeMetadata(name), tokA)
	require.NoError(t, err)

	err = p.Lock(name, tokB)
	assert.ErrorIs(t, err, ErrWriterBusy)
}

func TestPoolLockClosesAnyCachedWriterFirst(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	name := "journal-l"
	tok := NewToken()

	w, err := p.Writer(fakeMetadata(name), tok)
	require.NoError(t, err)
	fw := w.(*fakeWriter)
	require.NoError(t, w.Close())

	require.NoError(t, p.Lock(name, NewToken()))
	assert.Equal(t, 1, fw.closeCount())
}

func TestPoolUnlockRejectsNonOwner(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	name := "journal-m"

	require.NoError(t, p.Lock(name, NewToken()))
	require.NoError(t, p.Unlock(name, NewToken()))

	// The wrong token silently no-ops; the lock must still stand.
	_, err := p.Writer(fakeMetadata(name), NewToken())
	assert.ErrorIs(t, err, ErrJournalLocked)
}

func TestPoolConstructionErrorIsSticky(t *testing.T) {
	f := &fakeFactory{}
	f.failNext("journal-n", assert.AnError)
	p := New(f)

	_, err1 := p.Writer(fakeMetadata("journal-n"), NewToken())
	_, err2 := p.Writer(fakeMetadata("journal-n"), NewToken())

	var ce1, ce2 *ConstructionError
	require.ErrorAs(t, err1, &ce1)
	require.ErrorAs(t, err2, &ce2)
	assert.ErrorIs(t, ce1.Err, assert.AnError)
	assert.ErrorIs(t, ce2.Err, assert.AnError)
	assert.EqualValues(t, 1, f.constructs.Load(), "a poisoned entry must not retry construction")
}

func TestPoolCloseGarbageCollectsPoisonedEntry(t *testing.T) {
	f := &fakeFactory{}
	f.failNext("journal-o", assert.AnError)
	p := New(f)

	_, err := p.Writer(fakeMetadata("journal-o"), NewToken())
	var ce *ConstructionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 1, p.Size())

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Size(), "Close must garbage-collect a poisoned entry the same way the sweep does")
}

func TestPoolConcurrentAcquireIsExclusiveAndLeakFree(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)
	meta := fakeMetadata("journal-concurrent")

	const goroutines = 64
	var acquired atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			tok := NewToken()
			for {
				w, err := p.Writer(meta, tok)
				if err == nil {
					acquired.Add(1)
					time.Sleep(time.Microsecond)
					if closeErr := w.Close(); closeErr != nil {
						t.Errorf("close: %v", closeErr)
					}
					return
				}
				if err == ErrWriterBusy {
					continue
				}
				t.Errorf("unexpected error: %v", err)
				return
			}
		}()
	}

	wg.Wait()
	assert.EqualValues(t, goroutines, acquired.Load())
	assert.EqualValues(t, 1, f.constructs.Load())

	require.NoError(t, p.Close())
}

func TestPoolCloseReclaimsEveryFreeEntry(t *testing.T) {
	f := &fakeFactory{}
	p := New(f)

	for i := 0; i < 3; i++ {
		tok := NewToken()
		w, err := p.Writer(fakeMetadata(fmt.Sprintf("journal-close-%d", i)), tok)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Size())
}
