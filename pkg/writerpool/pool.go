package writerpool

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Pool is a caching pool of exclusive journal writers. All public methods
// are safe for concurrent use and, aside from the blocking call into the
// Factory on a cache miss, perform only atomic operations and short-lived
// map access: none of them wait on another goroutine.
type Pool struct {
	factory     Factory
	entries     entryTable
	inactiveTTL time.Duration
	logger      *zap.Logger

	closed atomic.Bool
}

// New creates a Pool that constructs writers via factory.
func New(factory Factory, opts ...Option) *Pool {
	p := &Pool{
		factory:     factory,
		inactiveTTL: defaultInactiveTTL,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	return p
}

// Writer returns the exclusive writer for the journal named by meta, either
// handing back a cached idle writer or constructing a fresh one. tok
// identifies the caller and must be supplied on every subsequent Lock,
// Unlock, or Writer call this caller makes, and is stamped onto the
// returned writer so CanClose can later authenticate release attempts.
func (p *Pool) Writer(meta Metadata, tok Token) (Writer, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	name := meta.Name()

	e, found := p.entries.load(name)
	if !found {
		candidate := newEntry(name, tok)
		actual, inserted := p.entries.loadOrStore(candidate)
		if inserted {
			return p.construct(candidate, meta, tok)
		}
		e = actual
	}

	// A poisoned entry has no writer for anyone to own; report the same
	// error to every caller until the sweep garbage-collects it.
	if err := e.constructionErr(); err != nil {
		return nil, &ConstructionError{Name: name, Err: err}
	}

	if e.casOwner(Free, tok) {
		if e.locked.Load() {
			e.casOwner(tok, Free)
			return nil, ErrJournalLocked
		}
		w := e.writer()
		if p.closed.Load() {
			w.ClearCloseInterceptor()
		}
		w.SetOwnerToken(tok)
		return w, nil
	}

	owner := e.loadOwner()
	if owner == tok {
		// Re-entrant acquire: same caller, same writer, owner unchanged.
		if e.locked.Load() {
			return nil, ErrJournalLocked
		}
		w := e.writer()
		if p.closed.Load() {
			w.ClearCloseInterceptor()
		}
		return w, nil
	}

	// Another caller holds the entry. If that hold is an administrative
	// lock, report the lock rather than a transient busy writer.
	if e.locked.Load() {
		return nil, ErrJournalLocked
	}

	p.logger.Debug("writer busy", zap.String("journal", name), zap.Int64("owner", int64(owner)))
	return nil, ErrWriterBusy
}

// construct is invoked exactly once per entry, by the caller that won
// insert-if-absent for its name.
func (p *Pool) construct(e *entry, meta Metadata, tok Token) (Writer, error) {
	w, err := p.factory.Construct(meta)
	if err != nil {
		p.logger.Error("failed to construct writer",
			zap.String("journal", e.name), zap.Error(err))
		e.publish(nil, err)
		return nil, &ConstructionError{Name: e.name, Err: err}
	}

	w.SetOwnerToken(tok)
	w.SetCloseInterceptor(p)
	e.publish(w, nil)

	if p.closed.Load() {
		// The pool closed while we were inside the factory call. Hand the
		// writer back without caching it: the caller's eventual Close must
		// destroy it, not return it to a pool that no longer exists.
		w.ClearCloseInterceptor()
	}

	p.logger.Debug("writer constructed", zap.String("journal", e.name))
	return w, nil
}

// CanClose implements CloseInterceptor. It is installed on every writer
// this pool hands out.
func (p *Pool) CanClose(w Writer) bool {
	name := w.Name()
	e, found := p.entries.load(name)
	if !found {
		w.ClearCloseInterceptor()
		return true
	}

	self := w.OwnerToken()
	if !e.casOwner(self, Free) {
		p.logger.Error("close from non-owner",
			zap.String("journal", name), zap.Int64("caller", int64(self)))
		return false
	}

	if !p.closed.Load() {
		e.lastRelease.Store(time.Now().UnixNano())
		return false
	}

	// The pool is shutting down. Race to reclaim ownership; whichever of
	// {this releasing caller, the shutdown sweep} wins performs the
	// physical close, the other steps aside.
	if e.casOwner(Free, self) {
		w.ClearCloseInterceptor()
		e.clearWriter()
		return true
	}
	return false
}

// Lock administratively reserves name so that no writer can be issued from
// it. It is idempotent for repeated calls by the same caller.
func (p *Pool) Lock(name string, tok Token) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	e, found := p.entries.load(name)
	if !found {
		candidate := newEntry(name, tok)
		actual, inserted := p.entries.loadOrStore(candidate)
		if inserted {
			candidate.locked.Store(true)
			return nil
		}
		e = actual
	}

	if e.casOwner(Free, tok) || e.loadOwner() == tok {
		if w := e.writer(); w != nil {
			w.ClearCloseInterceptor()
			if err := w.Close(); err != nil {
				p.logger.Warn("error closing writer while locking",
					zap.String("journal", name), zap.Error(err))
			}
			e.clearWriter()
		}
		e.locked.Store(true)
		return nil
	}

	return ErrWriterBusy
}

// Unlock releases an administrative lock held by tok. It is a silent no-op
// if there is no entry for name or tok is not the recorded owner; this
// mirrors the defensive behavior of the system this pool is modeled on.
func (p *Pool) Unlock(name string, tok Token) error {
	e, found := p.entries.load(name)
	if !found {
		return nil
	}
	if e.loadOwner() != tok {
		return nil
	}
	if e.writer() != nil {
		return ErrIllegalState
	}
	p.entries.compareAndDelete(name, e)
	return nil
}

// Run performs a single sweep over every tracked entry, reclaiming those
// idle past the pool's inactive TTL and garbage-collecting poisoned
// entries. It reports whether any entry was removed.
func (p *Pool) Run() bool {
	return p.sweep(time.Now().Add(-p.inactiveTTL))
}

func (p *Pool) sweep(deadline time.Time) bool {
	removed := false
	deadlineNanos := deadline.UnixNano()

	p.entries.rangeEntries(func(e *entry) bool {
		if e.constructionErr() == nil && (e.loadOwner() != Free || e.lastRelease.Load() >= deadlineNanos) {
			// Not poisoned, and either still owned or not yet idle past the
			// deadline: leave it alone.
			return true
		}
		r, err := p.reclaim(e)
		if err != nil {
			p.logger.Warn("error closing idle writer", zap.String("journal", e.name), zap.Error(err))
		}
		removed = removed || r
		return true
	})

	return removed
}

// reclaim destroys e's cached writer if it is free, or garbage-collects e if
// it is poisoned, regardless of how long it has sat idle. sweep additionally
// gates on idle duration before calling this; Close does not, since every
// free or poisoned entry is reclaimable the moment the pool shuts down.
func (p *Pool) reclaim(e *entry) (removed bool, err error) {
	if e.constructionErr() != nil {
		return p.entries.compareAndDelete(e.name, e), nil
	}
	if !e.casOwner(Free, tokenSweepDestroyer) {
		return false, nil
	}
	defer e.owner.Store(int64(Free))

	w := e.writer()
	p.entries.compareAndDelete(e.name, e)
	if w == nil {
		return true, nil
	}
	w.ClearCloseInterceptor()
	return true, w.Close()
}

// tokenSweepDestroyer is the token the sweep uses to momentarily claim
// ownership of an idle entry before destroying it. It can never collide
// with a caller-obtained Token since NewToken only ever returns positive
// values and Free is -1.
const tokenSweepDestroyer Token = -2

// Close transitions the pool into its closed state, a one-way latch, and
// reclaims every free or poisoned entry immediately via the same reclaim
// helper the sweep uses, without the idle-duration gate. Entries currently
// held by other callers cannot be reclaimed here; CanClose's shutdown branch
// ensures that when those callers eventually close their writer, it is
// physically destroyed instead of cached. Close does not block waiting for
// that to happen.
func (p *Pool) Close() error {
	p.closed.Store(true)

	var errs *multierror.Error
	p.entries.rangeEntries(func(e *entry) bool {
		if _, err := p.reclaim(e); err != nil {
			errs = multierror.Append(errs, err)
		}
		return true
	})
	return errs.ErrorOrNil()
}

// Size returns the number of journal names currently tracked.
func (p *Pool) Size() int {
	return p.entries.size()
}

// CountFreeWriters returns the number of tracked entries whose owner is
// Free, i.e. cached writers immediately available for acquire.
func (p *Pool) CountFreeWriters() int {
	n := 0
	p.entries.rangeEntries(func(e *entry) bool {
		if e.loadOwner() == Free {
			n++
		}
		return true
	})
	return n
}
