// Package writerpool implements a caching pool of exclusive journal writers.
//
// The pool amortizes the cost of constructing append-only journal writers by
// keeping recently used ones alive across client sessions, while preserving
// the storage engine's single-writer-per-journal invariant. Acquire and
// release are lock-free: ownership of a pooled writer is transferred between
// callers with a compare-and-swap on the entry's owner field, never a central
// mutex. A cooperative, externally-scheduled sweep reclaims writers that have
// sat idle past a TTL, and a close interceptor installed on every pooled
// writer redirects its Close call back into the pool so a "closed" writer is
// really just returned to the cache.
package writerpool
