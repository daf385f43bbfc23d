package writerpool

import "sync"

// entryTable is a concurrent mapping from journal name to *entry. It wraps
// sync.Map rather than a hand-rolled mutex+map: LoadOrStore gives race-free
// insert-if-absent, Range gives weakly-consistent iteration safe alongside
// concurrent insert/remove, and CompareAndDelete lets the sweep and unlock
// remove an entry only if it is still the one they last observed.
type entryTable struct {
	m sync.Map // name (string) -> *entry
}

// load returns the entry for name, if any.
func (t *entryTable) load(name string) (*entry, bool) {
	v, ok := t.m.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// loadOrStore installs e if no entry exists for its name, reporting
// whether this call won the race.
func (t *entryTable) loadOrStore(e *entry) (actual *entry, inserted bool) {
	v, loaded := t.m.LoadOrStore(e.name, e)
	return v.(*entry), !loaded
}

// compareAndDelete removes the mapping for name only if it still maps to e.
func (t *entryTable) compareAndDelete(name string, e *entry) bool {
	return t.m.CompareAndDelete(name, e)
}

// delete removes the mapping for name unconditionally.
func (t *entryTable) delete(name string) {
	t.m.Delete(name)
}

// rangeEntries calls fn for every entry currently in the table. fn's iteration
// order is unspecified and, per sync.Map, may miss or duplicate entries
// concurrently inserted or removed during the scan.
func (t *entryTable) rangeEntries(fn func(e *entry) bool) {
	t.m.Range(func(_, v any) bool {
		return fn(v.(*entry))
	})
}

// size returns the number of entries currently tracked. This requires a
// full scan since sync.Map does not maintain a count.
func (t *entryTable) size() int {
	n := 0
	t.rangeEntries(func(*entry) bool {
		n++
		return true
	})
	return n
}
