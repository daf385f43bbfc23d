package skiplist

import "boulder/internal/base"

// Iterator iterates over a Skiplist's entries in key order. Construct one
// with Skiplist.NewIterator. It is not safe for concurrent use by multiple
// goroutines, though it may run concurrently with mutations to the skiplist
// it iterates; a node observed mid-insert is simply not visible until its
// links are fully published.
type Iterator struct {
	list *Skiplist
	nd   *node
	kv   base.InternalKV

	// release, if set, is invoked exactly once by Close. The memtable uses
	// this to drop the reference it holds open on its behalf.
	release func() error
}

// NewIterator returns an Iterator over s. release, if non-nil, is invoked
// exactly once when the returned iterator is closed.
func (s *Skiplist) NewIterator(release func() error) *Iterator {
	return &Iterator{list: s, release: release}
}

func (it *Iterator) First() *base.InternalKV {
	it.nd = it.list.getNext(it.list.head, 0)
	if it.nd == it.list.tail {
		return nil
	}
	it.decodeKV()
	return &it.kv
}

func (it *Iterator) Last() *base.InternalKV {
	it.nd = it.list.getPrev(it.list.tail, 0)
	if it.nd == it.list.head {
		return nil
	}
	it.decodeKV()
	return &it.kv
}

func (it *Iterator) Next() *base.InternalKV {
	it.nd = it.list.getNext(it.nd, 0)
	if it.nd == it.list.tail {
		return nil
	}
	it.decodeKV()
	return &it.kv
}

func (it *Iterator) Prev() *base.InternalKV {
	it.nd = it.list.getPrev(it.nd, 0)
	if it.nd == it.list.head {
		return nil
	}
	it.decodeKV()
	return &it.kv
}

func (it *Iterator) decodeKV() {
	it.kv.K.LogicalKey = it.list.arena.GetBytes(it.nd.keyOffset, it.nd.keySize)
	it.kv.K.Trailer = it.nd.keyTrailer
	it.kv.V = it.list.arena.GetBytes(it.nd.keyOffset+it.nd.keySize, it.nd.valSize)
}

func (it *Iterator) Close() error {
	var err error
	if it.release != nil {
		err = it.release()
	}
	*it = Iterator{}
	return err
}
