package skiplist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"boulder/internal/arena"
	"boulder/internal/base"
	"boulder/internal/compare"
)

// TestNodeArenaEnd tests allocating a node at the boundary of an arena. In Go
// 1.14 when the race detector is running, Go will also perform some pointer
// alignment checks. It will detect alignment issues, for example #667 where a
// node's memory would straddle the arena boundary, with unused regions of the
// node struct dipping into unallocated memory. The test runs in every build;
// those alignment checks only apply when it runs under the race detector.
func TestNodeArenaEnd(t *testing.T) {
	key := base.InternalKey{LogicalKey: []byte("a")}
	val := []byte("b")

	// Rather than hardcode an arena size at just the right size, try
	// allocating using successively larger arena sizes until we allocate
	// successfully. The prior attempt will have exercised the right code
	// path.
	for i := uint(1); i < 256; i++ {
		s := &Skiplist{compare: compare.Bytes, arena: arena.New(i)}
		_, _, err := s.newNode(key, val)
		if err == nil {
			// We reached an arena size big enough to allocate a node.
			// If there's an issue at the boundary, the race detector would
			// have found it by now.
			t.Log(i)
			break
		}
		require.Equal(t, ErrBufferFull, err)
	}
}

func TestAddAndIterate(t *testing.T) {
	s := New(4<<10, compare.Bytes)

	keys := [][]byte{[]byte("b"), []byte("a"), []byte("c")}
	for i, k := range keys {
		err := s.Add(base.MakeInternalKey(k, base.SeqNum(i+1), base.InternalKeyKindSet), []byte{byte(i)})
		require.NoError(t, err)
	}

	it := s.NewIterator(nil)
	defer it.Close()

	var got []string
	for kv := it.First(); kv != nil; kv = it.Next() {
		got = append(got, string(kv.K.LogicalKey))
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestAddRejectsDuplicateKey(t *testing.T) {
	s := New(4<<10, compare.Bytes)

	key := base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet)
	require.NoError(t, s.Add(key, []byte("1")))
	require.ErrorIs(t, s.Add(key, []byte("2")), ErrRecordExists)
}
