package writerpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTokenIsUniqueAndNeverFree(t *testing.T) {
	seen := make(map[Token]bool)
	for i := 0; i < 1000; i++ {
		tok := NewToken()
		assert.NotEqual(t, Free, tok)
		assert.False(t, seen[tok], "NewToken returned a duplicate value")
		seen[tok] = true
	}
}

func TestEntryCasOwnerTransfersExclusively(t *testing.T) {
	e := newEntry("e", Free)

	tokA := NewToken()
	tokB := NewToken()

	assert.True(t, e.casOwner(Free, tokA))
	assert.False(t, e.casOwner(Free, tokB), "a second caller must not win ownership of an already-owned entry")
	assert.Equal(t, tokA, e.loadOwner())

	assert.True(t, e.casOwner(tokA, Free))
	assert.True(t, e.casOwner(Free, tokB))
}

func TestEntryPublishIsVisibleToLaterReaders(t *testing.T) {
	e := newEntry("e", Free)
	assert.Nil(t, e.writer())
	assert.NoError(t, e.constructionErr())

	w := newFakeWriter("e")
	e.publish(w, nil)
	assert.Same(t, w, e.writer())
	assert.NoError(t, e.constructionErr())

	e.clearWriter()
	assert.Nil(t, e.writer())
}

func TestEntryTableLoadOrStoreInsertsOnce(t *testing.T) {
	var table entryTable

	e1 := newEntry("a", Free)
	actual, inserted := table.loadOrStore(e1)
	assert.True(t, inserted)
	assert.Same(t, e1, actual)

	e2 := newEntry("a", Free)
	actual, inserted = table.loadOrStore(e2)
	assert.False(t, inserted)
	assert.Same(t, e1, actual)

	assert.Equal(t, 1, table.size())
	assert.True(t, table.compareAndDelete("a", e1))
	assert.Equal(t, 0, table.size())
}
