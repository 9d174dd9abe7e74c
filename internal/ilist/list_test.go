package ilist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmpty(t *testing.T) {
	var head Entry
	head.Init()
	assert.True(t, head.Empty())
	assert.Nil(t, head.RemoveAfter())
}

func TestInsertRemoveOrdering(t *testing.T) {
	var head Entry
	head.Init()

	a := &Entry{Owner: "a"}
	b := &Entry{Owner: "b"}
	c := &Entry{Owner: "c"}

	head.InsertAfter(a)  // a
	head.InsertAfter(b)  // b a
	head.InsertBefore(c) // b a c

	require.False(t, head.Empty())
	assert.Equal(t, "b", head.After().Owner)
	assert.Equal(t, "c", head.Before().Owner)
	assert.Equal(t, "a", head.After().After().Owner)

	a.Remove() // b c
	assert.Equal(t, "c", head.After().After().Owner)

	assert.Equal(t, "b", head.RemoveAfter().Owner)
	assert.Equal(t, "c", head.RemoveAfter().Owner)
	assert.True(t, head.Empty())
	assert.Nil(t, head.RemoveAfter())
}

func TestTailIteration(t *testing.T) {
	var head Entry
	head.Init()

	for _, s := range []string{"1", "2", "3"} {
		head.InsertAfter(&Entry{Owner: s})
	}

	// walk from the tail, as the pool shrinker does
	var got []string
	for e := head.Before(); e != &head; e = e.Before() {
		got = append(got, e.Owner.(string))
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}
