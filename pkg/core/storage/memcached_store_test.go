package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemCachedStorePersist(t *testing.T) {
	ps := NewMemoryStore()
	ts := NewMemCachedStore(ps)

	// Persisting nothing should do nothing.
	c, err := ts.Persist()
	require.NoError(t, err)
	require.Equal(t, 0, c)

	ts.Put([]byte("key"), []byte("value"))
	ts.Put([]byte("empty"), nil)
	require.Equal(t, 2, ts.Len())

	// Not yet in the persistent layer.
	_, err = ps.Get([]byte("key"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	v, err := ts.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), v)

	c, err = ts.Persist()
	require.NoError(t, err)
	require.Equal(t, 2, c)
	require.Equal(t, 0, ts.Len())

	v, err = ps.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), v)
	v, err = ps.Get([]byte("empty"))
	require.NoError(t, err)
	require.Equal(t, []byte{}, v)

	// Deletion hides the persisted value until flushed.
	ts.Delete([]byte("key"))
	_, err = ts.Get([]byte("key"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = ps.Get([]byte("key"))
	require.NoError(t, err)

	c, err = ts.Persist()
	require.NoError(t, err)
	require.Equal(t, 1, c)
	_, err = ps.Get([]byte("key"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemCachedStoreDiscard(t *testing.T) {
	ps := NewMemoryStore()
	require.NoError(t, ps.PutChangeSet(map[string][]byte{"a": []byte{1}}))
	ts := NewMemCachedStore(ps)

	ts.Put([]byte("b"), []byte{2})
	ts.Delete([]byte("a"))
	ts.Discard()

	_, err := ts.Get([]byte("b"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	v, err := ts.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)
}

func TestMemCachedStoreSeekMerge(t *testing.T) {
	ps := NewMemoryStore()
	require.NoError(t, ps.PutChangeSet(map[string][]byte{
		"p1": []byte{1},
		"p2": []byte{2},
		"p3": []byte{3},
	}))
	ts := NewMemCachedStore(ps)
	ts.Put([]byte("p2"), []byte{22})
	ts.Delete([]byte("p3"))
	ts.Put([]byte("p4"), []byte{4})

	require.Equal(t, []KeyValue{
		{Key: []byte("p1"), Value: []byte{1}},
		{Key: []byte("p2"), Value: []byte{22}},
		{Key: []byte("p4"), Value: []byte{4}},
	}, collectSeek(ts, SeekRange{Prefix: []byte("p")}, nil))
}
