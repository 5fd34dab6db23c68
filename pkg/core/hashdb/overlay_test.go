package hashdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlay_FlushDiscard(t *testing.T) {
	backing := NewMemoryDB()
	base := backing.Insert([]byte("base"))
	backing.InsertAux([]byte("gone"), []byte{1})

	o := NewOverlay(backing)
	require.Equal(t, backing, o.Backing())
	require.True(t, o.Contains(base), "reads fall through")

	h := o.Insert([]byte("pending"))
	o.InsertAux([]byte("new"), []byte{2})
	o.RemoveAux([]byte("gone"))
	require.True(t, o.Contains(h))
	require.False(t, backing.Contains(h))
	_, ok := o.GetAux([]byte("gone"))
	require.False(t, ok)
	_, ok = backing.GetAux([]byte("gone"))
	require.True(t, ok)
	require.Equal(t, 1, o.Pending())

	o.Discard()
	require.Equal(t, 0, o.Pending())
	require.False(t, o.Contains(h))
	_, ok = o.GetAux([]byte("gone"))
	require.True(t, ok)

	h = o.Insert([]byte("pending"))
	o.Insert([]byte("pending"))
	o.InsertAux([]byte("new"), []byte{2})
	o.RemoveAux([]byte("gone"))
	o.Remove(base)
	o.Flush()

	require.Equal(t, int32(2), backing.Refs(h))
	require.False(t, backing.Contains(base))
	v, ok := backing.GetAux([]byte("new"))
	require.True(t, ok)
	require.Equal(t, []byte{2}, v)
	_, ok = backing.GetAux([]byte("gone"))
	require.False(t, ok)
	require.Equal(t, 0, o.Pending())
}

func TestOverlay_StoreDB(t *testing.T) {
	backing := newTestStoreDB(t)
	o := NewOverlay(backing)
	h := o.Insert([]byte("value"))
	o.Flush()
	require.Equal(t, int32(1), backing.Refs(h))

	n, err := backing.Persist()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	v, ok := backing.Get(h)
	require.True(t, ok)
	require.Equal(t, []byte("value"), v)
}
