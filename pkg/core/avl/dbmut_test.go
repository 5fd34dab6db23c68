package avl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/util"
	"github.com/stretchr/testify/require"
)

func testKey(i int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(i*7919%10007))
	return k
}

// checkTree ensures the tree under root is canonical and returns its
// contents.
func checkTree(t *testing.T, db hashdb.HashDB, root util.Uint256) map[string][]byte {
	var check func(h util.Uint256) (uint64, uint8)
	check = func(h util.Uint256) (uint64, uint8) {
		if h.IsZero() {
			return 0, 0
		}
		n, err := getNode(db, h)
		require.NoError(t, err)
		ls, lh := check(n.Left)
		rs, rh := check(n.Right)
		require.Equal(t, ls+rs+1, n.Size())
		require.Equal(t, n.Size()/2, ls, "root rank")
		require.LessOrEqual(t, int(lh)-int(rh), 1)
		require.LessOrEqual(t, int(rh)-int(lh), 1)
		require.Equal(t, max(lh, rh)+1, n.Height())
		return n.Size(), n.Height()
	}
	check(root)

	var (
		res  = make(map[string][]byte)
		prev []byte
	)
	require.NoError(t, Iterate(db, root, func(k, v []byte) bool {
		if prev != nil {
			require.Equal(t, -1, bytes.Compare(prev, k), "keys are ordered")
		}
		prev = k
		res[string(k)] = v
		return true
	}))
	return res
}

func TestDBMut_Empty(t *testing.T) {
	tr := NewDBMut(hashdb.NewMemoryDB())
	require.True(t, tr.IsEmpty())
	require.True(t, tr.Root().IsZero())

	v, err := tr.Get([]byte{1})
	require.NoError(t, err)
	require.Nil(t, v)
	ok, err := tr.Contains([]byte{1})
	require.NoError(t, err)
	require.False(t, ok)

	old, err := tr.Remove([]byte{1})
	require.NoError(t, err)
	require.Nil(t, old)
	require.True(t, tr.IsEmpty())

	l, err := tr.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(0), l)
}

func TestDBMut_RoundTrip(t *testing.T) {
	db := hashdb.NewMemoryDB()
	tr := NewDBMut(db)
	const n = 100
	for i := range n {
		old, err := tr.Insert(testKey(i), []byte{byte(i)})
		require.NoError(t, err)
		require.Nil(t, old)
		checkTree(t, db, tr.Root())
	}
	l, err := tr.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(n), l)

	for i := range n {
		v, err := tr.Get(testKey(i))
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, v)
	}
	for i := range n {
		old, err := tr.Remove(testKey(i))
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, old)

		ok, err := tr.Contains(testKey(i))
		require.NoError(t, err)
		require.False(t, ok)
		require.Len(t, checkTree(t, db, tr.Root()), n-i-1)
	}
	require.True(t, tr.IsEmpty())
}

func TestDBMut_Replace(t *testing.T) {
	db := hashdb.NewMemoryDB()
	tr := NewDBMut(db)
	for i := range 10 {
		_, err := tr.Insert(testKey(i), []byte{byte(i)})
		require.NoError(t, err)
	}
	root := tr.Root()

	old, err := tr.Insert(testKey(3), []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, []byte{3}, old)
	require.Len(t, checkTree(t, db, tr.Root()), 10)
	v, err := tr.Get(testKey(3))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)

	old, err = tr.Insert(testKey(3), []byte{3})
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), old)
	require.Equal(t, root, tr.Root())

	t.Run("same value", func(t *testing.T) {
		keys := len(db.Keys())
		old, err := tr.Insert(testKey(3), []byte{3})
		require.NoError(t, err)
		require.Equal(t, []byte{3}, old)
		require.Equal(t, root, tr.Root())
		require.Equal(t, keys, len(db.Keys()))
	})
	t.Run("nil value", func(t *testing.T) {
		_, err := tr.Insert([]byte("nil"), nil)
		require.NoError(t, err)
		v, err := tr.Get([]byte("nil"))
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Empty(t, v)
	})
}

func TestDBMut_CanonicalCommitment(t *testing.T) {
	const n = 64
	build := func(order []int) util.Uint256 {
		db := hashdb.NewMemoryDB()
		tr := NewDBMut(db)
		for _, i := range order {
			_, err := tr.Insert(testKey(i), []byte{byte(i)})
			require.NoError(t, err)
		}
		checkTree(t, db, tr.Root())
		return tr.Root()
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	expected := build(order)

	slices.Reverse(order)
	require.Equal(t, expected, build(order))

	r := rand.New(rand.NewSource(42))
	for range 5 {
		r.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		require.Equal(t, expected, build(order))
	}

	t.Run("with removals", func(t *testing.T) {
		db := hashdb.NewMemoryDB()
		tr := NewDBMut(db)
		for i := range 2 * n {
			_, err := tr.Insert(testKey(i), []byte{0xff})
			require.NoError(t, err)
		}
		for i := n; i < 2*n; i++ {
			_, err := tr.Remove(testKey(i))
			require.NoError(t, err)
		}
		for i := range n {
			_, err := tr.Insert(testKey(i), []byte{byte(i)})
			require.NoError(t, err)
		}
		require.Equal(t, expected, tr.Root())
	})
}

func TestDBMut_RandomOps(t *testing.T) {
	var (
		db    = hashdb.NewMemoryDB()
		tr    = NewDBMut(db)
		model = make(map[string][]byte)
		r     = rand.New(rand.NewSource(7))
	)
	for range 500 {
		k := []byte{byte(r.Intn(40))}
		if r.Intn(3) == 0 {
			old, err := tr.Remove(k)
			require.NoError(t, err)
			require.Equal(t, model[string(k)], old)
			delete(model, string(k))
		} else {
			v := []byte{byte(r.Intn(256))}
			old, err := tr.Insert(k, v)
			require.NoError(t, err)
			require.Equal(t, model[string(k)], old)
			model[string(k)] = v
		}
		require.Equal(t, model, checkTree(t, db, tr.Root()))
	}

	fresh := NewDBMut(hashdb.NewMemoryDB())
	for k, v := range model {
		_, err := fresh.Insert([]byte(k), v)
		require.NoError(t, err)
	}
	require.Equal(t, tr.Root(), fresh.Root())
}

func TestDBMutFromExisting(t *testing.T) {
	db := hashdb.NewMemoryDB()
	tr := NewDBMut(db)
	_, err := tr.Insert([]byte{1}, []byte{2})
	require.NoError(t, err)

	_, err = DBMutFromExisting(db, util.Uint256{1, 2, 3})
	require.ErrorIs(t, err, ErrMissingRoot)
	_, err = NewDB(db, util.Uint256{1, 2, 3})
	require.ErrorIs(t, err, ErrMissingRoot)

	empty, err := DBMutFromExisting(db, util.Uint256{})
	require.NoError(t, err)
	require.True(t, empty.IsEmpty())

	tr2, err := DBMutFromExisting(db, tr.Root())
	require.NoError(t, err)
	_, err = tr2.Insert([]byte{3}, []byte{4})
	require.NoError(t, err)
	require.NotEqual(t, tr.Root(), tr2.Root())

	// The old root is still there.
	ro, err := NewDB(db, tr.Root())
	require.NoError(t, err)
	ok, err := ro.Contains([]byte{3})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, db, ro.DB())
}

func TestDBMut_Limits(t *testing.T) {
	tr := NewDBMut(hashdb.NewMemoryDB())
	_, err := tr.Insert(make([]byte, MaxKeyLength+1), []byte{1})
	require.ErrorIs(t, err, ErrKeyTooLong)
	_, err = tr.Insert(make([]byte, MaxKeyLength), []byte{1})
	require.NoError(t, err)
}

func TestDBMut_Corrupted(t *testing.T) {
	db := hashdb.NewMemoryDB()
	bad := db.Insert([]byte{0x7f})
	tr, err := DBMutFromExisting(db, bad)
	require.NoError(t, err)
	_, err = tr.Get([]byte{1})
	require.ErrorIs(t, err, ErrDecode)
	_, err = tr.Insert([]byte{1}, []byte{1})
	require.ErrorIs(t, err, ErrDecode)
	require.Equal(t, bad, tr.Root())
}

// failingDB fails every Get after the limit is reached.
type failingDB struct {
	hashdb.HashDB
	limit int
}

func (f *failingDB) Get(h util.Uint256) ([]byte, bool) {
	if f.limit <= 0 {
		return nil, false
	}
	f.limit--
	return f.HashDB.Get(h)
}

func TestDBMut_Atomicity(t *testing.T) {
	mem := hashdb.NewMemoryDB()
	tr := NewDBMut(mem)
	for i := range 31 {
		_, err := tr.Insert(testKey(i), []byte{byte(i)})
		require.NoError(t, err)
	}
	root := tr.Root()
	for _, op := range []func(tr *DBMut) error{
		func(tr *DBMut) error { _, err := tr.Insert(testKey(100), []byte{1}); return err },
		func(tr *DBMut) error { _, err := tr.Remove(testKey(0)); return err },
		func(tr *DBMut) error { _, err := tr.Insert(testKey(5), []byte{1}); return err },
	} {
		var (
			nodes     = mem.Len()
			succeeded bool
		)
		for limit := 0; !succeeded; limit++ {
			f := &failingDB{HashDB: mem, limit: limit}
			tr := &DBMut{db: f, root: root}
			err := op(tr)
			if err == nil {
				succeeded = true
				continue
			}
			require.ErrorIs(t, err, ErrMissingNode)
			require.Equal(t, root, tr.Root())
			require.Equal(t, nodes, mem.Len(), "nothing is written on failure")
		}
		checkTree(t, mem, root)
	}
}

func TestCountRefs(t *testing.T) {
	db := hashdb.NewMemoryDB()
	tr := NewDBMut(db)
	for i := range 20 {
		_, err := tr.Insert(testKey(i), []byte{byte(i)})
		require.NoError(t, err)
	}
	r1 := tr.Root()
	_, err := tr.Insert(testKey(7), []byte("changed"))
	require.NoError(t, err)
	r2 := tr.Root()

	refs, err := CountRefs(db, []util.Uint256{r2})
	require.NoError(t, err)
	require.Len(t, refs, 20)
	require.Equal(t, int32(1), refs[r2])

	both, err := CountRefs(db, []util.Uint256{r1, r2, r2})
	require.NoError(t, err)
	require.Equal(t, int32(2), both[r2])
	require.Greater(t, len(both), len(refs))

	removed, err := db.Reconcile(refs)
	require.NoError(t, err)
	require.Positive(t, removed)
	require.Len(t, checkTree(t, db, r2), 20)
	_, err = NewDB(db, r1)
	require.ErrorIs(t, err, ErrMissingRoot)

	_, err = CountRefs(db, []util.Uint256{{1}})
	require.ErrorIs(t, err, ErrMissingNode)
}

func TestDB_Iterate(t *testing.T) {
	db := hashdb.NewMemoryDB()
	tr := NewDBMut(db)
	for _, k := range []string{"c", "a", "d", "b", "e"} {
		_, err := tr.Insert([]byte(k), []byte(k))
		require.NoError(t, err)
	}
	ro, err := NewDB(db, tr.Root())
	require.NoError(t, err)

	var keys []string
	require.NoError(t, ro.Iterate(func(k, v []byte) bool {
		require.Equal(t, k, v)
		keys = append(keys, string(k))
		return len(keys) < 3
	}))
	require.Equal(t, []string{"a", "b", "c"}, keys)

	l, err := ro.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(5), l)
}

func TestDB_ConcurrentReaders(t *testing.T) {
	db := hashdb.NewMemoryDB()
	tr := NewDBMut(db)
	var roots []util.Uint256
	for i := range 16 {
		_, err := tr.Insert(testKey(i), []byte{byte(i)})
		require.NoError(t, err)
		roots = append(roots, tr.Root())
	}
	var wg sync.WaitGroup
	for i, r := range roots {
		wg.Add(1)
		go func(i int, r util.Uint256) {
			defer wg.Done()
			ro, err := NewDB(db, r)
			if err != nil {
				t.Error(err)
				return
			}
			for j := range 16 {
				ok, err := ro.Contains(testKey(j))
				if err != nil || ok != (j <= i) {
					t.Errorf("root %d, key %d: %v %v", i, j, ok, err)
				}
			}
		}(i, r)
	}
	wg.Wait()
}

// countingDB counts node reads and remembers written nodes.
type countingDB struct {
	hashdb.HashDB
	reads   int
	written []util.Uint256
}

func (c *countingDB) Get(h util.Uint256) ([]byte, bool) {
	c.reads++
	return c.HashDB.Get(h)
}

func (c *countingDB) Contains(h util.Uint256) bool {
	c.reads++
	return c.HashDB.Contains(h)
}

func (c *countingDB) Emplace(h util.Uint256, value []byte) {
	c.written = append(c.written, h)
	c.HashDB.Emplace(h, value)
}

func (c *countingDB) reset() {
	c.reads = 0
	c.written = nil
}

func puts(from, to int) []Change {
	res := make([]Change, 0, to-from)
	for i := from; i < to; i++ {
		res = append(res, Change{Key: testKey(i), Value: []byte{byte(i)}})
	}
	return res
}

func TestDBMut_ApplyCosts(t *testing.T) {
	const n = 1000
	var (
		mem = hashdb.NewMemoryDB()
		db  = &countingDB{HashDB: mem}
		tr  = NewDBMut(db)
	)
	require.NoError(t, tr.Apply(puts(0, n)))
	require.Len(t, checkTree(t, mem, tr.Root()), n)
	require.Zero(t, db.reads)
	require.Len(t, db.written, n, "one node per entry")

	t.Run("replace", func(t *testing.T) {
		height := int(heightOf(n))
		for _, i := range []int{0, 5, n / 2, n - 1} {
			db.reset()
			_, err := tr.Insert(testKey(i), []byte("replaced"))
			require.NoError(t, err)
			require.LessOrEqual(t, len(db.written), height)
			require.LessOrEqual(t, db.reads, 2*height)
		}
	})

	t.Run("batch", func(t *testing.T) {
		before, err := CountRefs(mem, []util.Uint256{tr.Root()})
		require.NoError(t, err)
		changes := puts(n, n+100)
		for i := range 20 {
			changes = append(changes,
				Change{Key: testKey(3 * i)},
				Change{Key: testKey(3*i + 1), Value: []byte("updated")})
		}
		db.reset()
		require.NoError(t, tr.Apply(changes))
		size := n + 100 - 20
		require.Len(t, checkTree(t, mem, tr.Root()), size)

		// Lookups aside, the old tree is read a bounded number of times per
		// batch, not per change.
		require.LessOrEqual(t, db.reads, len(changes)*int(heightOf(n)+1)+4*n)
		after, err := CountRefs(mem, []util.Uint256{tr.Root()})
		require.NoError(t, err)
		require.LessOrEqual(t, len(db.written), size)
		for _, h := range db.written {
			require.Contains(t, after, h, "written nodes are reachable")
			require.NotContains(t, before, h, "unchanged nodes are not written")
		}
	})
}

func TestDBMut_ApplySequential(t *testing.T) {
	var (
		r     = rand.New(rand.NewSource(11))
		mem   = hashdb.NewMemoryDB()
		batch = NewDBMut(mem)
		seq   = NewDBMut(hashdb.NewMemoryDB())
		model = make(map[string][]byte)
	)
	for range 30 {
		changes := make([]Change, r.Intn(40))
		for i := range changes {
			changes[i].Key = []byte{byte(r.Intn(64))}
			if r.Intn(3) != 0 {
				changes[i].Value = []byte{byte(r.Intn(4))}
			}
		}
		require.NoError(t, batch.Apply(changes))
		for _, c := range changes {
			var err error
			if c.Value == nil {
				_, err = seq.Remove(c.Key)
				delete(model, string(c.Key))
			} else {
				_, err = seq.Insert(c.Key, c.Value)
				model[string(c.Key)] = c.Value
			}
			require.NoError(t, err)
		}
		require.Equal(t, seq.Root(), batch.Root())
		require.Equal(t, model, checkTree(t, mem, batch.Root()))
	}

	t.Run("empty", func(t *testing.T) {
		root := batch.Root()
		require.NoError(t, batch.Apply(nil))
		require.NoError(t, batch.Apply([]Change{{Key: []byte("absent")}}))
		require.Equal(t, root, batch.Root())
	})
	t.Run("limits", func(t *testing.T) {
		root := batch.Root()
		err := batch.Apply([]Change{
			{Key: []byte{1}, Value: []byte{1}},
			{Key: make([]byte, MaxKeyLength+1), Value: []byte{1}},
		})
		require.ErrorIs(t, err, ErrKeyTooLong)
		require.Equal(t, root, batch.Root())
	})
}

func BenchmarkDBMut_Apply(b *testing.B) {
	for _, size := range []int{1000, 10000} {
		b.Run(fmt.Sprint(size), func(b *testing.B) {
			tr := NewDBMut(hashdb.NewMemoryDB())
			require.NoError(b, tr.Apply(puts(0, size)))
			root := tr.Root()
			b.ResetTimer()
			for i := range b.N {
				tr.root = root
				require.NoError(b, tr.Apply(puts(size+i%100*100, size+i%100*100+100)))
			}
		})
	}
}
