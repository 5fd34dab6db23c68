package avl

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/util"
)

// Change is a single change of a batch, nil Value removes the Key.
type Change struct {
	Key   []byte
	Value []byte
}

// DBMut is a mutable view of the tree. New nodes are kept in memory until the
// whole batch of changes is applied, only those reachable from the new root
// then reach the backing HashDB (via a hashdb.Overlay flushed at once). On any
// error the backing store and the root stay untouched.
//
// Mutations never remove old nodes from the store since they can still be
// referenced from other roots, physical deletion is up to the owner of the
// store (see CountRefs and hashdb.Sweeper).
//
// DBMut is not safe for concurrent use.
type DBMut struct {
	db   hashdb.HashDB
	root util.Uint256
}

// NewDBMut creates an empty mutable tree over the given store.
func NewDBMut(db hashdb.HashDB) *DBMut {
	return &DBMut{db: db}
}

// DBMutFromExisting creates a mutable view at the given root which must be
// present in the store (ErrMissingRoot is returned otherwise). Zero root is an
// empty tree.
func DBMutFromExisting(db hashdb.HashDB, root util.Uint256) (*DBMut, error) {
	if err := checkRoot(db, root); err != nil {
		return nil, err
	}
	return &DBMut{db: db, root: root}, nil
}

// DB returns the backing HashDB.
func (t *DBMut) DB() hashdb.HashDB {
	return t.db
}

// Root implements Trie interface.
func (t *DBMut) Root() util.Uint256 {
	return t.root
}

// IsEmpty implements Trie interface.
func (t *DBMut) IsEmpty() bool {
	return t.root.IsZero()
}

// Get implements Trie interface.
func (t *DBMut) Get(key []byte) ([]byte, error) {
	return get(t.db, t.root, key)
}

// Contains implements Trie interface.
func (t *DBMut) Contains(key []byte) (bool, error) {
	v, err := get(t.db, t.root, key)
	return v != nil, err
}

// Len returns the number of entries in the tree.
func (t *DBMut) Len() (uint64, error) {
	return size(t.db, t.root)
}

// Iterate walks all entries in key order until f returns false.
func (t *DBMut) Iterate(f func(key, value []byte) bool) error {
	return Iterate(t.db, t.root, f)
}

// Insert implements MutableTrie interface. It stores the value under the key
// replacing the previous one (which is returned then). Nil value is stored as
// an empty one.
func (t *DBMut) Insert(key, value []byte) ([]byte, error) {
	return t.change(key, nonNil(value))
}

// Remove implements MutableTrie interface. Removing an absent key is a no-op
// returning nil.
func (t *DBMut) Remove(key []byte) ([]byte, error) {
	return t.change(key, nil)
}

// Apply applies the batch of changes at once, the result is the same as if
// they were applied one by one in the given order (the last change of a key
// wins), but every subtree is restructured at most once.
func (t *DBMut) Apply(changes []Change) error {
	_, err := t.apply(changes, nil)
	return err
}

func (t *DBMut) change(key, value []byte) ([]byte, error) {
	ps, err := t.apply([]Change{{Key: key, Value: value}}, nil)
	if err != nil {
		return nil, err
	}
	return ps[0].old, nil
}

// apply runs the batch publishing new nodes and the root if there were no
// errors. aux is called (if not nil) with the effective changes before the
// overlay is flushed. It returns all (sorted and deduplicated) changes with
// the previous values of keys.
func (t *DBMut) apply(changes []Change, aux func(o hashdb.HashDB, ps []pending)) ([]pending, error) {
	ps, err := t.prepare(changes)
	if err != nil {
		return nil, err
	}
	work := make([]pending, 0, len(ps))
	for _, p := range ps {
		if p.effective() {
			work = append(work, p)
		}
	}
	if len(work) == 0 {
		return ps, nil
	}
	m := &mutator{db: t.db, fresh: make(map[util.Uint256]*Node)}
	root, err := m.apply(t.root, work)
	if err != nil {
		return nil, err
	}
	o := hashdb.NewOverlay(t.db)
	m.publish(o, root)
	if aux != nil {
		aux(o, work)
	}
	o.Flush()
	t.root = root
	return ps, nil
}

// prepare validates the changes, orders them by key dropping all but the last
// change of every key and looks up the current values.
func (t *DBMut) prepare(changes []Change) ([]pending, error) {
	ps := make([]pending, 0, len(changes))
	for _, c := range changes {
		if c.Value != nil {
			if len(c.Key) > MaxKeyLength {
				return nil, fmt.Errorf("%w: %d", ErrKeyTooLong, len(c.Key))
			}
			if len(c.Value) > MaxValueLength {
				return nil, fmt.Errorf("%w: %d", ErrValueTooLong, len(c.Value))
			}
		}
		ps = append(ps, pending{key: c.Key, value: c.Value})
	}
	slices.SortStableFunc(ps, func(a, b pending) int {
		return bytes.Compare(a.key, b.key)
	})
	res := ps[:0]
	for i := range ps {
		if i+1 < len(ps) && bytes.Equal(ps[i].key, ps[i+1].key) {
			continue
		}
		res = append(res, ps[i])
	}
	for i := range res {
		old, err := get(t.db, t.root, res[i].key)
		if err != nil {
			return nil, err
		}
		res[i].old = old
	}
	return res, nil
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

// pending is a change with the value it replaces.
type pending struct {
	key   []byte
	value []byte
	old   []byte
}

// effective is true for changes that modify the tree.
func (p *pending) effective() bool {
	if p.old == nil || p.value == nil {
		return p.old != nil || p.value != nil
	}
	return !bytes.Equal(p.old, p.value)
}

// delta returns the change of the number of entries.
func delta(ps []pending) int64 {
	var d int64
	for i := range ps {
		switch {
		case ps[i].old == nil && ps[i].value != nil:
			d++
		case ps[i].old != nil && ps[i].value == nil:
			d--
		}
	}
	return d
}

// entry is a key-value pair of a flattened subtree.
type entry struct {
	key   []byte
	value []byte
}

// mutator implements structural changes keeping the tree canonical: the root
// of a subtree with s entries always has s/2 entries to the left. Where a
// batch keeps the rank of a subtree root it descends into the children and
// rehashes the path, otherwise the subtree is rebuilt from its entries once
// for the whole batch.
type mutator struct {
	db    hashdb.HashDB
	fresh map[util.Uint256]*Node
}

// node returns either a new node or the one from the store.
func (m *mutator) node(h util.Uint256) (*Node, error) {
	if n, ok := m.fresh[h]; ok {
		return n, nil
	}
	return getNode(m.db, h)
}

// store keeps the new node in memory returning its hash.
func (m *mutator) store(n *Node) util.Uint256 {
	h := n.Hash()
	m.fresh[h] = n
	return h
}

// publish emplaces new nodes reachable from h into db.
func (m *mutator) publish(db hashdb.HashDB, h util.Uint256) {
	n, ok := m.fresh[h]
	if !ok {
		return
	}
	delete(m.fresh, h)
	db.Emplace(h, n.Bytes())
	m.publish(db, n.Left)
	m.publish(db, n.Right)
}

// apply applies effective changes ordered by key to the subtree returning its
// new root.
func (m *mutator) apply(h util.Uint256, ps []pending) (util.Uint256, error) {
	if len(ps) == 0 {
		return h, nil
	}
	if h.IsZero() {
		return m.rebuild(h, ps)
	}
	n, err := m.node(h)
	if err != nil {
		return h, err
	}
	s := int64(n.size) + delta(ps)
	if s == 0 {
		return util.Uint256{}, nil
	}
	var (
		i, found = slices.BinarySearchFunc(ps, n.Key, func(p pending, k []byte) int {
			return bytes.Compare(p.key, k)
		})
		lp, rp = ps[:i], ps[i:]
		mid    *pending
		left   = int64(n.size/2) + delta(lp)
		want   = s / 2
	)
	if found {
		mid, rp = &ps[i], ps[i+1:]
	}
	switch {
	case mid != nil && mid.value == nil && left == want:
		// The root goes away, its successor takes its place.
		l, r, err := m.applyBoth(n, lp, rp)
		if err != nil {
			return h, err
		}
		succ, r, err := m.cut(r, false)
		if err != nil {
			return h, err
		}
		return m.store(NewNode(succ.Key, succ.Value, l, r, uint64(s))), nil
	case mid != nil && mid.value == nil && left-1 == want:
		l, r, err := m.applyBoth(n, lp, rp)
		if err != nil {
			return h, err
		}
		pred, l, err := m.cut(l, true)
		if err != nil {
			return h, err
		}
		return m.store(NewNode(pred.Key, pred.Value, l, r, uint64(s))), nil
	case (mid == nil || mid.value != nil) && left == want:
		l, r, err := m.applyBoth(n, lp, rp)
		if err != nil {
			return h, err
		}
		value := n.Value
		if mid != nil {
			value = mid.value
		}
		return m.store(NewNode(n.Key, value, l, r, uint64(s))), nil
	}
	return m.rebuild(h, ps)
}

func (m *mutator) applyBoth(n *Node, lp, rp []pending) (util.Uint256, util.Uint256, error) {
	l, err := m.apply(n.Left, lp)
	if err != nil {
		return l, n.Right, err
	}
	r, err := m.apply(n.Right, rp)
	return l, r, err
}

// cut removes the rightmost (max is true) or the leftmost entry of the
// non-empty subtree returning it along with the new subtree root.
func (m *mutator) cut(h util.Uint256, max bool) (*Node, util.Uint256, error) {
	e, err := m.edge(h, max)
	if err != nil {
		return nil, h, err
	}
	h, err = m.apply(h, []pending{{key: e.Key, old: e.Value}})
	return e, h, err
}

// edge returns the rightmost (max is true) or the leftmost node of the
// non-empty subtree.
func (m *mutator) edge(h util.Uint256, max bool) (*Node, error) {
	for {
		n, err := m.node(h)
		if err != nil {
			return nil, err
		}
		next := n.Left
		if max {
			next = n.Right
		}
		if next.IsZero() {
			return n, nil
		}
		h = next
	}
}

// span is a subtree of a flattened tree: the position of its first entry and
// the number of entries.
type span struct {
	from int
	size int
}

// rebuilder merges a flattened subtree with the changes and builds a canonical
// subtree out of the result. Ranges of untouched entries matching some old
// subtree reuse it as is.
type rebuilder struct {
	m     *mutator
	old   []entry
	spans map[span]util.Uint256

	es    []entry
	orig  []int // Index in old, -1 for changed entries.
	dirty []int // Number of changed entries before the given index.
}

// rebuild flattens the subtree and builds a new one out of its entries with
// the changes applied.
func (m *mutator) rebuild(h util.Uint256, ps []pending) (util.Uint256, error) {
	r := &rebuilder{m: m, spans: make(map[span]util.Uint256)}
	if err := r.flatten(h); err != nil {
		return h, err
	}
	r.merge(ps)
	return r.build(0, len(r.es)), nil
}

func (r *rebuilder) flatten(h util.Uint256) error {
	if h.IsZero() {
		return nil
	}
	n, err := r.m.node(h)
	if err != nil {
		return err
	}
	from := len(r.old)
	if err = r.flatten(n.Left); err != nil {
		return err
	}
	r.old = append(r.old, entry{key: n.Key, value: n.Value})
	if err = r.flatten(n.Right); err != nil {
		return err
	}
	r.spans[span{from: from, size: len(r.old) - from}] = h
	return nil
}

func (r *rebuilder) merge(ps []pending) {
	size := len(r.old) + len(ps)
	r.es = make([]entry, 0, size)
	r.orig = make([]int, 0, size)
	r.dirty = make([]int, 1, size+1)
	for i, j := 0, 0; i < len(r.old) || j < len(ps); {
		c := -1
		switch {
		case i == len(r.old):
			c = 1
		case j < len(ps):
			c = bytes.Compare(r.old[i].key, ps[j].key)
		}
		switch {
		case c < 0:
			r.add(r.old[i], i)
			i++
		case c > 0:
			r.add(entry{key: ps[j].key, value: ps[j].value}, -1)
			j++
		default:
			if ps[j].value != nil {
				r.add(entry{key: ps[j].key, value: ps[j].value}, -1)
			}
			i++
			j++
		}
	}
}

func (r *rebuilder) add(e entry, orig int) {
	d := r.dirty[len(r.dirty)-1]
	if orig < 0 {
		d++
	}
	r.es = append(r.es, e)
	r.orig = append(r.orig, orig)
	r.dirty = append(r.dirty, d)
}

func (r *rebuilder) build(lo, hi int) util.Uint256 {
	if lo == hi {
		return util.Uint256{}
	}
	if r.dirty[hi] == r.dirty[lo] && r.orig[hi-1]-r.orig[lo] == hi-1-lo {
		if h, ok := r.spans[span{from: r.orig[lo], size: hi - lo}]; ok {
			return h
		}
	}
	mid := lo + (hi-lo)/2
	return r.m.store(NewNode(r.es[mid].key, r.es[mid].value, r.build(lo, mid), r.build(mid+1, hi), uint64(hi-lo)))
}
