package avl

import (
	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/util"
)

// FatDBMut is a mutable tree using Keccak-256 hashes of keys as tree keys.
// When a new key is inserted the hash -> key mapping is recorded in the
// auxiliary namespace of the HashDB, it's removed along with the key. The
// mapping is only changed after the tree has been successfully updated and
// reaches the store in the same flush as the new nodes.
type FatDBMut struct {
	raw *DBMut
}

// NewFatDBMut creates an empty mutable tree over the given store.
func NewFatDBMut(db hashdb.HashDB) *FatDBMut {
	return &FatDBMut{raw: NewDBMut(db)}
}

// FatDBMutFromExisting creates a mutable view at the given root, see
// DBMutFromExisting.
func FatDBMutFromExisting(db hashdb.HashDB, root util.Uint256) (*FatDBMut, error) {
	raw, err := DBMutFromExisting(db, root)
	if err != nil {
		return nil, err
	}
	return &FatDBMut{raw: raw}, nil
}

// DB returns the backing HashDB.
func (t *FatDBMut) DB() hashdb.HashDB {
	return t.raw.db
}

// Root implements Trie interface.
func (t *FatDBMut) Root() util.Uint256 {
	return t.raw.Root()
}

// IsEmpty implements Trie interface.
func (t *FatDBMut) IsEmpty() bool {
	return t.raw.IsEmpty()
}

// Get implements Trie interface.
func (t *FatDBMut) Get(key []byte) ([]byte, error) {
	return t.raw.Get(hashKey(key))
}

// Contains implements Trie interface.
func (t *FatDBMut) Contains(key []byte) (bool, error) {
	return t.raw.Contains(hashKey(key))
}

// Len returns the number of entries in the tree.
func (t *FatDBMut) Len() (uint64, error) {
	return t.raw.Len()
}

// Iterate walks all entries in hashed key order, see IterateFat.
func (t *FatDBMut) Iterate(f func(h util.Uint256, key, value []byte) bool) error {
	return IterateFat(t.raw.db, t.raw.root, f)
}

// Insert implements MutableTrie interface.
func (t *FatDBMut) Insert(key, value []byte) ([]byte, error) {
	return t.change(key, nonNil(value))
}

// Remove implements MutableTrie interface.
func (t *FatDBMut) Remove(key []byte) ([]byte, error) {
	return t.change(key, nil)
}

// Apply applies the batch of changes at once, see DBMut.Apply. Keys of the
// changes are raw application keys.
func (t *FatDBMut) Apply(changes []Change) error {
	var (
		hashed = make([]Change, len(changes))
		keys   = make(map[string][]byte, len(changes))
	)
	for i, c := range changes {
		hk := hashKey(c.Key)
		keys[string(hk)] = c.Key
		hashed[i] = Change{Key: hk, Value: c.Value}
	}
	_, err := t.raw.apply(hashed, func(o hashdb.HashDB, ps []pending) {
		for i := range ps {
			updateAux(o, &ps[i], keys[string(ps[i].key)])
		}
	})
	return err
}

func (t *FatDBMut) change(key, value []byte) ([]byte, error) {
	ps, err := t.raw.apply([]Change{{Key: hashKey(key), Value: value}}, func(o hashdb.HashDB, ps []pending) {
		updateAux(o, &ps[0], key)
	})
	if err != nil {
		return nil, err
	}
	return ps[0].old, nil
}

// updateAux records the original key of a new entry or forgets the one of a
// removed entry.
func updateAux(db hashdb.HashDB, p *pending, key []byte) {
	switch {
	case p.old == nil && p.value != nil:
		db.InsertAux(p.key, key)
	case p.old != nil && p.value == nil:
		db.RemoveAux(p.key)
	}
}
