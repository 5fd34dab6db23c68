package avl

import (
	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/util"
)

// DB is a read-only view of the tree at some committed root. Any number of
// DBs over different roots can be used concurrently with the same HashDB
// provided it's safe for concurrent reads.
type DB struct {
	db   hashdb.HashDB
	root util.Uint256
}

// NewDB creates a read-only view at the given root. Zero root is an empty
// tree, any other root must be present in the store, otherwise ErrMissingRoot
// is returned.
func NewDB(db hashdb.HashDB, root util.Uint256) (*DB, error) {
	if err := checkRoot(db, root); err != nil {
		return nil, err
	}
	return &DB{db: db, root: root}, nil
}

// DB returns the backing HashDB.
func (t *DB) DB() hashdb.HashDB {
	return t.db
}

// Root implements Trie interface.
func (t *DB) Root() util.Uint256 {
	return t.root
}

// IsEmpty implements Trie interface.
func (t *DB) IsEmpty() bool {
	return t.root.IsZero()
}

// Get implements Trie interface.
func (t *DB) Get(key []byte) ([]byte, error) {
	return get(t.db, t.root, key)
}

// Contains implements Trie interface.
func (t *DB) Contains(key []byte) (bool, error) {
	v, err := get(t.db, t.root, key)
	return v != nil, err
}

// Len returns the number of entries in the tree.
func (t *DB) Len() (uint64, error) {
	return size(t.db, t.root)
}

// Iterate walks all entries in key order until f returns false.
func (t *DB) Iterate(f func(key, value []byte) bool) error {
	return Iterate(t.db, t.root, f)
}
