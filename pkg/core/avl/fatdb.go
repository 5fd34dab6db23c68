package avl

import (
	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/crypto/hash"
	"github.com/neohex/chit/pkg/util"
)

// FatDB is a read-only tree view using Keccak-256 hashes of keys as tree keys.
// Original keys are kept in the auxiliary namespace of the HashDB.
type FatDB struct {
	raw *DB
}

// NewFatDB creates a read-only view at the given root, see NewDB.
func NewFatDB(db hashdb.HashDB, root util.Uint256) (*FatDB, error) {
	raw, err := NewDB(db, root)
	if err != nil {
		return nil, err
	}
	return &FatDB{raw: raw}, nil
}

// DB returns the backing HashDB.
func (t *FatDB) DB() hashdb.HashDB {
	return t.raw.db
}

// Root implements Trie interface.
func (t *FatDB) Root() util.Uint256 {
	return t.raw.Root()
}

// IsEmpty implements Trie interface.
func (t *FatDB) IsEmpty() bool {
	return t.raw.IsEmpty()
}

// Get implements Trie interface.
func (t *FatDB) Get(key []byte) ([]byte, error) {
	return t.raw.Get(hashKey(key))
}

// Contains implements Trie interface.
func (t *FatDB) Contains(key []byte) (bool, error) {
	return t.raw.Contains(hashKey(key))
}

// Len returns the number of entries in the tree.
func (t *FatDB) Len() (uint64, error) {
	return t.raw.Len()
}

// Iterate walks all entries in hashed key order, see IterateFat.
func (t *FatDB) Iterate(f func(h util.Uint256, key, value []byte) bool) error {
	return IterateFat(t.raw.db, t.raw.root, f)
}

// IterateFat walks the tree created by FatDBMut calling f with the hashed key,
// the original key and the value of every entry until f returns false. The
// original key is nil if it's missing from the auxiliary namespace.
func IterateFat(db hashdb.HashDB, root util.Uint256, f func(h util.Uint256, key, value []byte) bool) error {
	var err error
	iterErr := Iterate(db, root, func(k, v []byte) bool {
		var h util.Uint256
		h, err = util.Uint256DecodeBytesBE(k)
		if err != nil {
			return false
		}
		raw, _ := db.GetAux(k)
		return f(h, raw, v)
	})
	if iterErr != nil {
		return iterErr
	}
	return err
}

func hashKey(key []byte) []byte {
	return hash.Keccak256(key).BytesBE()
}
