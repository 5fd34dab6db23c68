/*
Package hashdb implements reference-counted content-addressed blob storage.

Every blob is addressed by the Keccak-256 hash of its contents and carries a
reference counter: inserting the same bytes twice only increments the counter
and the blob is physically dropped once the counter reaches zero. Apart from
that there is an auxiliary namespace addressed directly by caller-provided
keys, it's not reference counted and never clashes with blob hashes.
*/
package hashdb

import (
	"github.com/neohex/chit/pkg/util"
)

// HashDB is a reference-counted hash-addressed blob store. Blobs returned by
// Get and GetAux must not be modified by the caller.
type HashDB interface {
	// Get returns the blob stored under h, false is returned for unknown (or
	// already collected) blobs.
	Get(h util.Uint256) ([]byte, bool)
	// Contains checks whether the blob is present.
	Contains(h util.Uint256) bool
	// Insert hashes the value, stores it if needed, increments its reference
	// counter and returns the hash.
	Insert(value []byte) util.Uint256
	// Emplace is the same as Insert, but uses the provided hash as is. It's
	// the caller's duty to provide a correct hash of the value.
	Emplace(h util.Uint256, value []byte)
	// Remove decrements the reference counter, the blob is dropped once it
	// reaches zero.
	Remove(h util.Uint256)

	// GetAux returns the auxiliary value stored under the key.
	GetAux(key []byte) ([]byte, bool)
	// InsertAux puts the auxiliary value, replacing any previous one.
	InsertAux(key, value []byte)
	// RemoveAux drops the auxiliary value.
	RemoveAux(key []byte)
}

// Sweeper is implemented by HashDBs that can be garbage collected.
type Sweeper interface {
	// Reconcile sets the reference counter of every blob listed in refs to
	// the given value and drops all blobs not listed there. It returns the
	// number of dropped blobs.
	Reconcile(refs map[util.Uint256]int32) (int, error)
}
