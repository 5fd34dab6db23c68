/*
Package avl implements an authenticated balanced binary search tree stored in
a hashdb.HashDB. Every node is addressed by the Keccak-256 hash of its
serialized form, so the root hash commits to the whole key-value mapping.

The shape of the tree is a pure function of its contents: a subtree holding n
entries has the entry of rank n/2 (in key order) at its root. Thus two trees
with the same contents always have the same root hash no matter which
sequence of insertions and removals produced them, and the heights of any two
sibling subtrees differ by at most one.

DB is a read-only view at some root, DBMut is a mutable one. FatDB and
FatDBMut wrap them hashing application keys before they're used as tree keys.
*/
package avl

import (
	"bytes"
	"fmt"

	"github.com/neohex/chit/pkg/core/hashdb"
	"github.com/neohex/chit/pkg/util"
)

// Trie is a read-only key-value view bound to some root. Absent keys are
// reported with nil values and no error, present values are never nil.
type Trie interface {
	Root() util.Uint256
	IsEmpty() bool
	Get(key []byte) ([]byte, error)
	Contains(key []byte) (bool, error)
}

// MutableTrie is a Trie that can be changed. Both Insert and Remove return
// the previous value (nil if there was none).
type MutableTrie interface {
	Trie
	Insert(key, value []byte) ([]byte, error)
	Remove(key []byte) ([]byte, error)
}

var (
	_ Trie        = (*DB)(nil)
	_ MutableTrie = (*DBMut)(nil)
	_ Trie        = (*FatDB)(nil)
	_ MutableTrie = (*FatDBMut)(nil)
)

// getNode retrieves and decodes the node with the given hash.
func getNode(db hashdb.HashDB, h util.Uint256) (*Node, error) {
	data, ok := db.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingNode, h.StringBE())
	}
	n, err := DecodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", h.StringBE(), err)
	}
	n.setCache(data, h)
	return n, nil
}

// checkRoot ensures the root is either empty or present in the store.
func checkRoot(db hashdb.HashDB, root util.Uint256) error {
	if !root.IsZero() && !db.Contains(root) {
		return fmt.Errorf("%w: %s", ErrMissingRoot, root.StringBE())
	}
	return nil
}

// get descends from the root looking for the key.
func get(db hashdb.HashDB, root util.Uint256, key []byte) ([]byte, error) {
	for h := root; !h.IsZero(); {
		n, err := getNode(db, h)
		if err != nil {
			return nil, err
		}
		switch c := bytes.Compare(key, n.Key); {
		case c == 0:
			return n.Value, nil
		case c < 0:
			h = n.Left
		default:
			h = n.Right
		}
	}
	return nil, nil
}

// size returns the number of entries in the subtree.
func size(db hashdb.HashDB, root util.Uint256) (uint64, error) {
	if root.IsZero() {
		return 0, nil
	}
	n, err := getNode(db, root)
	if err != nil {
		return 0, err
	}
	return n.size, nil
}

// Iterate walks the tree with the given root in key order calling f for every
// entry until f returns false.
func Iterate(db hashdb.HashDB, root util.Uint256, f func(key, value []byte) bool) error {
	_, err := iterate(db, root, f)
	return err
}

func iterate(db hashdb.HashDB, h util.Uint256, f func(key, value []byte) bool) (bool, error) {
	if h.IsZero() {
		return true, nil
	}
	n, err := getNode(db, h)
	if err != nil {
		return false, err
	}
	if cont, err := iterate(db, n.Left, f); !cont || err != nil {
		return false, err
	}
	if !f(n.Key, n.Value) {
		return false, nil
	}
	return iterate(db, n.Right, f)
}

// CountRefs returns the number of references to every node reachable from
// the given roots: one per distinct parent node plus one per root. The result
// is suitable for hashdb.Sweeper.
func CountRefs(db hashdb.HashDB, roots []util.Uint256) (map[util.Uint256]int32, error) {
	var (
		refs  = make(map[util.Uint256]int32)
		stack []util.Uint256
	)
	for _, r := range roots {
		if r.IsZero() {
			continue
		}
		refs[r]++
		if refs[r] == 1 {
			stack = append(stack, r)
		}
	}
	for len(stack) != 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := getNode(db, h)
		if err != nil {
			return nil, err
		}
		for _, c := range []util.Uint256{n.Left, n.Right} {
			if c.IsZero() {
				continue
			}
			refs[c]++
			if refs[c] == 1 {
				stack = append(stack, c)
			}
		}
	}
	return refs, nil
}
