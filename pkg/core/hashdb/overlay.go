package hashdb

import (
	"github.com/neohex/chit/pkg/crypto/hash"
	"github.com/neohex/chit/pkg/util"
)

// Overlay is a HashDB journaling all changes on top of some other HashDB.
// Reads fall through to the backing HashDB, writes are kept in memory until
// Flush is called, Discard drops them.
type Overlay struct {
	pending *MemoryDB
	backing HashDB
}

var _ HashDB = (*Overlay)(nil)

// NewOverlay creates an Overlay over the backing HashDB.
func NewOverlay(backing HashDB) *Overlay {
	return &Overlay{
		pending: NewMemoryDB(),
		backing: backing,
	}
}

// Backing returns the underlying HashDB.
func (o *Overlay) Backing() HashDB {
	return o.backing
}

// Get implements HashDB interface.
func (o *Overlay) Get(h util.Uint256) ([]byte, bool) {
	if v, ok := o.pending.Get(h); ok {
		return v, true
	}
	return o.backing.Get(h)
}

// Contains implements HashDB interface.
func (o *Overlay) Contains(h util.Uint256) bool {
	_, ok := o.Get(h)
	return ok
}

// Insert implements HashDB interface.
func (o *Overlay) Insert(value []byte) util.Uint256 {
	h := hash.Keccak256(value)
	o.pending.Emplace(h, value)
	return h
}

// Emplace implements HashDB interface.
func (o *Overlay) Emplace(h util.Uint256, value []byte) {
	o.pending.Emplace(h, value)
}

// Remove implements HashDB interface.
func (o *Overlay) Remove(h util.Uint256) {
	o.pending.Remove(h)
}

// GetAux implements HashDB interface.
func (o *Overlay) GetAux(key []byte) ([]byte, bool) {
	o.pending.mut.RLock()
	v, ok := o.pending.aux[string(key)]
	o.pending.mut.RUnlock()
	if ok {
		return v, v != nil
	}
	return o.backing.GetAux(key)
}

// InsertAux implements HashDB interface.
func (o *Overlay) InsertAux(key, value []byte) {
	o.pending.InsertAux(key, value)
}

// RemoveAux implements HashDB interface.
func (o *Overlay) RemoveAux(key []byte) {
	o.pending.RemoveAux(key)
}

// Pending returns the number of journaled blob changes.
func (o *Overlay) Pending() int {
	return o.pending.Len()
}

// Flush applies all journaled changes to the backing HashDB.
func (o *Overlay) Flush() {
	data, aux := o.pending.Drain()
	for h, e := range data {
		for i := int32(0); i < e.Refs; i++ {
			o.backing.Emplace(h, e.Value)
		}
		for i := e.Refs; i < 0; i++ {
			o.backing.Remove(h)
		}
	}
	for k, v := range aux {
		if v == nil {
			o.backing.RemoveAux([]byte(k))
		} else {
			o.backing.InsertAux([]byte(k), v)
		}
	}
}

// Discard drops all journaled changes.
func (o *Overlay) Discard() {
	o.pending.Drain()
}
