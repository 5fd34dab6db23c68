package hashdb

import (
	"sync"

	"github.com/neohex/chit/pkg/crypto/hash"
	"github.com/neohex/chit/pkg/util"
)

// Entry is a blob with its reference counter. The counter can be negative
// when MemoryDB is used as a journal of pending changes.
type Entry struct {
	Value []byte
	Refs  int32
}

// MemoryDB is an in-memory HashDB implementation. It can be used both as
// a standalone store (mostly for tests) and as a journal of pending changes
// for some other HashDB (see Overlay), that's why it tracks negative
// reference counters for blobs removed before being inserted.
type MemoryDB struct {
	mut  sync.RWMutex
	data map[util.Uint256]Entry
	// aux holds auxiliary values, nil denotes removal.
	aux map[string][]byte
}

var (
	_ HashDB  = (*MemoryDB)(nil)
	_ Sweeper = (*MemoryDB)(nil)
)

// NewMemoryDB creates an empty MemoryDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		data: make(map[util.Uint256]Entry),
		aux:  make(map[string][]byte),
	}
}

// Get implements HashDB interface.
func (m *MemoryDB) Get(h util.Uint256) ([]byte, bool) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	e, ok := m.data[h]
	if !ok || e.Refs <= 0 {
		return nil, false
	}
	return e.Value, true
}

// Contains implements HashDB interface.
func (m *MemoryDB) Contains(h util.Uint256) bool {
	_, ok := m.Get(h)
	return ok
}

// Insert implements HashDB interface.
func (m *MemoryDB) Insert(value []byte) util.Uint256 {
	h := hash.Keccak256(value)
	m.Emplace(h, value)
	return h
}

// Emplace implements HashDB interface. The value is copied.
func (m *MemoryDB) Emplace(h util.Uint256, value []byte) {
	m.mut.Lock()
	defer m.mut.Unlock()
	e, ok := m.data[h]
	if !ok || e.Refs <= 0 {
		e.Value = make([]byte, len(value))
		copy(e.Value, value)
	}
	e.Refs++
	m.set(h, e)
}

// Remove implements HashDB interface.
func (m *MemoryDB) Remove(h util.Uint256) {
	m.mut.Lock()
	defer m.mut.Unlock()
	e := m.data[h]
	e.Refs--
	m.set(h, e)
}

// set stores the entry dropping it if there are no references left, must be
// called with the lock held.
func (m *MemoryDB) set(h util.Uint256, e Entry) {
	if e.Refs == 0 {
		delete(m.data, h)
		return
	}
	m.data[h] = e
}

// Refs returns the current reference counter of the blob.
func (m *MemoryDB) Refs(h util.Uint256) int32 {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return m.data[h].Refs
}

// GetAux implements HashDB interface.
func (m *MemoryDB) GetAux(key []byte) ([]byte, bool) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	v := m.aux[string(key)]
	return v, v != nil
}

// InsertAux implements HashDB interface.
func (m *MemoryDB) InsertAux(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.mut.Lock()
	m.aux[string(key)] = v
	m.mut.Unlock()
}

// RemoveAux implements HashDB interface.
func (m *MemoryDB) RemoveAux(key []byte) {
	m.mut.Lock()
	m.aux[string(key)] = nil
	m.mut.Unlock()
}

// Keys returns hashes of all blobs with positive reference counters.
func (m *MemoryDB) Keys() []util.Uint256 {
	m.mut.RLock()
	defer m.mut.RUnlock()
	res := make([]util.Uint256, 0, len(m.data))
	for h, e := range m.data {
		if e.Refs > 0 {
			res = append(res, h)
		}
	}
	return res
}

// Len returns the number of journaled blobs (including those with negative
// reference counters).
func (m *MemoryDB) Len() int {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return len(m.data)
}

// Drain returns all journaled blob changes and auxiliary changes (nil values
// are removals) clearing the MemoryDB.
func (m *MemoryDB) Drain() (map[util.Uint256]Entry, map[string][]byte) {
	m.mut.Lock()
	defer m.mut.Unlock()
	data, aux := m.data, m.aux
	m.data = make(map[util.Uint256]Entry)
	m.aux = make(map[string][]byte)
	return data, aux
}

// Reconcile implements Sweeper interface.
func (m *MemoryDB) Reconcile(refs map[util.Uint256]int32) (int, error) {
	m.mut.Lock()
	defer m.mut.Unlock()
	var removed int
	for h, e := range m.data {
		cnt, ok := refs[h]
		if !ok || cnt <= 0 {
			delete(m.data, h)
			if e.Refs > 0 {
				removed++
			}
			continue
		}
		e.Refs = cnt
		m.data[h] = e
	}
	return removed, nil
}
