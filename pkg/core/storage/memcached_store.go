package storage

import (
	"maps"
	"sync"
)

// MemCachedStore is a wrapper around persistent store that caches all changes
// being made for them to be later flushed in one batch.
type MemCachedStore struct {
	mut sync.RWMutex
	// mem holds pending changes, nil values are deletions.
	mem map[string][]byte

	// Persistent Store.
	ps Store
}

// NewMemCachedStore creates a new MemCachedStore object.
func NewMemCachedStore(lower Store) *MemCachedStore {
	return &MemCachedStore{
		mem: make(map[string][]byte),
		ps:  lower,
	}
}

// Get implements the Store interface.
func (s *MemCachedStore) Get(key []byte) ([]byte, error) {
	s.mut.RLock()
	val, ok := s.mem[string(key)]
	s.mut.RUnlock()
	if ok {
		if val == nil {
			return nil, ErrKeyNotFound
		}
		return val, nil
	}
	return s.ps.Get(key)
}

// Put puts new KV pair into the store.
func (s *MemCachedStore) Put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	s.mut.Lock()
	s.mem[string(key)] = value
	s.mut.Unlock()
}

// Delete drops KV pair from the store. Never returns an error.
func (s *MemCachedStore) Delete(key []byte) {
	s.mut.Lock()
	s.mem[string(key)] = nil
	s.mut.Unlock()
}

// PutChangeSet implements the Store interface, changes are cached until
// Persist is called. Never returns an error.
func (s *MemCachedStore) PutChangeSet(puts map[string][]byte) error {
	s.mut.Lock()
	maps.Copy(s.mem, puts)
	s.mut.Unlock()
	return nil
}

// Len returns the number of pending changes.
func (s *MemCachedStore) Len() int {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return len(s.mem)
}

// Seek implements the Store interface. Cached changes take precedence over
// the persistent store contents.
func (s *MemCachedStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	merged := make(map[string][]byte)
	s.ps.Seek(rng, func(k, v []byte) bool {
		merged[string(k)] = append([]byte{}, v...)
		return true
	})
	s.mut.RLock()
	maps.Copy(merged, s.mem)
	s.mut.RUnlock()
	for _, kv := range filterSeek(merged, rng) {
		if !f(kv.Key, kv.Value) {
			break
		}
	}
}

// SeekGC implements the Store interface. It's only applied to the persistent
// layer, so Persist should be called before.
func (s *MemCachedStore) SeekGC(rng SeekRange, keep func(k, v []byte) bool) error {
	return s.ps.SeekGC(rng, keep)
}

// Persist flushes all cached changes into the (supposedly) persistent
// store ps in a single change set. It returns the number of flushed keys.
func (s *MemCachedStore) Persist() (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	keys := len(s.mem)
	if keys == 0 {
		return 0, nil
	}
	err := s.ps.PutChangeSet(s.mem)
	if err != nil {
		return 0, err
	}
	s.mem = make(map[string][]byte)
	return keys, nil
}

// Discard drops all cached changes.
func (s *MemCachedStore) Discard() {
	s.mut.Lock()
	s.mem = make(map[string][]byte)
	s.mut.Unlock()
}

// Close implements Store interface, clears up memory and closes the lower layer
// Store.
func (s *MemCachedStore) Close() error {
	s.Discard()
	return s.ps.Close()
}
