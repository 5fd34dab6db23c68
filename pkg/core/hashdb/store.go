package hashdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/neohex/chit/pkg/core/storage"
	"github.com/neohex/chit/pkg/crypto/hash"
	"github.com/neohex/chit/pkg/util"
	"go.uber.org/zap"
)

// DefaultCacheSize is the default number of blobs cached by StoreDB.
const DefaultCacheSize = 4096

// refSize is the size of a reference counter appended to every stored blob.
const refSize = 4

// StoreDB is a HashDB implementation on top of storage.Store. It accepts a
// MemCachedStore to decouple storage errors from logic errors so that all
// storage errors are processed during `store.Persist()` at the caller. Read
// errors of the underlying store are logged and reported as absence.
//
// Blobs are stored with storage.DataAVL prefix as value||refcount(uint32 LE),
// auxiliary values use storage.DataAVLAux prefix.
type StoreDB struct {
	store *storage.MemCachedStore
	cache *lru.Cache
	log   *zap.Logger
}

var (
	_ HashDB  = (*StoreDB)(nil)
	_ Sweeper = (*StoreDB)(nil)
)

// NewStoreDB creates a StoreDB over the given store. Non-positive cacheSize
// means DefaultCacheSize.
func NewStoreDB(store *storage.MemCachedStore, cacheSize int, log *zap.Logger) (*StoreDB, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob cache: %w", err)
	}
	return &StoreDB{
		store: store,
		cache: cache,
		log:   log,
	}, nil
}

func makeBlobKey(h util.Uint256) []byte {
	return storage.AppendPrefix(storage.DataAVL, h[:])
}

func makeAuxKey(key []byte) []byte {
	return storage.AppendPrefix(storage.DataAVLAux, key)
}

// getRaw returns the blob and its reference counter.
func (s *StoreDB) getRaw(h util.Uint256) ([]byte, int32, bool) {
	data, err := s.store.Get(makeBlobKey(h))
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.log.Error("failed to read blob", zap.Stringer("hash", h), zap.Error(err))
		}
		return nil, 0, false
	}
	if len(data) < refSize {
		s.log.Error("malformed blob entry", zap.Stringer("hash", h), zap.Int("len", len(data)))
		return nil, 0, false
	}
	n := len(data) - refSize
	return data[:n:n], int32(binary.LittleEndian.Uint32(data[n:])), true
}

func (s *StoreDB) putRaw(h util.Uint256, value []byte, refs int32) {
	data := make([]byte, len(value)+refSize)
	copy(data, value)
	binary.LittleEndian.PutUint32(data[len(value):], uint32(refs))
	s.store.Put(makeBlobKey(h), data)
}

// Get implements HashDB interface.
func (s *StoreDB) Get(h util.Uint256) ([]byte, bool) {
	if v, ok := s.cache.Get(h); ok {
		cacheHits.Inc()
		return v.([]byte), true
	}
	cacheMisses.Inc()
	v, _, ok := s.getRaw(h)
	if !ok {
		return nil, false
	}
	s.cache.Add(h, v)
	return v, true
}

// Contains implements HashDB interface.
func (s *StoreDB) Contains(h util.Uint256) bool {
	_, ok := s.Get(h)
	return ok
}

// Insert implements HashDB interface.
func (s *StoreDB) Insert(value []byte) util.Uint256 {
	h := hash.Keccak256(value)
	s.Emplace(h, value)
	return h
}

// Emplace implements HashDB interface.
func (s *StoreDB) Emplace(h util.Uint256, value []byte) {
	v, refs, ok := s.getRaw(h)
	if !ok {
		v = value
	}
	s.putRaw(h, v, refs+1)
	blobWrites.Inc()
}

// Remove implements HashDB interface. Removing an unknown blob is a no-op.
func (s *StoreDB) Remove(h util.Uint256) {
	v, refs, ok := s.getRaw(h)
	if !ok {
		s.log.Debug("removing unknown blob", zap.Stringer("hash", h))
		return
	}
	if refs > 1 {
		s.putRaw(h, v, refs-1)
		return
	}
	s.store.Delete(makeBlobKey(h))
	s.cache.Remove(h)
	blobDeletions.Inc()
}

// Refs returns the current reference counter of the blob.
func (s *StoreDB) Refs(h util.Uint256) int32 {
	_, refs, _ := s.getRaw(h)
	return refs
}

// GetAux implements HashDB interface.
func (s *StoreDB) GetAux(key []byte) ([]byte, bool) {
	v, err := s.store.Get(makeAuxKey(key))
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.log.Error("failed to read auxiliary value", zap.Binary("key", key), zap.Error(err))
		}
		return nil, false
	}
	return v, true
}

// InsertAux implements HashDB interface.
func (s *StoreDB) InsertAux(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	s.store.Put(makeAuxKey(key), v)
}

// RemoveAux implements HashDB interface.
func (s *StoreDB) RemoveAux(key []byte) {
	s.store.Delete(makeAuxKey(key))
}

// Persist flushes all pending changes to the persistent store.
func (s *StoreDB) Persist() (int, error) {
	return s.store.Persist()
}

// Discard drops all pending (not yet persisted) changes.
func (s *StoreDB) Discard() {
	s.store.Discard()
	s.cache.Purge()
}

// Reconcile implements Sweeper interface. Pending changes are persisted
// before sweeping.
func (s *StoreDB) Reconcile(refs map[util.Uint256]int32) (int, error) {
	if _, err := s.store.Persist(); err != nil {
		return 0, fmt.Errorf("failed to persist pending changes: %w", err)
	}
	var (
		removed int
		fix     = make(map[string][]byte)
	)
	err := s.store.SeekGC(storage.SeekRange{Prefix: storage.DataAVL.Bytes()}, func(k, v []byte) bool {
		h, err := util.Uint256DecodeBytesBE(k[1:])
		if err != nil || len(v) < refSize {
			s.log.Warn("malformed blob entry during GC", zap.Binary("key", k))
			return true
		}
		cnt, ok := refs[h]
		if !ok || cnt <= 0 {
			removed++
			return false
		}
		n := len(v) - refSize
		if int32(binary.LittleEndian.Uint32(v[n:])) != cnt {
			data := make([]byte, len(v))
			copy(data, v)
			binary.LittleEndian.PutUint32(data[n:], uint32(cnt))
			fix[string(k)] = data
		}
		return true
	})
	s.cache.Purge()
	if err != nil {
		return 0, fmt.Errorf("failed to sweep blobs: %w", err)
	}
	if len(fix) != 0 {
		_ = s.store.PutChangeSet(fix) // MemCachedStore never fails here.
		if _, err = s.store.Persist(); err != nil {
			return removed, fmt.Errorf("failed to update reference counters: %w", err)
		}
	}
	blobDeletions.Add(float64(removed))
	s.log.Debug("blob store reconciled", zap.Int("removed", removed), zap.Int("updated", len(fix)))
	return removed, nil
}
