package storage

import (
	"errors"
	"fmt"

	"github.com/neohex/chit/pkg/core/storage/dbconfig"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// DefaultBloomFilterBits is the number of bloom filter bits per key used when
// nothing is configured.
const DefaultBloomFilterBits = 10

// LevelDBStore is the default persistent Store implementation.
type LevelDBStore struct {
	db   *leveldb.DB
	path string
}

// NewLevelDBStore opens (creating if needed) the database at
// cfg.DataDirectoryPath.
func NewLevelDBStore(cfg dbconfig.LevelDBOptions) (*LevelDBStore, error) {
	bits := cfg.BloomFilterBits
	if bits <= 0 {
		bits = DefaultBloomFilterBits
	}
	opts := &opt.Options{
		Filter:         filter.NewBloomFilter(bits),
		ReadOnly:       cfg.ReadOnly,
		ErrorIfMissing: cfg.ReadOnly,
	}
	db, err := leveldb.OpenFile(cfg.DataDirectoryPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB instance at %s: %w", cfg.DataDirectoryPath, err)
	}
	return &LevelDBStore{
		path: cfg.DataDirectoryPath,
		db:   db,
	}, nil
}

// Get implements the Store interface.
func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// PutChangeSet implements the Store interface. The change set is written as
// a single batch.
func (s *LevelDBStore) PutChangeSet(puts map[string][]byte) error {
	batch := new(leveldb.Batch)
	for k, v := range puts {
		if v != nil {
			batch.Put([]byte(k), v)
		} else {
			batch.Delete([]byte(k))
		}
	}
	return s.db.Write(batch, nil)
}

// Seek implements the Store interface.
func (s *LevelDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	iter := s.db.NewIterator(seekRangeToPrefixes(rng), nil)
	seekIter(iter, rng.Backwards, f)
}

// SeekGC implements the Store interface. Deletions are done in a single
// transaction, the swept range is compacted afterwards if anything was
// dropped.
func (s *LevelDBStore) SeekGC(rng SeekRange, keep func(k, v []byte) bool) error {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return err
	}
	var (
		r       = seekRangeToPrefixes(rng)
		dropped int
	)
	seekIter(tx.NewIterator(r, nil), rng.Backwards, func(k, v []byte) bool {
		if keep(k, v) {
			return true
		}
		if err = tx.Delete(k, nil); err != nil {
			return false
		}
		dropped++
		return true
	})
	if err != nil {
		tx.Discard()
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	if dropped == 0 {
		return nil
	}
	if err = s.db.CompactRange(*r); err != nil {
		return fmt.Errorf("failed to compact %s: %w", s.path, err)
	}
	return nil
}

// seekIter walks the iterator in the requested direction releasing it at the
// end.
func seekIter(iter iterator.Iterator, backwards bool, f func(k, v []byte) bool) {
	defer iter.Release()
	ok, next := iter.First, iter.Next
	if backwards {
		ok, next = iter.Last, iter.Prev
	}
	for valid := ok(); valid; valid = next() {
		if !f(iter.Key(), iter.Value()) {
			return
		}
	}
}

// Close implements the Store interface.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
