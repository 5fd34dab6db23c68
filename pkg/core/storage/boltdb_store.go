package storage

import (
	"bytes"
	"fmt"
	"os"

	"github.com/neohex/chit/pkg/core/storage/dbconfig"
	"github.com/neohex/chit/pkg/io"
	"go.etcd.io/bbolt"
)

// Bucket represents bucket used in boltdb to store all the data.
var Bucket = []byte("DB")

// BoltDBStore it is the storage implementation for storing and retrieving
// node data.
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore returns a new ready to use BoltDB storage with created bucket.
func NewBoltDBStore(cfg dbconfig.BoltDBOptions) (*BoltDBStore, error) {
	cp := *bbolt.DefaultOptions // Do not change bbolt's global variable.
	opts := &cp
	fileMode := os.FileMode(0600) // should be exposed via BoltDBOptions if anything needed
	fileName := cfg.FilePath
	if cfg.ReadOnly {
		opts.ReadOnly = true
	} else {
		if err := io.MakeDirForFile(fileName, "BoltDB"); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(fileName, fileMode, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB instance: %w", err)
	}
	if opts.ReadOnly {
		err = db.View(func(tx *bbolt.Tx) error {
			if tx.Bucket(Bucket) == nil {
				return fmt.Errorf("root bucket does not exist")
			}
			return nil
		})
	} else {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err = tx.CreateBucketIfNotExists(Bucket)
			if err != nil {
				return fmt.Errorf("could not create root bucket: %w", err)
			}
			return nil
		})
	}
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			err = fmt.Errorf("%w, failed to close BoltDB: %w", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize BoltDB instance: %w", err)
	}

	return &BoltDBStore{db: db}, nil
}

// Get implements the Store interface.
func (s *BoltDBStore) Get(key []byte) (val []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		// Value from Get is only valid for the lifetime of transaction, #1482
		val = bytes.Clone(b.Get(key))
		return nil
	})
	if val == nil {
		err = ErrKeyNotFound
	}
	return
}

// PutChangeSet implements the Store interface.
func (s *BoltDBStore) PutChangeSet(puts map[string][]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		for k, v := range puts {
			var err error
			if v != nil {
				err = b.Put([]byte(k), v)
			} else {
				err = b.Delete([]byte(k))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SeekGC implements the Store interface.
func (s *BoltDBStore) SeekGC(rng SeekRange, keep func(k, v []byte) bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		var drop [][]byte
		s.seekTx(tx, rng, func(k, v []byte) bool {
			if !keep(k, v) {
				drop = append(drop, bytes.Clone(k))
			}
			return true
		})
		b := tx.Bucket(Bucket)
		for _, k := range drop {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Seek implements the Store interface.
func (s *BoltDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	err := s.db.View(func(tx *bbolt.Tx) error {
		s.seekTx(tx, rng, f)
		return nil
	})
	if err != nil {
		panic(err)
	}
}

func (s *BoltDBStore) seekTx(tx *bbolt.Tx, rng SeekRange, f func(k, v []byte) bool) {
	var (
		rang = seekRangeToPrefixes(rng)
		c    = tx.Bucket(Bucket).Cursor()
		k, v []byte
		next func() ([]byte, []byte)
	)
	if !rng.Backwards {
		k, v = c.Seek(rang.Start)
		next = c.Next
	} else {
		if len(rang.Limit) == 0 {
			k, v = c.Last()
		} else {
			k, v = c.Seek(rang.Limit)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}
		next = c.Prev
	}

	for ; k != nil && bytes.HasPrefix(k, rng.Prefix); k, v = next() {
		if rng.Backwards && len(rang.Limit) != 0 && bytes.Compare(k, rang.Limit) >= 0 {
			continue
		}
		if !f(k, v) {
			break
		}
	}
}

// Close releases all db resources.
func (s *BoltDBStore) Close() error {
	return s.db.Close()
}
