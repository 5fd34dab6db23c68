/*
Package dbconfig contains storage backend configuration.
*/
package dbconfig

// Supported DB types.
const (
	LevelDB    = "leveldb"
	BoltDB     = "boltdb"
	InMemoryDB = "inmemory"
)

type (
	// DBConfiguration selects the backend of the node store. Only the
	// options of the selected [LevelDB], [BoltDB] or [InMemoryDB] (tests
	// and throwaway nodes) backend are used.
	DBConfiguration struct {
		Type           string         `yaml:"Type"`
		LevelDBOptions LevelDBOptions `yaml:"LevelDBOptions"`
		BoltDBOptions  BoltDBOptions  `yaml:"BoltDBOptions"`
	}
	// LevelDBOptions configures LevelDB backend.
	LevelDBOptions struct {
		DataDirectoryPath string `yaml:"DataDirectoryPath"`
		ReadOnly          bool   `yaml:"ReadOnly"`
		// BloomFilterBits is the number of bloom filter bits per key, zero
		// means the default.
		BloomFilterBits int `yaml:"BloomFilterBits"`
	}
	// BoltDBOptions configures BoltDB backend.
	BoltDBOptions struct {
		FilePath string `yaml:"FilePath"`
		ReadOnly bool   `yaml:"ReadOnly"`
	}
)
