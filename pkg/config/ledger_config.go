package config

import "time"

// Ledger contains settings of the state ledger.
type Ledger struct {
	// KeepRoots is the number of the latest roots kept available, older
	// ones are subject to garbage collection.
	KeepRoots uint32 `yaml:"KeepRoots"`
	// GarbageCollectionPeriod is the time between garbage collection passes,
	// zero disables periodic collection.
	GarbageCollectionPeriod time.Duration `yaml:"GarbageCollectionPeriod"`
	// NodeCacheSize is the number of tree nodes cached in memory, zero means
	// the default.
	NodeCacheSize int `yaml:"NodeCacheSize"`
}
