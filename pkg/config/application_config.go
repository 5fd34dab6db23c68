package config

import (
	"errors"
	"fmt"

	"github.com/neohex/chit/pkg/core/storage/dbconfig"
)

// ApplicationConfiguration is the config specific to the node.
type ApplicationConfiguration struct {
	LogLevel        string                   `yaml:"LogLevel"`
	LogPath         string                   `yaml:"LogPath"`
	DBConfiguration dbconfig.DBConfiguration `yaml:"DBConfiguration"`
	Prometheus      BasicService             `yaml:"Prometheus"`
	Pprof           BasicService             `yaml:"Pprof"`
	Ledger          Ledger                   `yaml:"Ledger"`
}

// Validate checks ApplicationConfiguration for internal consistency and returns
// an error if any invalid settings are found.
func (a *ApplicationConfiguration) Validate() error {
	switch a.DBConfiguration.Type {
	case dbconfig.LevelDB, dbconfig.BoltDB, dbconfig.InMemoryDB:
	default:
		return fmt.Errorf("unknown DB type %q", a.DBConfiguration.Type)
	}
	if a.Ledger.KeepRoots == 0 {
		return errors.New("KeepRoots must be positive")
	}
	if a.Ledger.GarbageCollectionPeriod < 0 {
		return errors.New("negative GarbageCollectionPeriod")
	}
	return nil
}
