package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/neohex/chit/pkg/core/storage/dbconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is the default path to the config file.
	DefaultConfigPath = "./config/chit.yml"
	// DefaultGarbageCollectionPeriod is the default period between garbage
	// collection passes over the ledger nodes.
	DefaultGarbageCollectionPeriod = 100 * time.Second
)

// Version is the version of the node, set at build time.
var Version string

// Config is the top level struct representing the config for the node.
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// Default returns the configuration used when nothing is overridden by the
// config file.
func Default() Config {
	return Config{
		ApplicationConfiguration: ApplicationConfiguration{
			LogLevel: "info",
			DBConfiguration: dbconfig.DBConfiguration{
				Type: dbconfig.InMemoryDB,
			},
			Ledger: Ledger{
				KeepRoots:               1,
				GarbageCollectionPeriod: DefaultGarbageCollectionPeriod,
			},
		},
	}
}

// Load attempts to load the config from the given file. Unknown fields are
// treated as errors.
func Load(path string) (Config, error) {
	configData, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	return Decode(configData)
}

// Decode parses the YAML config applying defaults to the missing fields.
func Decode(data []byte) (Config, error) {
	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := config.ApplicationConfiguration.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid ApplicationConfiguration: %w", err)
	}
	return config, nil
}
