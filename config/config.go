// Package config loads the challenger daemon's TOML configuration and
// defines the chain-variable snapshot the Manager and Derivation packages
// read from the ledger.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	APIAddress      string `toml:"APIAddress"`
	DataDir         string `toml:"DataDir"`
	KeystorePath    string `toml:"KeystorePath"`
	ChainNodeTarget string `toml:"ChainNodeTarget"`
	LogEnvironment  string `toml:"LogEnvironment"`
	OTLPEndpoint    string `toml:"OTLPEndpoint,omitempty"`
}

// Load reads the configuration from path, writing a default file first if
// none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   ":9191",
		APIAddress:      ":9192",
		DataDir:         "./data",
		KeystorePath:    "./keystore",
		ChainNodeTarget: "localhost:9090",
		LogEnvironment:  "dev",
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create default %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}
