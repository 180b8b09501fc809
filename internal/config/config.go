package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Store struct {
		Path          string `json:"path"`            // badger database directory
		BlobCacheSize int    `json:"blob_cache_size"` // lru entries
		TreeCacheSize int    `json:"tree_cache_size"`
		CompressMin   int    `json:"compress_min"` // bytes before zstd kicks in
		CompressLevel int    `json:"compress_level"`
	} `json:"store"`

	Workspace struct {
		Root string `json:"root"`
	} `json:"workspace"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

func getConfigPath() string {
	env := os.Getenv("BRIG_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Default returns a config with working defaults for a local repository.
func Default() *Config {
	var c Config
	c.Store.BlobCacheSize = 1024
	c.Store.TreeCacheSize = 4096
	c.Store.CompressMin = 1024
	c.Store.CompressLevel = 2
	c.LogLevel = "info"
	return &c
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}
