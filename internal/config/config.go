// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	LogLevel    string `json:"log_level"`    // debug, info, warn, error
	Compression string `json:"compression"`  // default codec for compress: zstd, lz4, none
	SnapshotDir string `json:"snapshot_dir"` // where archives land; repository root when empty
}

func Default() *Config {
	return &Config{
		LogLevel:    "warn",
		Compression: "zstd",
	}
}

// Path resolves the config file location: $VCS_CONFIG wins, otherwise
// ~/.config/vcs/config.json.
func Path() string {
	if p := os.Getenv("VCS_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "vcs", "config.json")
}

// Load reads the config at path. A missing file means defaults;
// malformed content is an error, never a silent default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
