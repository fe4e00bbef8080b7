// Package config handles pyco.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file pyco looks for.
const FileName = "pyco.toml"

// Config represents a pyco.toml project configuration.
type Config struct {
	Build  Build  `toml:"build"`
	Cache  Cache  `toml:"cache"`
	Output Output `toml:"output"`

	// Dir is the directory containing the pyco.toml file (set at load time).
	Dir string `toml:"-"`
}

// Build configures the container builder.
type Build struct {
	// Immediates enables rewriting trivially constructible constants
	// into direct instructions instead of pool entries.
	Immediates bool `toml:"immediates"`
}

// Cache configures the compile cache.
type Cache struct {
	Enabled *bool  `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Output configures where built containers go.
type Output struct {
	Dir    string `toml:"dir"`
	Report bool   `toml:"report"`
}

// Default returns the configuration used when no pyco.toml exists,
// rooted at dir.
func Default(dir string) *Config {
	c := &Config{Dir: dir}
	c.applyDefaults()
	return c
}

// Load parses a pyco.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a pyco.toml file, then
// loads and returns the configuration. Returns nil if none is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.Cache.Enabled == nil {
		enabled := true
		c.Cache.Enabled = &enabled
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(".pyco", "cache")
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
}

// CacheEnabled reports whether the compile cache should be used.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// CacheDir returns the absolute path of the cache directory.
func (c *Config) CacheDir() string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(c.Dir, c.Cache.Dir)
}

// OutputDir returns the absolute path of the output directory.
func (c *Config) OutputDir() string {
	if filepath.IsAbs(c.Output.Dir) {
		return c.Output.Dir
	}
	return filepath.Join(c.Dir, c.Output.Dir)
}
