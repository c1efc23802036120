package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/logging"
)

// File names inside the data directory.
const (
	ParamsFile   = "params.toml"
	KeystoreFile = "keystore.bin"
	DBFile       = "lettera.db"
	SecringFile  = "secring.asc"
	PubringFile  = "pubring.asc"
)

// Config holds runtime settings for the lettera client.
type Config struct {
	// Dir is the data directory holding params, keystore, store and keyrings.
	Dir string

	LogFormat string
	Debug     bool

	// QueueCapacity bounds the per-chat outgoing queue.
	QueueCapacity int
	// SyncBaseInterval is the wait after a cycle that sent something;
	// idle cycles double it up to SyncMaxInterval.
	SyncBaseInterval time.Duration
	SyncMaxInterval  time.Duration
	// TransportTimeout bounds dial and command round-trips to mail servers.
	TransportTimeout time.Duration

	// Wizard enables the interactive setup prompts on first run.
	Wizard bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Dir = defaultDir()
	c.LogFormat = logging.FormatText
	c.Debug = false
	c.QueueCapacity = 8
	c.SyncBaseInterval = 5 * time.Second
	c.SyncMaxInterval = 10 * time.Minute
	c.TransportTimeout = 30 * time.Second
	c.Wizard = true
}

// Validate checks the values that would otherwise fail deep inside the
// sync engine.
func (c *Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: empty data dir", common.ErrConfig)
	case c.QueueCapacity < 1:
		return fmt.Errorf("%w: queue capacity must be positive", common.ErrConfig)
	case c.SyncBaseInterval <= 0:
		return fmt.Errorf("%w: sync interval must be positive", common.ErrConfig)
	case c.SyncMaxInterval < c.SyncBaseInterval:
		return fmt.Errorf("%w: sync max interval below base interval", common.ErrConfig)
	}
	return nil
}

func (c *Config) ParamsPath() string   { return filepath.Join(c.Dir, ParamsFile) }
func (c *Config) KeystorePath() string { return filepath.Join(c.Dir, KeystoreFile) }
func (c *Config) DBPath() string       { return filepath.Join(c.Dir, DBFile) }

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lettera"
	}
	return filepath.Join(home, ".lettera")
}
