package cache

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/httpcache/metrics"
)

const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
)

const defaultBusyTimeout = 5 * time.Second

type Config struct {
	// Storage backend: memory, sqlite or leveldb.
	Backend string `yaml:"backend"`
	// Database file (sqlite) or directory (leveldb).
	Path string `yaml:"path"`
	// Upper bound of stored keys for the memory backend. Zero means unbounded.
	MaxEntries int `yaml:"maxEntries"`
	// How long sqlite waits for a locked database.
	BusyTimeout time.Duration `yaml:"busyTimeout"`
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger `yaml:"-"`
	// Optional collectors. Open instruments the storage when set.
	Metrics *metrics.Metrics `yaml:"-"`
}

// LoadConfig reads a yaml config file and applies defaults.
func LoadConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("unmarshal yaml: %w", err)
	}
	config.applyDefaults()
	return config, config.Validate()
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite, BackendLevelDB:
		if c.Path == "" {
			return fmt.Errorf("Backend %s needs a path", c.Backend)
		}
	default:
		return fmt.Errorf("Unknown backend %q", c.Backend)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("maxEntries must not be negative")
	}
	return nil
}

// Open creates the storage selected by config.Backend.
func Open(config Config) (Storage, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	var storage Storage
	var err error
	switch config.Backend {
	case BackendMemory:
		storage = NewMemoryStorage(config)
	case BackendSQLite:
		storage, err = NewSQLiteStorage(config)
	case BackendLevelDB:
		storage, err = NewLevelDBStorage(config)
	}
	if err != nil {
		return nil, err
	}
	if config.Metrics != nil {
		storage = Instrument(storage, config.Backend, config.Metrics)
	}
	return storage, nil
}
