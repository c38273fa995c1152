package odm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/dialect/memory"
	"github.com/pytsite/odm/dialect/sql"
)

// Config is the file configuration of a Manager.
//
//	storage:
//	  dialect: sqlite
//	  dsn: "file:app.db?_pragma=busy_timeout(5000)"
//	cache:
//	  ttl: 30s
//	log:
//	  level: debug
//	slow_query: 200ms
type Config struct {
	Storage   StorageConfig `yaml:"storage"`
	Cache     CacheConfig   `yaml:"cache"`
	Log       LogConfig     `yaml:"log"`
	SlowQuery time.Duration `yaml:"slow_query"`
}

// StorageConfig selects the storage driver.
type StorageConfig struct {
	// Dialect is one of memory, sqlite, postgres and mysql.
	Dialect string `yaml:"dialect"`
	// DSN is the data source name of SQL dialects.
	DSN string `yaml:"dsn"`
	// Snapshot is the snapshot file of the memory dialect.
	Snapshot string `yaml:"snapshot"`
}

// CacheConfig configures the finder result cache. A zero TTL disables it.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a slog level name; empty keeps slog.Default().
	Level string `yaml:"level"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("odm: reading config: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig parses a YAML configuration. The dialect defaults to memory.
func ParseConfig(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("odm: parsing config: %w", err)
	}
	if cfg.Storage.Dialect == "" {
		cfg.Storage.Dialect = dialect.Memory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Dialect {
	case dialect.Memory:
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("odm: config: dialect %s requires a dsn", c.Storage.Dialect)
		}
	default:
		return fmt.Errorf("odm: config: unknown dialect %q", c.Storage.Dialect)
	}
	if c.Cache.TTL < 0 || c.SlowQuery < 0 {
		return fmt.Errorf("odm: config: negative duration")
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) logLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Log.Level == "" {
		return lvl, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return lvl, fmt.Errorf("odm: config: %w", err)
	}
	return lvl, nil
}

// Open opens the configured storage and returns a Manager for it. opts
// are applied after the options derived from cfg.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default()
	if cfg.Log.Level != "" {
		lvl, _ := cfg.logLevel()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
	var (
		drv dialect.Driver
		err error
	)
	switch cfg.Storage.Dialect {
	case dialect.Memory:
		mopts := []memory.Option{memory.WithLogger(logger)}
		if cfg.Storage.Snapshot != "" {
			mopts = append(mopts, memory.WithSnapshotFile(cfg.Storage.Snapshot))
		}
		drv, err = memory.Open(ctx, mopts...)
	default:
		sopts := []sql.Option{sql.WithLogger(logger)}
		if cfg.SlowQuery > 0 {
			sopts = append(sopts, sql.WithStats(
				sql.WithSlowThreshold(cfg.SlowQuery),
				sql.WithSlowQueryLog(logger),
			))
		}
		drv, err = sql.Open(cfg.Storage.Dialect, cfg.Storage.DSN, sopts...)
	}
	if err != nil {
		return nil, err
	}
	base := []Option{WithLogger(logger)}
	if cfg.Cache.TTL > 0 {
		base = append(base, WithQueryCache(NewMemoryCache(), cfg.Cache.TTL))
	}
	return NewManager(drv, append(base, opts...)...), nil
}
