package config

import (
	"time"

	redisclient "github.com/vietddude/logsync/internal/infra/redis"
	"github.com/vietddude/logsync/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Storage  StorageConfig      `yaml:"storage"`
	Redis    redisclient.Config `yaml:"redis"`
	Chain    ChainConfig        `yaml:"chain"`
	Sync     SyncConfig         `yaml:"sync"`
	Tail     TailConfig         `yaml:"tail"`
	Rescan   RescanConfig       `yaml:"rescan"`
	Channels []ChannelConfig    `yaml:"channels"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPebble   = "pebble"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Driver   string `yaml:"driver"`    // memory, pebble, sqlite3, postgres, pgx
	URL      string `yaml:"url"`       // SQL DSN
	Path     string `yaml:"path"`      // pebble directory
	MaxConns int    `yaml:"max_conns"` // SQL pool size
	MinConns int    `yaml:"min_conns"`
}

// SQL returns the sqlstore configuration.
func (s StorageConfig) SQL() sqlstore.Config {
	return sqlstore.Config{
		Driver:   s.Driver,
		URL:      s.URL,
		MaxConns: s.MaxConns,
		MinConns: s.MinConns,
	}
}

// IsSQL reports whether the driver is served by sqlstore.
func (s StorageConfig) IsSQL() bool {
	switch s.Driver {
	case DriverSQLite, DriverPostgres, DriverPgx:
		return true
	}
	return false
}

// ChainConfig holds the log provider settings.
type ChainConfig struct {
	GlobalChannel  string           `yaml:"global_channel"`
	Providers      []ProviderConfig `yaml:"providers"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	MaxAttempts    int              `yaml:"max_attempts"`
	MaxBlockSpan   uint64           `yaml:"max_block_span"`
	Breaker        BreakerConfig    `yaml:"breaker"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// SyncConfig holds the chunking and pacing settings shared by every channel.
type SyncConfig struct {
	ChunkSize       uint64        `yaml:"chunk_size"`
	MaxLookback     uint64        `yaml:"max_lookback"` // 0 = unbounded
	InterChunkDelay time.Duration `yaml:"inter_chunk_delay"`
	ChunkTimeout    time.Duration `yaml:"chunk_timeout"`
	HeadCacheTTL    time.Duration `yaml:"head_cache_ttl"`
}

// TailConfig holds the live tail settings.
type TailConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Adaptive bool          `yaml:"adaptive"`
}

// RescanConfig holds the gap queue worker settings.
type RescanConfig struct {
	Enabled    bool          `yaml:"enabled"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
	EmptySleep time.Duration `yaml:"empty_sleep"`
}

// ChannelConfig holds settings for a specific channel.
type ChannelConfig struct {
	Address     string `yaml:"address"`
	LowerBound  uint64 `yaml:"lower_bound"`
	Tail        *bool  `yaml:"tail"` // nil = tail.enabled
	SyncOnStart bool   `yaml:"sync_on_start"`
}

// TailEnabled reports whether the channel is tailed.
func (c ChannelConfig) TailEnabled(global TailConfig) bool {
	if c.Tail != nil {
		return *c.Tail
	}
	return global.Enabled
}
