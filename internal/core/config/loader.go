package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/logsync/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first, and
// applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.Driver == DriverPebble && c.Storage.Path == "" {
		c.Storage.Path = "data/logsync"
	}

	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = 30 * time.Second
	}
	if c.Chain.MaxAttempts == 0 {
		c.Chain.MaxAttempts = 3
	}
	if c.Chain.MaxBlockSpan == 0 {
		c.Chain.MaxBlockSpan = 2000
	}
	if c.Chain.Breaker.MaxFailures == 0 {
		c.Chain.Breaker.MaxFailures = 5
	}
	if c.Chain.Breaker.OpenTimeout == 0 {
		c.Chain.Breaker.OpenTimeout = 30 * time.Second
	}
	for i := range c.Chain.Providers {
		if c.Chain.Providers[i].Name == "" {
			c.Chain.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
	}

	if c.Sync.ChunkSize == 0 {
		c.Sync.ChunkSize = 5000
	}
	if c.Sync.MaxLookback == 0 {
		c.Sync.MaxLookback = 50000
	}
	if c.Sync.InterChunkDelay == 0 {
		c.Sync.InterChunkDelay = 250 * time.Millisecond
	}
	if c.Sync.ChunkTimeout == 0 {
		c.Sync.ChunkTimeout = 30 * time.Second
	}
	if c.Sync.HeadCacheTTL == 0 {
		c.Sync.HeadCacheTTL = 2 * time.Second
	}

	if c.Tail.Interval == 0 {
		c.Tail.Interval = 15 * time.Second
	}

	if c.Rescan.LockTTL == 0 {
		c.Rescan.LockTTL = 5 * time.Minute
	}
	if c.Rescan.EmptySleep == 0 {
		c.Rescan.EmptySleep = 10 * time.Second
	}

	for i := range c.Channels {
		c.Channels[i].Address = domain.NormalizeChannel(c.Channels[i].Address)
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("no channels configured"))
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		switch {
		case ch.Address == "":
			errs = append(errs, fmt.Errorf("channels[%d]: address is required", i))
		case seen[ch.Address]:
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate address %s", i, ch.Address))
		}
		seen[ch.Address] = true
	}

	if c.Sync.ChunkSize == 0 {
		errs = append(errs, errors.New("sync.chunk_size must be greater than 0"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPebble:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for pebble"))
		}
	case DriverSQLite, DriverPostgres, DriverPgx:
		if c.Storage.URL == "" {
			errs = append(errs, fmt.Errorf("storage.url is required for %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if len(c.Chain.Providers) == 0 {
		errs = append(errs, errors.New("at least one chain provider is required"))
	}
	for i, p := range c.Chain.Providers {
		if strings.TrimSpace(p.URL) == "" {
			errs = append(errs, fmt.Errorf("chain.providers[%d]: url is required", i))
		}
	}

	if c.Rescan.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("rescan.enabled requires redis.url"))
	}

	return errors.Join(errs...)
}

// Channel returns the configuration of address, if configured.
func (c *AppConfig) Channel(address string) (ChannelConfig, bool) {
	key := domain.NormalizeChannel(address)
	for _, ch := range c.Channels {
		if ch.Address == key {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
