package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
storage:
  driver: sqlite3
  url: ${TEST_LOGSYNC_DSN}
chain:
  global_channel: "0xAAAA000000000000000000000000000000000001"
  providers:
    - name: primary
      url: https://rpc.example.org
    - url: https://fallback.example.org
sync:
  chunk_size: 1000
  inter_chunk_delay: 50ms
tail:
  enabled: true
channels:
  - address: " 0xAAAA000000000000000000000000000000000001 "
    lower_bound: 100
    sync_on_start: true
  - address: "0xbbbb000000000000000000000000000000000002"
    tail: false
`

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_LOGSYNC_DSN", "file:logsync.db?cache=shared")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.URL != "file:logsync.db?cache=shared" {
		t.Errorf("Expected expanded DSN, got %s", cfg.Storage.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Sync.ChunkSize != 1000 {
		t.Errorf("expected chunk size 1000, got %d", cfg.Sync.ChunkSize)
	}
	if cfg.Sync.MaxLookback != 50000 {
		t.Errorf("expected default lookback 50000, got %d", cfg.Sync.MaxLookback)
	}
	if cfg.Sync.InterChunkDelay != 50*time.Millisecond {
		t.Errorf("expected 50ms delay, got %v", cfg.Sync.InterChunkDelay)
	}
	if cfg.Tail.Interval != 15*time.Second {
		t.Errorf("expected default tail interval, got %v", cfg.Tail.Interval)
	}
	if cfg.Chain.Providers[1].Name != "provider-1" {
		t.Errorf("expected generated provider name, got %q", cfg.Chain.Providers[1].Name)
	}

	first := cfg.Channels[0]
	if first.Address != "0xaaaa000000000000000000000000000000000001" {
		t.Errorf("expected normalized address, got %q", first.Address)
	}
	if !first.TailEnabled(cfg.Tail) {
		t.Error("expected first channel to inherit tail.enabled")
	}
	if cfg.Channels[1].TailEnabled(cfg.Tail) {
		t.Error("expected second channel to override tail")
	}

	if _, ok := cfg.Channel("0xBBBB000000000000000000000000000000000002"); !ok {
		t.Error("expected channel lookup to be case-insensitive")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no channels", "chain: {providers: [{url: http://x}]}", "no channels configured"},
		{"no providers", "channels: [{address: '0x1'}]", "at least one chain provider"},
		{"bad driver", "storage: {driver: mongo}\nchain: {providers: [{url: http://x}]}\nchannels: [{address: '0x1'}]", "unknown storage driver"},
		{"sql without url", "storage: {driver: postgres}\nchain: {providers: [{url: http://x}]}\nchannels: [{address: '0x1'}]", "storage.url is required"},
		{"duplicate channel", "chain: {providers: [{url: http://x}]}\nchannels: [{address: '0x1'}, {address: '0X1'}]", "duplicate address"},
		{"rescan without redis", "rescan: {enabled: true}\nchain: {providers: [{url: http://x}]}\nchannels: [{address: '0x1'}]", "requires redis.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
