package redis

import (
	"testing"

	"github.com/vietddude/logsync/internal/core/domain"
)

func TestKeys(t *testing.T) {
	if got := queueKey(" 0xABC "); got != "logsync:gaps:0xabc" {
		t.Errorf("queueKey = %q", got)
	}
	if got := lockKey("0xABC", domain.Range{Start: 100, End: 250}); got != "logsync:lock:0xabc:100-250" {
		t.Errorf("lockKey = %q", got)
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Error("expected error for invalid URL")
	}
}
