package storage

import (
	"context"
	"errors"

	"github.com/vietddude/logsync/internal/core/domain"
)

var (
	// ErrClosed is returned when a repository is used after Close.
	ErrClosed = errors.New("storage closed")
)

// MessageRepository is the durable message cache.
type MessageRepository interface {
	// Upsert inserts messages keyed by id and returns how many ids were new.
	// Re-inserting an existing id replaces it.
	Upsert(ctx context.Context, channel string, msgs []domain.Message) (int, error)

	// Query returns up to limit most recent messages in ascending block order.
	// A limit <= 0 returns all messages.
	Query(ctx context.Context, channel string, limit int) ([]domain.Message, error)

	// All returns every message of a channel in ascending block order.
	All(ctx context.Context, channel string) ([]domain.Message, error)

	// Count returns the number of messages stored for a channel.
	Count(ctx context.Context, channel string) (int, error)

	// DeleteChannel removes every message of a channel.
	DeleteChannel(ctx context.Context, channel string) error

	// DeleteAll removes every message.
	DeleteAll(ctx context.Context) error
}

// ScanRepository persists the scanned ranges of each channel.
type ScanRepository interface {
	// Get returns the scan meta of a channel, empty if unknown.
	Get(ctx context.Context, channel string) (*domain.ScanMeta, error)

	// Save replaces the scan meta of a channel.
	Save(ctx context.Context, meta *domain.ScanMeta) error

	// Delete removes the scan meta of a channel.
	Delete(ctx context.Context, channel string) error

	// DeleteAll removes every scan meta.
	DeleteAll(ctx context.Context) error

	// Channels lists every channel with stored scan meta.
	Channels(ctx context.Context) ([]string, error)
}

// Store bundles the repositories of one backend.
type Store interface {
	Messages() MessageRepository
	Scans() ScanRepository
	Close() error
}
