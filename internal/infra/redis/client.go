// Package redis holds the shared gap-fill queue.
//
// Each channel has a sorted set of requested ranges (member "start-end",
// score start) and short-lived locks that keep two instances from filling
// the same range at once.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
)

// Client wraps Redis operations for the gap queue.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client and checks the connection.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func queueKey(channel string) string {
	return fmt.Sprintf("logsync:gaps:%s", domain.NormalizeChannel(channel))
}

func lockKey(channel string, r domain.Range) string {
	return fmt.Sprintf("logsync:lock:%s:%s", domain.NormalizeChannel(channel), r)
}

// PushRange queues a range for filling.
func (c *Client) PushRange(ctx context.Context, channel string, r domain.Range) error {
	if r.Start > r.End {
		return fmt.Errorf("invalid range %d-%d", r.Start, r.End)
	}
	z := redis.Z{Score: float64(r.Start), Member: r.String()}
	if err := c.rdb.ZAdd(ctx, queueKey(channel), z).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopRange removes and returns the lowest queued range.
func (c *Client) PopRange(ctx context.Context, channel string) (domain.Range, bool, error) {
	for {
		results, err := c.rdb.ZPopMin(ctx, queueKey(channel), 1).Result()
		if err != nil {
			return domain.Range{}, false, fmt.Errorf("zpopmin failed: %w", err)
		}
		if len(results) == 0 {
			return domain.Range{}, false, nil
		}

		member, _ := results[0].Member.(string)
		r, err := interval.ParseRange(member)
		if err != nil {
			// Malformed members are dropped so they cannot block the queue.
			continue
		}
		return r, true, nil
	}
}

// Ranges returns every queued range, lowest first.
func (c *Client) Ranges(ctx context.Context, channel string) ([]domain.Range, error) {
	members, err := c.rdb.ZRange(ctx, queueKey(channel), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	return interval.RangesFromStrings(members)
}

// ReplaceRanges swaps the queue content for ranges in one transaction.
func (c *Client) ReplaceRanges(ctx context.Context, channel string, ranges []domain.Range) error {
	key := queueKey(channel)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for _, r := range ranges {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(r.Start), Member: r.String()})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}

// QueueLength returns the number of queued ranges.
func (c *Client) QueueLength(ctx context.Context, channel string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, queueKey(channel)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}

// ClearQueue removes every queued range of a channel.
func (c *Client) ClearQueue(ctx context.Context, channel string) error {
	return c.rdb.Del(ctx, queueKey(channel)).Err()
}

// AcquireLock attempts to take the fill lock for a range.
func (c *Client) AcquireLock(ctx context.Context, channel string, r domain.Range, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(channel, r), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the fill lock for a range.
func (c *Client) ReleaseLock(ctx context.Context, channel string, r domain.Range) error {
	err := c.rdb.Del(ctx, lockKey(channel, r)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
