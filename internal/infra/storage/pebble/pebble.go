// Package pebble stores messages and scan state in an embedded Pebble database.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/infra/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a storage.Store backed by Pebble.
type Store struct {
	db *pebble.DB

	// upsertMu makes the read-check-write of Upsert atomic.
	upsertMu sync.Mutex
}

// Open opens (or creates) a Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Messages() storage.MessageRepository { return &MessageRepo{store: s} }
func (s *Store) Scans() storage.ScanRepository       { return &ScanRepo{store: s} }

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// -----------------------------------------------------------------------------
// Message Repository
// -----------------------------------------------------------------------------

type MessageRepo struct {
	store *Store
}

func (r *MessageRepo) Upsert(ctx context.Context, channel string, msgs []domain.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	channel = domain.NormalizeChannel(channel)

	r.store.upsertMu.Lock()
	defer r.store.upsertMu.Unlock()

	batch := r.store.db.NewBatch()
	defer batch.Close()

	added := 0
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		m.Channel = channel
		ik := indexKey(channel, m.ID)

		old, exists, err := r.store.get(ik)
		if err != nil {
			return 0, fmt.Errorf("failed to read index %s: %w", m.ID, err)
		}
		if exists {
			if err := batch.Delete(old, nil); err != nil {
				return 0, err
			}
		} else if !seen[m.ID] {
			added++
		}
		seen[m.ID] = true

		val, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("failed to encode message %s: %w", m.ID, err)
		}
		mk := messageKey(channel, m.BlockNumber, m.LogIndex, m.ID)
		if err := batch.Set(mk, val, nil); err != nil {
			return 0, err
		}
		if err := batch.Set(ik, mk, nil); err != nil {
			return 0, err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return added, nil
}

func (r *MessageRepo) Query(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return r.All(ctx, channel)
	}

	prefix := channelPrefix(prefixMessage, domain.NormalizeChannel(channel))
	iter, err := r.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]domain.Message, 0, limit)
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var m domain.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MessageRepo) All(ctx context.Context, channel string) ([]domain.Message, error) {
	prefix := channelPrefix(prefixMessage, domain.NormalizeChannel(channel))
	iter, err := r.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m domain.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

func (r *MessageRepo) Count(ctx context.Context, channel string) (int, error) {
	prefix := channelPrefix(prefixIndex, domain.NormalizeChannel(channel))
	iter, err := r.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

func (r *MessageRepo) DeleteChannel(ctx context.Context, channel string) error {
	channel = domain.NormalizeChannel(channel)
	return r.store.deletePrefixes(
		channelPrefix(prefixMessage, channel),
		channelPrefix(prefixIndex, channel),
	)
}

func (r *MessageRepo) DeleteAll(ctx context.Context) error {
	return r.store.deletePrefixes([]byte{prefixMessage, sep}, []byte{prefixIndex, sep})
}

func (s *Store) deletePrefixes(prefixes ...[]byte) error {
	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, p := range prefixes {
		if err := batch.DeleteRange(p, upperBound(p), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// -----------------------------------------------------------------------------
// Scan Repository
// -----------------------------------------------------------------------------

type scanValue struct {
	Ranges      [][2]uint64 `json:"ranges"`
	LastUpdated int64       `json:"last_updated"`
}

type ScanRepo struct {
	store *Store
}

func (r *ScanRepo) Get(ctx context.Context, channel string) (*domain.ScanMeta, error) {
	channel = domain.NormalizeChannel(channel)
	meta := &domain.ScanMeta{Channel: channel, Ranges: []domain.Range{}}

	val, ok, err := r.store.get(scanKey(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to get scan meta: %w", err)
	}
	if !ok {
		return meta, nil
	}

	var v scanValue
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, fmt.Errorf("failed to decode scan meta: %w", err)
	}
	for _, rg := range v.Ranges {
		meta.Ranges = append(meta.Ranges, domain.Range{Start: rg[0], End: rg[1]})
	}
	meta.LastUpdated = time.Unix(v.LastUpdated, 0).UTC()
	return meta, nil
}

func (r *ScanRepo) Save(ctx context.Context, meta *domain.ScanMeta) error {
	updated := meta.LastUpdated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	v := scanValue{Ranges: make([][2]uint64, 0, len(meta.Ranges)), LastUpdated: updated.Unix()}
	for _, rg := range meta.Ranges {
		v.Ranges = append(v.Ranges, [2]uint64{rg.Start, rg.End})
	}

	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.db.Set(scanKey(domain.NormalizeChannel(meta.Channel)), val, pebble.Sync)
}

func (r *ScanRepo) Delete(ctx context.Context, channel string) error {
	return r.store.db.Delete(scanKey(domain.NormalizeChannel(channel)), pebble.Sync)
}

func (r *ScanRepo) DeleteAll(ctx context.Context) error {
	return r.store.deletePrefixes([]byte{prefixScan, sep})
}

func (r *ScanRepo) Channels(ctx context.Context) ([]string, error) {
	prefix := []byte{prefixScan, sep}
	iter, err := r.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	channels := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		channels = append(channels, scanChannel(iter.Key()))
	}
	return channels, iter.Error()
}
