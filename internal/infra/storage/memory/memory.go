package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/infra/storage"
)

type MemoryStorage struct {
	messages map[string]map[string]domain.Message
	scans    map[string]*domain.ScanMeta
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[string]map[string]domain.Message),
		scans:    make(map[string]*domain.ScanMeta),
	}
}

func (s *MemoryStorage) Messages() storage.MessageRepository { return NewMessageRepo(s) }
func (s *MemoryStorage) Scans() storage.ScanRepository       { return NewScanRepo(s) }
func (s *MemoryStorage) Close() error                        { return nil }

// -----------------------------------------------------------------------------
// Message Repository
// -----------------------------------------------------------------------------

type MessageRepo struct {
	store *MemoryStorage
}

func NewMessageRepo(store *MemoryStorage) *MessageRepo {
	return &MessageRepo{store: store}
}

func (r *MessageRepo) Upsert(ctx context.Context, channel string, msgs []domain.Message) (int, error) {
	channel = domain.NormalizeChannel(channel)

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	bucket, ok := r.store.messages[channel]
	if !ok {
		bucket = make(map[string]domain.Message)
		r.store.messages[channel] = bucket
	}

	added := 0
	for _, m := range msgs {
		m.Channel = channel
		if _, exists := bucket[m.ID]; !exists {
			added++
		}
		bucket[m.ID] = m
	}
	return added, nil
}

func (r *MessageRepo) Query(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	all, err := r.All(ctx, channel)
	if err != nil {
		return nil, err
	}
	return storage.Tail(all, limit), nil
}

func (r *MessageRepo) All(ctx context.Context, channel string) ([]domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	bucket := r.store.messages[domain.NormalizeChannel(channel)]
	out := make([]domain.Message, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, m)
	}
	storage.SortMessages(out)
	return out, nil
}

func (r *MessageRepo) Count(ctx context.Context, channel string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.messages[domain.NormalizeChannel(channel)]), nil
}

func (r *MessageRepo) DeleteChannel(ctx context.Context, channel string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.messages, domain.NormalizeChannel(channel))
	return nil
}

func (r *MessageRepo) DeleteAll(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.messages = make(map[string]map[string]domain.Message)
	return nil
}

// -----------------------------------------------------------------------------
// Scan Repository
// -----------------------------------------------------------------------------

type ScanRepo struct {
	store *MemoryStorage
}

func NewScanRepo(store *MemoryStorage) *ScanRepo {
	return &ScanRepo{store: store}
}

func (r *ScanRepo) Get(ctx context.Context, channel string) (*domain.ScanMeta, error) {
	channel = domain.NormalizeChannel(channel)

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if meta, ok := r.store.scans[channel]; ok {
		return meta.Clone(), nil
	}
	return &domain.ScanMeta{Channel: channel, Ranges: []domain.Range{}}, nil
}

func (r *ScanRepo) Save(ctx context.Context, meta *domain.ScanMeta) error {
	c := meta.Clone()
	c.Channel = domain.NormalizeChannel(c.Channel)
	if c.LastUpdated.IsZero() {
		c.LastUpdated = time.Now().UTC()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.scans[c.Channel] = c
	return nil
}

func (r *ScanRepo) Delete(ctx context.Context, channel string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.scans, domain.NormalizeChannel(channel))
	return nil
}

func (r *ScanRepo) DeleteAll(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.scans = make(map[string]*domain.ScanMeta)
	return nil
}

func (r *ScanRepo) Channels(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]string, 0, len(r.store.scans))
	for ch := range r.store.scans {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}
