// Package codec exports and imports the cached state of channels.
//
// A package carries, per channel, the scanned ranges and every cached
// message. Import validates the whole package before writing anything and
// merges into the existing state, so importing is idempotent and the order
// of imports does not matter.
package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
	"github.com/vietddude/logsync/internal/indexing/metrics"
	"github.com/vietddude/logsync/internal/infra/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrImportFormat is returned when an import package is malformed.
var ErrImportFormat = errors.New("invalid import package")

// ImportResult summarizes an import.
type ImportResult struct {
	MessagesAdded int `json:"messages_added"`
	RangesTouched int `json:"ranges_touched"`
}

// Codec reads and writes packages against a store.
type Codec struct {
	store    storage.Store
	registry *channelstate.Registry
	logger   *slog.Logger
}

// New creates a codec. Imports take the commit lock of registry's channels.
func New(store storage.Store, registry *channelstate.Registry) *Codec {
	return &Codec{
		store:    store,
		registry: registry,
		logger:   slog.Default().With("component", "codec"),
	}
}

// Export encodes the given channels. An empty list exports every channel
// with stored scan state.
func (c *Codec) Export(ctx context.Context, channels []string, compressed bool) ([]byte, error) {
	if len(channels) == 0 {
		all, err := c.store.Scans().Channels(ctx)
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		channels = all
	}

	pkg := Package{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Channels:   make([]ChannelPackage, 0, len(channels)),
	}
	for _, ch := range channels {
		key := domain.NormalizeChannel(ch)

		meta, err := c.store.Scans().Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load scan state %s: %w", key, err)
		}
		msgs, err := c.store.Messages().All(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load messages %s: %w", key, err)
		}

		cp := ChannelPackage{
			Channel:     key,
			Ranges:      toPairs(meta.Ranges),
			LastUpdated: meta.LastUpdated,
			Messages:    make([]PackageMessage, len(msgs)),
		}
		for i, m := range msgs {
			cp.Messages[i] = fromMessage(m)
		}
		pkg.Channels = append(pkg.Channels, cp)
	}

	data, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	if !compressed {
		return data, nil
	}
	out, err := compress(data)
	if err != nil {
		return nil, fmt.Errorf("compress package: %w", err)
	}
	return out, nil
}

// Decode parses and validates a package without applying it.
func Decode(data []byte) (*Package, error) {
	if IsCompressed(data) {
		raw, err := decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrImportFormat, err)
		}
		data = raw
	}

	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFormat, err)
	}
	if err := validate(&pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func validate(pkg *Package) error {
	if pkg.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrImportFormat, pkg.Version)
	}
	for i := range pkg.Channels {
		cp := &pkg.Channels[i]
		cp.Channel = domain.NormalizeChannel(cp.Channel)
		if cp.Channel == "" {
			return fmt.Errorf("%w: channel %d has no address", ErrImportFormat, i)
		}
		for _, r := range cp.Ranges {
			if r[0] > r[1] {
				return fmt.Errorf("%w: %s: range %d-%d", ErrImportFormat, cp.Channel, r[0], r[1])
			}
		}
		for j, m := range cp.Messages {
			if m.ID == "" {
				return fmt.Errorf("%w: %s: message %d has no id", ErrImportFormat, cp.Channel, j)
			}
			if m.Channel != "" && domain.NormalizeChannel(m.Channel) != cp.Channel {
				return fmt.Errorf("%w: %s: message %s belongs to %s", ErrImportFormat, cp.Channel, m.ID, m.Channel)
			}
		}
	}
	return nil
}

// Import merges a package into the store.
func (c *Codec) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var res ImportResult

	pkg, err := Decode(data)
	if err != nil {
		return res, err
	}

	for _, cp := range pkg.Channels {
		added, touched, err := c.apply(ctx, cp)
		res.MessagesAdded += added
		res.RangesTouched += touched
		if err != nil {
			return res, fmt.Errorf("import %s: %w", cp.Channel, err)
		}
		c.logger.Info("Imported channel",
			"channel", cp.Channel,
			"messages", len(cp.Messages),
			"added", added,
			"ranges_touched", touched,
		)
	}
	return res, nil
}

func (c *Codec) apply(ctx context.Context, cp ChannelPackage) (int, int, error) {
	msgs := make([]domain.Message, len(cp.Messages))
	for i, m := range cp.Messages {
		msgs[i] = m.toMessage(cp.Channel)
	}

	var added, touched int
	err := c.registry.Commit(cp.Channel, func() error {
		n, err := c.store.Messages().Upsert(ctx, cp.Channel, msgs)
		if err != nil {
			return fmt.Errorf("persist messages: %w", err)
		}
		added = n

		meta, err := c.store.Scans().Get(ctx, cp.Channel)
		if err != nil {
			return fmt.Errorf("load scan state: %w", err)
		}
		merged := meta.Ranges
		for _, pair := range cp.Ranges {
			next := interval.Merge(merged, domain.Range{Start: pair[0], End: pair[1]})
			if !interval.Equal(next, merged) {
				touched++
			}
			merged = next
		}
		if err := interval.Validate(merged); err != nil {
			return err
		}
		if touched == 0 {
			return nil
		}

		meta.Channel = cp.Channel
		meta.Ranges = merged
		meta.LastUpdated = time.Now().UTC()
		if err := c.store.Scans().Save(ctx, meta); err != nil {
			return fmt.Errorf("save scan state: %w", err)
		}
		if tip, ok := interval.Tip(merged); ok {
			metrics.ScanTip.WithLabelValues(cp.Channel).Set(float64(tip))
		}
		return nil
	})
	if added > 0 {
		metrics.MessagesAdded.WithLabelValues(cp.Channel).Add(float64(added))
	}
	return added, touched, err
}
