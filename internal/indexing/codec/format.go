package codec

import (
	"bytes"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vietddude/logsync/internal/core/domain"
)

// FormatVersion is the only package version Import accepts.
const FormatVersion = 1

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// MaxDecodedSize caps the decompressed size of a compressed package.
var MaxDecodedSize uint64 = 1 << 30

// Package is the exported document.
type Package struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Channels   []ChannelPackage `json:"channels"`
}

// ChannelPackage holds one channel's scan state and cached messages.
type ChannelPackage struct {
	Channel     string           `json:"channel"`
	Ranges      [][2]uint64      `json:"ranges"`
	LastUpdated time.Time        `json:"last_updated"`
	Messages    []PackageMessage `json:"messages"`
}

// PackageMessage is the exported form of a message.
type PackageMessage struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint64    `json:"log_index"`
	TxHash      string    `json:"tx_hash"`
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

func fromMessage(m domain.Message) PackageMessage {
	return PackageMessage{
		ID:          m.ID,
		Channel:     m.Channel,
		BlockNumber: m.BlockNumber,
		LogIndex:    m.LogIndex,
		TxHash:      m.TxHash,
		Sender:      m.Sender,
		DisplayName: m.DisplayName,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}
}

func (m PackageMessage) toMessage(channel string) domain.Message {
	return domain.Message{
		ID:          m.ID,
		Channel:     channel,
		BlockNumber: m.BlockNumber,
		LogIndex:    m.LogIndex,
		TxHash:      m.TxHash,
		Sender:      m.Sender,
		DisplayName: m.DisplayName,
		Content:     m.Content,
		Timestamp:   m.Timestamp.UTC(),
	}
}

func toPairs(ranges []domain.Range) [][2]uint64 {
	out := make([][2]uint64, len(ranges))
	for i, r := range ranges {
		out[i] = [2]uint64{r.Start, r.End}
	}
	return out
}

// IsCompressed reports whether data starts with the zstd frame magic.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

func compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxDecodedSize),
	)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}
