package domain

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Message is a decoded log entry of a channel.
type Message struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	BlockNumber uint64    `json:"block_number"`
	LogIndex    uint64    `json:"log_index"`
	TxHash      string    `json:"tx_hash"`
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageID derives the content-addressed identifier of a log entry.
// The same (txHash, logIndex) pair always yields the same id.
func MessageID(txHash string, logIndex uint64) string {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(txHash), "0x"))
	if err != nil {
		raw = []byte(strings.ToLower(txHash))
	}

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], logIndex)

	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	h.Write(idx[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Less orders messages by block, then by position in the block.
func (m Message) Less(other Message) bool {
	if m.BlockNumber != other.BlockNumber {
		return m.BlockNumber < other.BlockNumber
	}
	if m.LogIndex != other.LogIndex {
		return m.LogIndex < other.LogIndex
	}
	return m.ID < other.ID
}
