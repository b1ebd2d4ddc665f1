// Package decodetest builds encoded chain logs for tests.
package decodetest

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/decode"
)

// Sender is the default sender of generated logs.
const Sender = "0x00000000000000000000000000000000000000aa"

// TxHash returns a deterministic transaction hash for a log position.
func TxHash(block, logIndex uint64) string {
	return fmt.Sprintf("0x%056x%08x", block, logIndex)
}

// GlobalLog encodes a MessagePosted log.
func GlobalLog(block, logIndex uint64, name, content string, ts uint64) domain.RawLog {
	return encode(decode.GlobalSchema(), block, logIndex, name, content, ts)
}

// ScopedLog encodes a SectorMessage log.
func ScopedLog(block, logIndex uint64, content string, ts uint64) domain.RawLog {
	return encode(decode.ScopedSchema(), block, logIndex, content, ts)
}

// Malformed returns a log with the right topic but undecodable data.
func Malformed(schema decode.Schema, block, logIndex uint64) domain.RawLog {
	log := encode(schema, block, logIndex, fill(schema)...)
	log.Data = "0xdeadbeef"
	return log
}

func fill(schema decode.Schema) []any {
	if schema.Kind == domain.ChannelKindGlobal {
		return []any{"n", "c", uint64(0)}
	}
	return []any{"c", uint64(0)}
}

func encode(schema decode.Schema, block, logIndex uint64, values ...any) domain.RawLog {
	data, err := schema.Event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("decodetest: pack %s: %v", schema.Event.Name, err))
	}
	return domain.RawLog{
		Topics: []string{
			schema.TopicHex(),
			strings.ToLower(common.BytesToHash(common.HexToAddress(Sender).Bytes()).Hex()),
		},
		Data:        hexutil.Encode(data),
		BlockNumber: block,
		TxHash:      TxHash(block, logIndex),
		LogIndex:    logIndex,
	}
}
