// Package decode turns raw chain logs into channel messages.
//
// Each channel decodes with exactly one Schema, chosen once by SchemaFor:
// the global channel carries MessagePosted events, every other channel
// carries SectorMessage events.
package decode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/logsync/internal/core/domain"
)

// ErrDecode marks a log entry that cannot be turned into a message.
var ErrDecode = errors.New("decode failed")

const eventsJSON = `[
	{"type":"event","name":"MessagePosted","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"displayName","type":"string","indexed":false},
		{"name":"content","type":"string","indexed":false},
		{"name":"timestamp","type":"uint64","indexed":false}
	]},
	{"type":"event","name":"SectorMessage","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"content","type":"string","indexed":false},
		{"name":"timestamp","type":"uint64","indexed":false}
	]}
]`

var (
	globalSchema Schema
	scopedSchema Schema
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(eventsJSON))
	if err != nil {
		panic(fmt.Sprintf("decode: invalid event abi: %v", err))
	}
	globalSchema = newSchema(domain.ChannelKindGlobal, parsed.Events["MessagePosted"])
	scopedSchema = newSchema(domain.ChannelKindScoped, parsed.Events["SectorMessage"])
}

// Schema is the decoding strategy of one channel kind.
type Schema struct {
	Kind  domain.ChannelKind
	Event abi.Event
	Topic common.Hash
}

func newSchema(kind domain.ChannelKind, event abi.Event) Schema {
	return Schema{Kind: kind, Event: event, Topic: event.ID}
}

// GlobalSchema decodes MessagePosted events.
func GlobalSchema() Schema { return globalSchema }

// ScopedSchema decodes SectorMessage events.
func ScopedSchema() Schema { return scopedSchema }

// SchemaFor resolves the schema of a channel.
func SchemaFor(ch domain.Channel) Schema {
	if ch.Kind == domain.ChannelKindGlobal {
		return globalSchema
	}
	return scopedSchema
}

// TopicHex returns topic0 as a lower-case hex string.
func (s Schema) TopicHex() string {
	return strings.ToLower(s.Topic.Hex())
}

// Decode converts one raw log into a message of channel.
// Every failure wraps ErrDecode.
func (s Schema) Decode(channel string, log domain.RawLog) (domain.Message, error) {
	if log.ParseErr != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrDecode, log.ParseErr)
	}
	if log.Removed {
		return domain.Message{}, fmt.Errorf("%w: log removed by reorg", ErrDecode)
	}
	if len(log.Topics) < 2 {
		return domain.Message{}, fmt.Errorf("%w: expected 2 topics, got %d", ErrDecode, len(log.Topics))
	}
	if !strings.EqualFold(log.Topics[0], s.TopicHex()) {
		return domain.Message{}, fmt.Errorf("%w: unexpected topic %s", ErrDecode, log.Topics[0])
	}
	if log.TxHash == "" {
		return domain.Message{}, fmt.Errorf("%w: missing transaction hash", ErrDecode)
	}

	data, err := hexutil.Decode(log.Data)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: data: %v", ErrDecode, err)
	}
	values, err := s.Event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %s data: %v", ErrDecode, s.Event.Name, err)
	}

	sender := strings.ToLower(common.HexToAddress(log.Topics[1]).Hex())
	msg := domain.Message{
		ID:          domain.MessageID(log.TxHash, log.LogIndex),
		Channel:     domain.NormalizeChannel(channel),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.LogIndex,
		TxHash:      strings.ToLower(log.TxHash),
		Sender:      sender,
	}

	var ts uint64
	switch s.Kind {
	case domain.ChannelKindGlobal:
		if len(values) != 3 {
			return domain.Message{}, fmt.Errorf("%w: expected 3 values, got %d", ErrDecode, len(values))
		}
		name, ok1 := values[0].(string)
		content, ok2 := values[1].(string)
		stamp, ok3 := values[2].(uint64)
		if !ok1 || !ok2 || !ok3 {
			return domain.Message{}, fmt.Errorf("%w: unexpected value types", ErrDecode)
		}
		msg.DisplayName, msg.Content, ts = name, content, stamp
	default:
		if len(values) != 2 {
			return domain.Message{}, fmt.Errorf("%w: expected 2 values, got %d", ErrDecode, len(values))
		}
		content, ok1 := values[0].(string)
		stamp, ok2 := values[1].(uint64)
		if !ok1 || !ok2 {
			return domain.Message{}, fmt.Errorf("%w: unexpected value types", ErrDecode)
		}
		msg.DisplayName, msg.Content, ts = Abbreviate(sender), content, stamp
	}

	if ts > uint64(1<<62) {
		return domain.Message{}, fmt.Errorf("%w: timestamp %d out of range", ErrDecode, ts)
	}
	msg.Timestamp = time.Unix(int64(ts), 0).UTC()
	return msg, nil
}

// Abbreviate shortens an address to 0x1234…abcd.
func Abbreviate(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
