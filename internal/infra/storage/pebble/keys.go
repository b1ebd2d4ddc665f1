package pebble

import (
	"bytes"
	"encoding/binary"
)

// Key layout (sep = 0x00):
//
//	m sep <channel> sep <block BE8><logIndex BE8><id>   message
//	i sep <channel> sep <id>                           id -> message key
//	s sep <channel>                                    scan meta
const sep = 0x00

const (
	prefixMessage = 'm'
	prefixIndex   = 'i'
	prefixScan    = 's'
)

func channelPrefix(kind byte, channel string) []byte {
	k := make([]byte, 0, len(channel)+3)
	k = append(k, kind, sep)
	k = append(k, channel...)
	return append(k, sep)
}

func messageKey(channel string, block, logIndex uint64, id string) []byte {
	k := channelPrefix(prefixMessage, channel)
	k = binary.BigEndian.AppendUint64(k, block)
	k = binary.BigEndian.AppendUint64(k, logIndex)
	return append(k, id...)
}

func indexKey(channel, id string) []byte {
	return append(channelPrefix(prefixIndex, channel), id...)
}

func scanKey(channel string) []byte {
	k := []byte{prefixScan, sep}
	return append(k, channel...)
}

func scanChannel(key []byte) string {
	return string(bytes.TrimPrefix(key, []byte{prefixScan, sep}))
}

// upperBound returns the smallest key greater than every key with the prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
