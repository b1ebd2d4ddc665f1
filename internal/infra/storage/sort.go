package storage

import (
	"sort"

	"github.com/vietddude/logsync/internal/core/domain"
)

// SortMessages orders messages by block, then log index.
func SortMessages(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Less(msgs[j])
	})
}

// Tail returns the last limit messages of an ascending slice.
func Tail(msgs []domain.Message, limit int) []domain.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
