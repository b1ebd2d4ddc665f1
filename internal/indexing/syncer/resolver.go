package syncer

import "github.com/vietddude/logsync/internal/core/domain"

// Resolver maps a channel address to its resolved channel.
type Resolver func(address string) domain.Channel

// NewResolver resolves configured channels with their lower bounds and any
// other address with lower bound 0. Kind is decided against global.
func NewResolver(global string, configured []domain.Channel) Resolver {
	known := make(map[string]domain.Channel, len(configured))
	for _, ch := range configured {
		known[ch.Key()] = ch
	}
	return func(address string) domain.Channel {
		key := domain.NormalizeChannel(address)
		ch, ok := known[key]
		if !ok {
			ch = domain.Channel{Address: key}
		}
		ch.Address = key
		ch.Kind = domain.ResolveKind(key, global)
		return ch
	}
}
