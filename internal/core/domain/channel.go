package domain

import "strings"

// ChannelKind selects the decoding schema of a channel.
type ChannelKind string

const (
	// ChannelKindGlobal is the single shared stream.
	ChannelKindGlobal ChannelKind = "global"
	// ChannelKindScoped is any per-sector stream.
	ChannelKindScoped ChannelKind = "scoped"
)

// Channel identifies one independent event stream.
type Channel struct {
	Address    string
	Kind       ChannelKind
	LowerBound uint64
}

// NormalizeChannel returns the canonical key for a channel address.
func NormalizeChannel(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ResolveKind reports whether address is the configured global channel.
func ResolveKind(address, globalAddress string) ChannelKind {
	if globalAddress != "" && strings.EqualFold(strings.TrimSpace(address), strings.TrimSpace(globalAddress)) {
		return ChannelKindGlobal
	}
	return ChannelKindScoped
}

// Key returns the normalized channel key.
func (c Channel) Key() string {
	return NormalizeChannel(c.Address)
}
