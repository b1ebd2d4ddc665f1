package domain

import "time"

// ScanMeta is the scanned-range state of one channel.
type ScanMeta struct {
	Channel     string
	Ranges      []Range
	LastUpdated time.Time
}

// Clone returns a copy that shares no memory with m.
func (m *ScanMeta) Clone() *ScanMeta {
	if m == nil {
		return nil
	}
	c := *m
	c.Ranges = append([]Range(nil), m.Ranges...)
	return &c
}
