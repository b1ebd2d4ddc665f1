package domain

import "fmt"

// SyncState is the lifecycle state of a channel's synchronization.
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateRunning SyncState = "running"
	SyncStateDone    SyncState = "done"
	SyncStateAborted SyncState = "aborted"
	SyncStateFailed  SyncState = "failed"
)

// IsTerminal reports whether s ends an operation.
func (s SyncState) IsTerminal() bool {
	return s == SyncStateDone || s == SyncStateAborted || s == SyncStateFailed
}

// SyncModeKind distinguishes a full crawl from a targeted fill.
type SyncModeKind string

const (
	SyncModeTipAndBackfill SyncModeKind = "tip_and_backfill"
	SyncModeTargetedGap    SyncModeKind = "targeted_gap"
)

// SyncMode describes what a synchronize call should do.
type SyncMode struct {
	Kind  SyncModeKind
	Range Range // only for SyncModeTargetedGap
}

// TipAndBackfill returns the default crawl mode.
func TipAndBackfill() SyncMode {
	return SyncMode{Kind: SyncModeTipAndBackfill}
}

// TargetedGap returns a manual fill mode over [start, end].
func TargetedGap(start, end uint64) SyncMode {
	return SyncMode{Kind: SyncModeTargetedGap, Range: Range{Start: start, End: end}}
}

func (m SyncMode) String() string {
	if m.Kind == SyncModeTargetedGap {
		return fmt.Sprintf("%s(%s)", m.Kind, m.Range)
	}
	return string(m.Kind)
}
