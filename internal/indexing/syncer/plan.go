package syncer

import (
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
)

// Phase names the kind of chunk being synchronized.
type Phase string

const (
	PhaseTip      Phase = "tip"
	PhaseGap      Phase = "gap"
	PhaseBackfill Phase = "backfill"
	PhaseFill     Phase = "fill"
)

// Step is the next chunk to fetch.
type Step struct {
	Phase Phase
	Range domain.Range
}

// Plan holds the chunking parameters of a crawl.
type Plan struct {
	Lower       uint64
	ChunkSize   uint64
	MaxLookback uint64
}

// Next picks the next chunk for a tip-and-backfill crawl, in priority order:
// catch up to the head, then close the most recent internal gap, then
// extend history down to the lower bound. ok is false when fully synced.
func (p Plan) Next(ranges []domain.Range, head uint64) (Step, bool) {
	if step, ok := p.tipChunk(ranges, head); ok {
		return step, true
	}
	if step, ok := p.gapChunk(ranges, head); ok {
		return step, true
	}
	return p.backfillChunk(ranges)
}

func (p Plan) chunkSize() uint64 {
	if p.ChunkSize == 0 {
		return DefaultChunkSize
	}
	return p.ChunkSize
}

func (p Plan) tipChunk(ranges []domain.Range, head uint64) (Step, bool) {
	start := p.Lower
	if tip, ok := interval.Tip(ranges); ok {
		if tip >= head {
			return Step{}, false
		}
		start = max(tip+1, p.Lower)
	}
	if p.MaxLookback > 0 && head > p.MaxLookback {
		start = max(start, head-p.MaxLookback)
	}
	if start > head {
		return Step{}, false
	}

	end := head
	if head-start >= p.chunkSize() {
		end = start + p.chunkSize() - 1
	}
	return Step{Phase: PhaseTip, Range: domain.Range{Start: start, End: end}}, true
}

func (p Plan) gapChunk(ranges []domain.Range, head uint64) (Step, bool) {
	earliest, ok := interval.Earliest(ranges)
	if !ok {
		return Step{}, false
	}
	for _, gap := range interval.Gaps(ranges, p.Lower, head) {
		if gap.Start <= earliest {
			// Boundary gap, handled by tip or backfill.
			continue
		}
		start := gap.Start
		if gap.End-gap.Start >= p.chunkSize() {
			start = gap.End - p.chunkSize() + 1
		}
		return Step{Phase: PhaseGap, Range: domain.Range{Start: start, End: gap.End}}, true
	}
	return Step{}, false
}

func (p Plan) backfillChunk(ranges []domain.Range) (Step, bool) {
	earliest, ok := interval.Earliest(ranges)
	if !ok || earliest <= p.Lower {
		return Step{}, false
	}
	start := p.Lower
	if earliest-p.Lower > p.chunkSize() {
		start = earliest - p.chunkSize()
	}
	return Step{Phase: PhaseBackfill, Range: domain.Range{Start: start, End: earliest - 1}}, true
}
