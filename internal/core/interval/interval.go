// Package interval maintains the merged set of scanned block ranges of a channel.
//
// All functions are pure: they never mutate their inputs and return a new
// slice. A valid range list is sorted by Start, pairwise disjoint and has no
// two touching entries (next.Start > prev.End+1).
package interval

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vietddude/logsync/internal/core/domain"
)

// Range is an alias for domain.Range.
type Range = domain.Range

// ErrInvariantViolation is returned when a range list is not sorted, disjoint and non-touching.
var ErrInvariantViolation = errors.New("scan state invariant violated")

// touches reports whether two ranges ordered by start overlap or are adjacent.
func touches(cur, next Range) bool {
	return cur.End == ^uint64(0) || cur.End+1 >= next.Start
}

// Merge inserts incoming into existing and coalesces overlapping or adjacent ranges.
func Merge(existing []Range, incoming Range) []Range {
	all := make([]Range, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, incoming)
	return coalesce(all)
}

// MergeAll merges every incoming range into existing, one at a time.
func MergeAll(existing []Range, incoming []Range) []Range {
	merged := append([]Range(nil), existing...)
	for _, r := range incoming {
		merged = Merge(merged, r)
	}
	return merged
}

func coalesce(ranges []Range) []Range {
	if len(ranges) == 0 {
		return []Range{}
	}

	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Start != ranges[j].Start {
			return ranges[i].Start < ranges[j].Start
		}
		return ranges[i].End < ranges[j].End
	})

	merged := []Range{ranges[0]}
	for _, current := range ranges[1:] {
		last := &merged[len(merged)-1]
		if touches(*last, current) {
			last.End = max(last.End, current.End)
			continue
		}
		merged = append(merged, current)
	}
	return merged
}

// Gaps returns every maximal sub-interval of [lower, upper] not covered by ranges.
//
// Gaps are ordered most recent first: the gap above the last range, then the
// internal gaps from the tail backward, then the gap below the first range.
func Gaps(ranges []Range, lower, upper uint64) []Range {
	if lower > upper {
		return nil
	}

	var gaps []Range
	next := upper // highest block not yet accounted for
	open := true  // false once next has wrapped below lower

	for i := len(ranges) - 1; i >= 0 && open; i-- {
		r := ranges[i]
		if r.Start > next {
			continue
		}
		if r.End < lower {
			break
		}
		if r.End < next {
			gaps = append(gaps, Range{Start: max(r.End+1, lower), End: next})
		}
		if r.Start <= lower {
			open = false
			break
		}
		next = r.Start - 1
	}

	if open && next >= lower {
		gaps = append(gaps, Range{Start: lower, End: next})
	}
	return gaps
}

// Tip returns the highest scanned block.
func Tip(ranges []Range) (uint64, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	tip := ranges[0].End
	for _, r := range ranges[1:] {
		tip = max(tip, r.End)
	}
	return tip, true
}

// Earliest returns the lowest scanned block.
func Earliest(ranges []Range) (uint64, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	earliest := ranges[0].Start
	for _, r := range ranges[1:] {
		earliest = min(earliest, r.Start)
	}
	return earliest, true
}

// Covered reports whether r lies entirely inside one of ranges.
func Covered(ranges []Range, r Range) bool {
	for _, s := range ranges {
		if s.Start <= r.Start && s.End >= r.End {
			return true
		}
	}
	return false
}

// Blocks returns the number of blocks covered by ranges.
func Blocks(ranges []Range) uint64 {
	var n uint64
	for _, r := range ranges {
		n += r.Size()
	}
	return n
}

// Validate checks the range list invariant.
func Validate(ranges []Range) error {
	for i, r := range ranges {
		if r.Start > r.End {
			return fmt.Errorf("%w: range %d has start %d > end %d", ErrInvariantViolation, i, r.Start, r.End)
		}
		if i == 0 {
			continue
		}
		prev := ranges[i-1]
		if touches(prev, r) {
			return fmt.Errorf("%w: %s and %s overlap or touch", ErrInvariantViolation, prev, r)
		}
	}
	return nil
}

// Equal reports whether two range lists are identical.
func Equal(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ParseRange parses a "start-end" string into a Range.
func ParseRange(s string) (Range, error) {
	var start, end uint64
	_, err := fmt.Sscanf(s, "%d-%d", &start, &end)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range format: %s", s)
	}
	if start > end {
		return Range{}, fmt.Errorf("start > end: %d > %d", start, end)
	}
	return Range{Start: start, End: end}, nil
}

// RangesFromStrings parses multiple range strings.
func RangesFromStrings(strs []string) ([]Range, error) {
	ranges := make([]Range, 0, len(strs))
	for _, s := range strs {
		r, err := ParseRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}
