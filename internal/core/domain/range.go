package domain

import "fmt"

// Range is a closed interval of block numbers.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// String returns the range in "start-end" format.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of blocks in the range.
func (r Range) Size() uint64 {
	return r.End - r.Start + 1
}

// Contains reports whether block lies inside the range.
func (r Range) Contains(block uint64) bool {
	return block >= r.Start && block <= r.End
}

// Split splits the range into ascending chunks of at most maxSize blocks.
func (r Range) Split(maxSize uint64) []Range {
	if maxSize == 0 || r.Size() <= maxSize {
		return []Range{r}
	}

	var chunks []Range
	current := r.Start

	for current <= r.End {
		chunkEnd := min(current+maxSize-1, r.End)
		chunks = append(chunks, Range{Start: current, End: chunkEnd})
		if chunkEnd == r.End {
			break
		}
		current = chunkEnd + 1
	}

	return chunks
}

// SplitBackward splits the range into chunks of at most maxSize blocks,
// starting from the upper end.
func (r Range) SplitBackward(maxSize uint64) []Range {
	if maxSize == 0 || r.Size() <= maxSize {
		return []Range{r}
	}

	var chunks []Range
	current := r.End

	for {
		chunkStart := r.Start
		if current-r.Start+1 > maxSize {
			chunkStart = current - maxSize + 1
		}
		chunks = append(chunks, Range{Start: chunkStart, End: current})
		if chunkStart == r.Start {
			break
		}
		current = chunkStart - 1
	}

	return chunks
}
