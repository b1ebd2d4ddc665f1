package interval

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		existing []Range
		incoming Range
		expected []Range
	}{
		{"empty", nil, Range{Start: 10, End: 20}, []Range{{Start: 10, End: 20}}},
		{"disjoint before", []Range{{Start: 50, End: 60}}, Range{Start: 10, End: 20}, []Range{{Start: 10, End: 20}, {Start: 50, End: 60}}},
		{"adjacent after", []Range{{Start: 10, End: 20}}, Range{Start: 21, End: 30}, []Range{{Start: 10, End: 30}}},
		{"adjacent before", []Range{{Start: 10, End: 20}}, Range{Start: 0, End: 9}, []Range{{Start: 0, End: 20}}},
		{"one block hole stays", []Range{{Start: 10, End: 20}}, Range{Start: 22, End: 30}, []Range{{Start: 10, End: 20}, {Start: 22, End: 30}}},
		{"bridges two", []Range{{Start: 10, End: 20}, {Start: 40, End: 50}}, Range{Start: 15, End: 45}, []Range{{Start: 10, End: 50}}},
		{"contained", []Range{{Start: 10, End: 50}}, Range{Start: 20, End: 30}, []Range{{Start: 10, End: 50}}},
		{"fills hole exactly", []Range{{Start: 10, End: 20}, {Start: 22, End: 30}}, Range{Start: 21, End: 21}, []Range{{Start: 10, End: 30}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.existing, tt.incoming)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Merge(%v, %v) = %v, want %v", tt.existing, tt.incoming, got, tt.expected)
			}
		})
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	existing := []Range{{Start: 40, End: 50}, {Start: 10, End: 20}}
	snapshot := append([]Range(nil), existing...)

	_ = Merge(existing, Range{Start: 15, End: 45})

	if !reflect.DeepEqual(existing, snapshot) {
		t.Errorf("input mutated: %v", existing)
	}
}

func TestMerge_InvariantAndIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		var ranges []Range
		for n := 0; n < 30; n++ {
			start := uint64(rng.Intn(1000))
			incoming := Range{Start: start, End: start + uint64(rng.Intn(40))}

			merged := Merge(ranges, incoming)
			if err := Validate(merged); err != nil {
				t.Fatalf("iteration %d: %v (ranges %v)", iter, err, merged)
			}

			again := Merge(merged, incoming)
			if !reflect.DeepEqual(again, merged) {
				t.Fatalf("merge not idempotent: %v vs %v", again, merged)
			}
			ranges = merged
		}
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	inputs := make([]Range, 25)
	for i := range inputs {
		start := uint64(rng.Intn(500))
		inputs[i] = Range{Start: start, End: start + uint64(rng.Intn(20))}
	}

	forward := MergeAll(nil, inputs)

	reversed := make([]Range, len(inputs))
	for i, r := range inputs {
		reversed[len(inputs)-1-i] = r
	}
	backward := MergeAll(nil, reversed)

	if !Equal(forward, backward) {
		t.Errorf("merge order changed result: %v vs %v", forward, backward)
	}
}

func TestGaps(t *testing.T) {
	tests := []struct {
		name         string
		ranges       []Range
		lower, upper uint64
		expected     []Range
	}{
		{
			name:     "internal and lower",
			ranges:   []Range{{Start: 100, End: 200}, {Start: 250, End: 300}},
			lower:    0,
			upper:    300,
			expected: []Range{{Start: 201, End: 249}, {Start: 0, End: 99}},
		},
		{
			name:     "upper boundary first",
			ranges:   []Range{{Start: 100, End: 200}, {Start: 250, End: 300}},
			lower:    100,
			upper:    320,
			expected: []Range{{Start: 301, End: 320}, {Start: 201, End: 249}},
		},
		{
			name:     "no ranges",
			ranges:   nil,
			lower:    5,
			upper:    50,
			expected: []Range{{Start: 5, End: 50}},
		},
		{
			name:     "fully covered",
			ranges:   []Range{{Start: 0, End: 500}},
			lower:    10,
			upper:    400,
			expected: nil,
		},
		{
			name:     "ranges clipped by bounds",
			ranges:   []Range{{Start: 0, End: 20}, {Start: 30, End: 40}, {Start: 60, End: 900}},
			lower:    10,
			upper:    100,
			expected: []Range{{Start: 41, End: 59}, {Start: 21, End: 29}},
		},
		{
			name:     "newest internal gap first",
			ranges:   []Range{{Start: 10, End: 19}, {Start: 30, End: 39}, {Start: 50, End: 59}},
			lower:    10,
			upper:    59,
			expected: []Range{{Start: 40, End: 49}, {Start: 20, End: 29}},
		},
		{
			name:     "range at block zero",
			ranges:   []Range{{Start: 0, End: 5}},
			lower:    0,
			upper:    8,
			expected: []Range{{Start: 6, End: 8}},
		},
		{
			name:     "inverted bounds",
			ranges:   []Range{{Start: 0, End: 5}},
			lower:    9,
			upper:    8,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Gaps(tt.ranges, tt.lower, tt.upper)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Gaps(%v, %d, %d) = %v, want %v", tt.ranges, tt.lower, tt.upper, got, tt.expected)
			}
		})
	}
}

func TestGaps_ComplementOfRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for iter := 0; iter < 200; iter++ {
		var ranges []Range
		for n := 0; n < 10; n++ {
			start := uint64(rng.Intn(300))
			ranges = Merge(ranges, Range{Start: start, End: start + uint64(rng.Intn(15))})
		}

		lower, upper := uint64(rng.Intn(50)), uint64(250+rng.Intn(100))
		covered := make(map[uint64]bool)
		for _, r := range ranges {
			for b := r.Start; b <= r.End; b++ {
				covered[b] = true
			}
		}
		for _, g := range Gaps(ranges, lower, upper) {
			for b := g.Start; b <= g.End; b++ {
				if covered[b] {
					t.Fatalf("gap %v overlaps scanned block %d", g, b)
				}
				covered[b] = true
			}
		}
		for b := lower; b <= upper; b++ {
			if !covered[b] {
				t.Fatalf("block %d neither scanned nor reported as gap", b)
			}
		}
	}
}

func TestTipAndEarliest(t *testing.T) {
	if _, ok := Tip(nil); ok {
		t.Error("expected no tip for empty ranges")
	}
	if _, ok := Earliest(nil); ok {
		t.Error("expected no earliest for empty ranges")
	}

	ranges := []Range{{Start: 10, End: 20}, {Start: 40, End: 55}}
	if tip, _ := Tip(ranges); tip != 55 {
		t.Errorf("expected tip 55, got %d", tip)
	}
	if earliest, _ := Earliest(ranges); earliest != 10 {
		t.Errorf("expected earliest 10, got %d", earliest)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		ranges []Range
		valid  bool
	}{
		{"empty", nil, true},
		{"sorted disjoint", []Range{{Start: 0, End: 5}, {Start: 7, End: 9}}, true},
		{"touching", []Range{{Start: 0, End: 5}, {Start: 6, End: 9}}, false},
		{"overlapping", []Range{{Start: 0, End: 5}, {Start: 3, End: 9}}, false},
		{"unsorted", []Range{{Start: 10, End: 15}, {Start: 0, End: 5}}, false},
		{"inverted", []Range{{Start: 9, End: 3}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ranges)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvariantViolation) {
				t.Errorf("expected ErrInvariantViolation, got %v", err)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("12000-12500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Start != 12000 || r.End != 12500 {
		t.Errorf("unexpected range %v", r)
	}

	if _, err := ParseRange("20-10"); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := RangesFromStrings([]string{"1-2", "bogus"}); err == nil {
		t.Error("expected error for malformed range")
	}
}

func TestCovered(t *testing.T) {
	ranges := []Range{{Start: 10, End: 20}, {Start: 30, End: 40}}
	if !Covered(ranges, Range{Start: 12, End: 18}) {
		t.Error("expected [12,18] covered")
	}
	if Covered(ranges, Range{Start: 18, End: 32}) {
		t.Error("[18,32] spans a gap and must not be covered")
	}
}
