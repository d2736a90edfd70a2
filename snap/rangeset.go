package snap

import "math/big"

// RangeSet is a set of pairwise-disjoint, non-adjacent NodeTagRanges kept
// in increasing order. It is the core interval algebra the scheduler,
// healer, and reconciler use to track which parts of the 2^256 key space
// have been processed, are outstanding, or are claimed by a worker.
//
// RangeSet is not safe for concurrent use and has no lock of its own. The
// sets inside a RangeBatch are guarded by RangeBatch.mu, and
// CoordinatorCtx.CoveredAccounts by CoordinatorCtx.mu.
type RangeSet struct {
	ranges []NodeTagRange
}

// NewRangeSet returns an empty range set.
func NewRangeSet() *RangeSet { return &RangeSet{} }

// NewFullRangeSet returns a range set covering the entire key space.
func NewFullRangeSet() *RangeSet {
	return &RangeSet{ranges: []NodeTagRange{FullNodeTagRange()}}
}

// Ranges returns a copy of the underlying sorted, disjoint ranges.
func (s *RangeSet) Ranges() []NodeTagRange {
	out := make([]NodeTagRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// IsEmpty reports whether the set has no ranges.
func (s *RangeSet) IsEmpty() bool { return len(s.ranges) == 0 }

// IsFull reports whether the set is exactly [0, 2^256-1].
func (s *RangeSet) IsFull() bool {
	return len(s.ranges) == 1 && s.ranges[0].Min.IsZero() && s.ranges[0].Max.Eq(MaxNodeTag())
}

// Len returns the total number of tags covered, as a big.Int (may exceed
// what a uint64 or even uint256 can hold when the set is full).
func (s *RangeSet) Len() *big.Int {
	total := new(big.Int)
	for _, r := range s.ranges {
		total.Add(total, r.Len())
	}
	return total
}

// FullFactor returns the fraction of the 2^256 key space covered by this
// set, in [0,1]. It is the trigger the peer worker checks before starting
// the healing phase.
func (s *RangeSet) FullFactor() float64 {
	if len(s.ranges) == 0 {
		return 0
	}
	total := s.Len()
	// 2^256 as a float64, computed once.
	full := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(total), full).Float64()
	if f > 1 {
		f = 1
	}
	return f
}

// Merge adds iv to the set, coalescing with any overlapping or adjacent
// existing ranges. Returns the number of previously-uncovered tags added,
// as a big.Int.
func (s *RangeSet) Merge(iv NodeTagRange) *big.Int {
	before := s.Len()

	merged := make([]NodeTagRange, 0, len(s.ranges)+1)
	cur := iv
	i := 0
	// Ranges strictly before cur (no overlap, no adjacency) pass through.
	for i < len(s.ranges) && !touches(s.ranges[i], cur) && s.ranges[i].Max.Lt(cur.Min) {
		merged = append(merged, s.ranges[i])
		i++
	}
	// Absorb every range touching cur.
	for i < len(s.ranges) && touches(s.ranges[i], cur) {
		if s.ranges[i].Min.Lt(cur.Min) {
			cur.Min = s.ranges[i].Min
		}
		if s.ranges[i].Max.Gt(cur.Max) {
			cur.Max = s.ranges[i].Max
		}
		i++
	}
	merged = append(merged, cur)
	// Remaining ranges strictly after cur.
	merged = append(merged, s.ranges[i:]...)
	s.ranges = merged

	after := s.Len()
	return new(big.Int).Sub(after, before)
}

// touches reports whether a and b overlap or are adjacent (a.Max+1==b.Min
// or b.Max+1==a.Min), i.e. whether they should be coalesced into one range.
func touches(a, b NodeTagRange) bool {
	if a.Overlaps(b) {
		return true
	}
	if a.Max.Lt(b.Min) {
		return a.Max.adjacent(b.Min)
	}
	return b.Max.adjacent(a.Min)
}

// Reduce removes iv from the set, splitting any range that straddles it.
// Returns the number of tags actually removed, as a big.Int.
func (s *RangeSet) Reduce(iv NodeTagRange) *big.Int {
	before := s.Len()

	out := make([]NodeTagRange, 0, len(s.ranges)+1)
	for _, r := range s.ranges {
		if !r.Overlaps(iv) {
			out = append(out, r)
			continue
		}
		// Left remainder.
		if r.Min.Lt(iv.Min) {
			out = append(out, NodeTagRange{Min: r.Min, Max: iv.Min.Dec()})
		}
		// Right remainder.
		if r.Max.Gt(iv.Max) {
			out = append(out, NodeTagRange{Min: iv.Max.Inc(), Max: r.Max})
		}
	}
	s.ranges = out

	after := s.Len()
	return new(big.Int).Sub(before, after)
}

// Ge returns the smallest range whose Min is >= pt, or nil if none exists.
func (s *RangeSet) Ge(pt NodeTag) *NodeTagRange {
	for i := range s.ranges {
		if s.ranges[i].Min.Ge(pt) {
			r := s.ranges[i]
			return &r
		}
		if s.ranges[i].Max.Ge(pt) {
			r := NodeTagRange{Min: pt, Max: s.ranges[i].Max}
			return &r
		}
	}
	return nil
}

// Le returns the largest range whose Max is <= pt, or nil if none exists.
func (s *RangeSet) Le(pt NodeTag) *NodeTagRange {
	var found *NodeTagRange
	for i := range s.ranges {
		if s.ranges[i].Max.Le(pt) {
			r := s.ranges[i]
			found = &r
			continue
		}
		if s.ranges[i].Min.Le(pt) {
			r := NodeTagRange{Min: s.ranges[i].Min, Max: pt}
			found = &r
		}
	}
	return found
}

// Covered returns the number of tags of iv that are already in the set, as
// a big.Int.
func (s *RangeSet) Covered(iv NodeTagRange) *big.Int {
	total := new(big.Int)
	for _, r := range s.ranges {
		if !r.Overlaps(iv) {
			continue
		}
		lo := r.Min
		if iv.Min.Gt(lo) {
			lo = iv.Min
		}
		hi := r.Max
		if iv.Max.Lt(hi) {
			hi = iv.Max
		}
		total.Add(total, NodeTagRange{Min: lo, Max: hi}.Len())
	}
	return total
}

// Clone returns a deep copy of the set.
func (s *RangeSet) Clone() *RangeSet {
	out := &RangeSet{ranges: make([]NodeTagRange, len(s.ranges))}
	copy(out.ranges, s.ranges)
	return out
}

// Clear empties the set.
func (s *RangeSet) Clear() { s.ranges = nil }
