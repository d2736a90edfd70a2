package snap

import (
	"testing"
)

func tr(lo, hi uint64) NodeTagRange {
	return NodeTagRange{Min: NodeTagFromUint64(lo), Max: NodeTagFromUint64(hi)}
}

func TestRangeSet_EmptyByDefault(t *testing.T) {
	s := NewRangeSet()
	if !s.IsEmpty() {
		t.Fatal("expected new set to be empty")
	}
	if s.IsFull() {
		t.Fatal("expected new set not to be full")
	}
}

func TestRangeSet_Full(t *testing.T) {
	s := NewFullRangeSet()
	if !s.IsFull() {
		t.Fatal("expected NewFullRangeSet to be full")
	}
	if s.FullFactor() != 1 {
		t.Fatalf("expected FullFactor 1, got %v", s.FullFactor())
	}
}

func TestRangeSet_MergeDisjoint(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	s.Merge(tr(30, 40))
	got := s.Ranges()
	if len(got) != 2 {
		t.Fatalf("expected 2 disjoint ranges, got %d: %v", len(got), got)
	}
}

func TestRangeSet_MergeOverlapping(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	s.Merge(tr(15, 30))
	got := s.Ranges()
	if len(got) != 1 {
		t.Fatalf("expected overlapping ranges to coalesce, got %d: %v", len(got), got)
	}
	if got[0].Min.Cmp(NodeTagFromUint64(10)) != 0 || got[0].Max.Cmp(NodeTagFromUint64(30)) != 0 {
		t.Fatalf("unexpected coalesced bounds: %v", got[0])
	}
}

func TestRangeSet_MergeAdjacent(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	s.Merge(tr(21, 30))
	got := s.Ranges()
	if len(got) != 1 {
		t.Fatalf("expected adjacent ranges to coalesce into one, got %d: %v", len(got), got)
	}
}

func TestRangeSet_MergeBridgesGap(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	s.Merge(tr(30, 40))
	s.Merge(tr(15, 35))
	got := s.Ranges()
	if len(got) != 1 {
		t.Fatalf("expected bridging merge to produce 1 range, got %d: %v", len(got), got)
	}
	if got[0].Min.Cmp(NodeTagFromUint64(10)) != 0 || got[0].Max.Cmp(NodeTagFromUint64(40)) != 0 {
		t.Fatalf("unexpected bridged bounds: %v", got[0])
	}
}

func TestRangeSet_ReduceSplits(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 40))
	s.Reduce(tr(20, 25))
	got := s.Ranges()
	if len(got) != 2 {
		t.Fatalf("expected reduce to split into 2 ranges, got %d: %v", len(got), got)
	}
	if got[0].Max.Cmp(NodeTagFromUint64(19)) != 0 {
		t.Fatalf("expected left remainder to end at 19, got %v", got[0].Max)
	}
	if got[1].Min.Cmp(NodeTagFromUint64(26)) != 0 {
		t.Fatalf("expected right remainder to start at 26, got %v", got[1].Min)
	}
}

func TestRangeSet_ReduceFullyRemoves(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	s.Reduce(tr(5, 25))
	if !s.IsEmpty() {
		t.Fatalf("expected fully-covering reduce to empty the set, got %v", s.Ranges())
	}
}

func TestRangeSet_GeAndLe(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	s.Merge(tr(30, 40))

	ge := s.Ge(NodeTagFromUint64(25))
	if ge == nil || ge.Min.Cmp(NodeTagFromUint64(30)) != 0 {
		t.Fatalf("expected Ge(25) to find [30,40], got %v", ge)
	}

	le := s.Le(NodeTagFromUint64(25))
	if le == nil || le.Max.Cmp(NodeTagFromUint64(20)) != 0 {
		t.Fatalf("expected Le(25) to find [10,20], got %v", le)
	}
}

func TestRangeSet_Covered(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(10, 20))
	got := s.Covered(tr(15, 30))
	if got.Int64() != 6 { // 15..20 inclusive
		t.Fatalf("expected 6 covered tags, got %v", got)
	}
}

func TestRangeSet_RoundTripMergeReduce(t *testing.T) {
	s := NewRangeSet()
	iv := tr(100, 200)
	added := s.Merge(iv)
	if added.Int64() != 101 {
		t.Fatalf("expected 101 newly covered tags, got %v", added)
	}
	removed := s.Reduce(iv)
	if removed.Int64() != 101 {
		t.Fatalf("expected 101 removed tags, got %v", removed)
	}
	if !s.IsEmpty() {
		t.Fatal("expected set to be empty after merge then reduce of the same range")
	}
}

func TestRangeSet_Clone(t *testing.T) {
	s := NewRangeSet()
	s.Merge(tr(1, 5))
	clone := s.Clone()
	clone.Merge(tr(10, 15))
	if len(s.Ranges()) != 1 {
		t.Fatal("expected original set to be unaffected by mutating the clone")
	}
}
