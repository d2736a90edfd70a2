package snap

import (
	"testing"

	"github.com/eth2030/snapsync/core/types"
)

func TestEnvelopeForPath_EmptyPathSpansEverything(t *testing.T) {
	env := envelopeForPath(nil)
	if !env.Min.IsZero() || !env.Max.Eq(MaxNodeTag()) {
		t.Fatal("expected an empty path to envelope the entire key space")
	}
}

func TestEnvelopeForPath_FixesPrefix(t *testing.T) {
	env := envelopeForPath([]byte{0x1})
	wantMin := [32]byte{0x10}
	wantMax := [32]byte{0x1f}
	for i := range wantMax[1:] {
		wantMax[i+1] = 0xff
	}
	if env.Min.Hash() != types.Hash(wantMin) {
		t.Fatalf("unexpected min: %x", env.Min.Hash())
	}
	if env.Max.Hash() != types.Hash(wantMax) {
		t.Fatalf("unexpected max: %x", env.Max.Hash())
	}
}

func TestSubtractRange_ReturnsNilWhenFullyCovered(t *testing.T) {
	have := NewRangeSet()
	have.Merge(NodeTagRange{Min: ZeroNodeTag(), Max: NodeTagFromUint64(100)})
	iv := NodeTagRange{Min: NodeTagFromUint64(10), Max: NodeTagFromUint64(20)}
	if got := subtractRange(iv, have); got != nil {
		t.Fatalf("expected nil for a fully-covered range, got %+v", got)
	}
}

func TestSubtractRange_ReturnsRemainder(t *testing.T) {
	have := NewRangeSet()
	have.Merge(NodeTagRange{Min: ZeroNodeTag(), Max: NodeTagFromUint64(10)})
	iv := NodeTagRange{Min: ZeroNodeTag(), Max: NodeTagFromUint64(20)}
	got := subtractRange(iv, have)
	if got == nil {
		t.Fatal("expected a remaining uncovered piece")
	}
	if !got.Min.Eq(NodeTagFromUint64(11)) || !got.Max.Eq(NodeTagFromUint64(20)) {
		t.Fatalf("unexpected remainder: %+v", got)
	}
}

func TestReconciler_NoOthersReturnsImmediately(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.Pivots = NewPivotRegistry(4)
	top := cctx.Pivots.Update(header(1, types.Hash{1}))
	top.FetchAccounts.CheckNodes = [][]byte{{0x1}}

	NewReconciler().Run(cctx, top)

	if len(top.FetchAccounts.CheckNodes) != 1 {
		t.Fatal("expected CheckNodes to be left untouched with no sibling pivots")
	}
}

func TestReconciler_MergesFromArchivedSibling(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.Pivots = NewPivotRegistry(4)

	sibling := cctx.Pivots.Update(header(1, types.Hash{1}))
	sibling.Archived = true
	sibling.FetchAccounts.Processed.Merge(FullNodeTagRange())

	top := cctx.Pivots.Update(header(2, types.Hash{2}))
	top.FetchAccounts.CheckNodes = [][]byte{{0x1}}

	NewReconciler().Run(cctx, top)

	env := envelopeForPath([]byte{0x1})
	if top.FetchAccounts.Processed.Covered(env).Sign() == 0 {
		t.Fatal("expected the envelope to be merged in from the archived sibling")
	}
	if len(top.FetchAccounts.CheckNodes) != 0 {
		t.Fatal("expected the reconciled path to be dropped from CheckNodes")
	}
}

func TestReconciler_LeavesUnresolvedPathsInCheckNodes(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.Pivots = NewPivotRegistry(4)

	sibling := cctx.Pivots.Update(header(1, types.Hash{1}))
	sibling.Archived = true
	// Sibling has no matching coverage for this path.

	top := cctx.Pivots.Update(header(2, types.Hash{2}))
	top.FetchAccounts.CheckNodes = [][]byte{{0x2}}

	NewReconciler().Run(cctx, top)

	if len(top.FetchAccounts.CheckNodes) != 1 {
		t.Fatal("expected the unresolved path to remain queued for a later round")
	}
}
