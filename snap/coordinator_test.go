package snap

import (
	"math/big"
	"testing"

	"github.com/eth2030/snapsync/core/types"
)

func TestCoordinatorCtx_HealingOkRequiresNonEmptyProcessed(t *testing.T) {
	cctx := newTestCoordinator()
	env := NewPivot(header(1, types.Hash{1}))
	if cctx.HealingOk(env) {
		t.Fatal("expected HealingOk to be false with no processed accounts")
	}
}

func TestCoordinatorCtx_HealingOkChecksCoverageTrigger(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.Cfg.HealAccountsCoverageTrigger = 0.5
	env := NewPivot(header(1, types.Hash{1}))
	env.FetchAccounts.Processed.Merge(NodeTagRange{Min: ZeroNodeTag(), Max: NodeTagFromUint64(1)})

	cctx.CoveredAccounts.Clear()
	if cctx.HealingOk(env) {
		t.Fatal("expected HealingOk to be false below the coverage trigger")
	}

	// Simulate near-full coverage by marking the whole key space covered.
	cctx.CoveredAccounts = NewFullRangeSet()
	if !cctx.HealingOk(env) {
		t.Fatal("expected HealingOk to be true once coverage exceeds the trigger")
	}
}

func TestCoordinatorCtx_UpdatePivotThrottlesDistance(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.Cfg.PivotBlockDistanceMin = 10
	first := cctx.UpdatePivot(header(100, types.Hash{1}))
	if first == nil {
		t.Fatal("expected first UpdatePivot to succeed")
	}

	// Too close: should return the existing top, not append a new pivot.
	same := cctx.UpdatePivot(header(105, types.Hash{2}))
	if same.StateHeader.Root != first.StateHeader.Root {
		t.Fatal("expected UpdatePivot to reject a too-close successor")
	}

	// Far enough: should append.
	next := cctx.UpdatePivot(header(200, types.Hash{3}))
	if next.StateHeader.Root == first.StateHeader.Root {
		t.Fatal("expected UpdatePivot to accept a sufficiently distant successor")
	}
}

func TestCoordinatorCtx_UpdatePivotUsesThrottledThresholdOnceHealing(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.Cfg.PivotBlockDistanceMin = 10
	cctx.Cfg.PivotBlockDistanceThrottledPivotChangeMin = 1000
	cctx.Cfg.HealAccountsCoverageTrigger = 0.0 // HealingOk true as soon as Processed non-empty

	top := cctx.UpdatePivot(header(100, types.Hash{1}))
	top.FetchAccounts.Processed.Merge(NodeTagRange{Min: ZeroNodeTag(), Max: NodeTagFromUint64(1)})

	// Far enough for the normal threshold (10) but not the throttled one (1000).
	same := cctx.UpdatePivot(header(200, types.Hash{2}))
	if same.StateHeader.Root != top.StateHeader.Root {
		t.Fatal("expected the throttled threshold to reject this successor")
	}
}

func TestCoordinatorCtx_MergeCoveredIsCumulative(t *testing.T) {
	cctx := newTestCoordinator()
	cctx.mergeCovered(NodeTagRange{Min: ZeroNodeTag(), Max: NodeTagFromUint64(10)})
	cctx.mergeCovered(NodeTagRange{Min: NodeTagFromUint64(11), Max: NodeTagFromUint64(20)})
	if cctx.CoveredAccounts.Len().Cmp(big.NewInt(21)) != 0 {
		t.Fatalf("expected 21 covered tags, got %v", cctx.CoveredAccounts.Len())
	}
}
