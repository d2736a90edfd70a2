package snap

import (
	"context"
	"math/big"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eth2030/snapsync/core/types"
	"github.com/eth2030/snapsync/log"
	"github.com/eth2030/snapsync/metrics"
)

// CoordinatorCtx is the global state shared by every buddy and the ticker:
// the pivot registry, the global account-coverage tracker used to gate
// healing, and the ambient logging/metrics/randomness/storage handles.
type CoordinatorCtx struct {
	mu sync.Mutex

	Cfg       Config
	Pivots    *PivotRegistry
	NodeDB    NodeSource
	Log       *log.Logger
	Metrics   *metrics.Registry
	Rng       *rand.Rand

	CoveredAccounts *RangeSet
	CovAccTimesFull int

	ByteCodes *ByteCodeQueue
}

// NewCoordinatorCtx builds a coordinator context with the given node store.
func NewCoordinatorCtx(cfg Config, db NodeSource) *CoordinatorCtx {
	return &CoordinatorCtx{
		Cfg:             cfg,
		Pivots:          NewPivotRegistry(cfg.PivotTableLRUEntriesMax),
		NodeDB:          db,
		Log:             log.Default().Module("snap"),
		Metrics:         metrics.NewRegistry(),
		Rng:             rand.New(rand.NewSource(1)),
		CoveredAccounts: NewRangeSet(),
		ByteCodes:       NewByteCodeQueue(),
	}
}

func (ctx *CoordinatorCtx) mergeCovered(iv NodeTagRange) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.CoveredAccounts.Merge(iv)
}

// HealingOk reports whether enough of the account trie has been downloaded
// to start healing, the single canonical predicate used everywhere healing
// eligibility is checked (see DESIGN.md for why this replaces a separate
// boolean flag).
func (ctx *CoordinatorCtx) HealingOk(env *Pivot) bool {
	if env.FetchAccounts.Processed.IsEmpty() {
		return false
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.CoveredAccounts.FullFactor() >= ctx.Cfg.HealAccountsCoverageTrigger
}

// UpdatePivot appends a new pivot for header, applying the throttled
// distance threshold once the current top pivot is already healing.
func (ctx *CoordinatorCtx) UpdatePivot(header *types.Header) *Pivot {
	top := ctx.Pivots.Top()
	if top != nil {
		minDist := ctx.Cfg.PivotBlockDistanceMin
		if ctx.HealingOk(top) {
			minDist = ctx.Cfg.PivotBlockDistanceThrottledPivotChangeMin
		}
		if top.StateHeader.Number != nil && header.Number != nil {
			dist := new(big.Int).Sub(header.Number, top.StateHeader.Number)
			if dist.Cmp(big.NewInt(int64(minDist))) < 0 {
				return top
			}
		}
	}
	p := ctx.Pivots.Update(header)
	ResetAccountScheduling(p, ctx, ctx.Rng)
	if ctx.Pivots.BeforeTopMostlyClean() {
		ctx.Pivots.MothballBeforeTop()
	}
	return p
}

// RunBuddies starts one goroutine per buddy plus the ticker, stopping all
// of them if any returns a fatal error or ctx is cancelled.
func RunBuddies(ctx context.Context, cctx *CoordinatorCtx, buddies []*Buddy, tick *Ticker) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range buddies {
		b := b
		g.Go(func() error { return b.Run(gctx, cctx) })
	}
	if tick != nil {
		g.Go(func() error { return tick.Run(gctx, cctx) })
	}
	return g.Wait()
}
