package snap

import (
	"math/rand"
)

// AccountClaim is a range of account tags handed to one worker. The worker
// must eventually call Commit (success, possibly partial) or Release
// (failure) on the owning RangeBatch with this claim.
type AccountClaim struct {
	Pivot *Pivot
	Range NodeTagRange
}

// ClaimAccountRange draws the next account range to fetch from env's
// account batch, capped at cfg.AccountRangeMax(). Returns nil if the batch
// has nothing left to claim (fully processed or fully in-flight).
func ClaimAccountRange(env *Pivot, cfg Config) *AccountClaim {
	if env.Archived {
		return nil
	}
	iv := env.FetchAccounts.GetUnprocessed(cfg.AccountRangeMax())
	if iv == nil {
		return nil
	}
	return &AccountClaim{Pivot: env, Range: *iv}
}

// CommitAccountRange records a successful fetch. consumed is the actual
// span the peer's response covered (chainVerified accounts plus, if the
// response was a right-boundary proof, the implicit tail up to the last
// account); it may be smaller than claim.Range if the peer returned less
// than asked.
func CommitAccountRange(ctx *CoordinatorCtx, claim *AccountClaim, consumed NodeTagRange) {
	claim.Pivot.FetchAccounts.Commit(claim.Range, consumed)
	ctx.mergeCovered(consumed)
}

// ReleaseAccountRange returns a failed claim in full.
func ReleaseAccountRange(claim *AccountClaim) {
	claim.Pivot.FetchAccounts.Release(claim.Range)
}

// ResetAccountScheduling is called for every fresh pivot. When
// CoveredAccounts has already filled the whole key space once, it resets
// the global coverage tracker and randomly partitions the key space
// between the batch's two unprocessed sets so that successive pivots tend
// to explore different regions first.
func ResetAccountScheduling(env *Pivot, ctx *CoordinatorCtx, rng *rand.Rand) {
	if ctx.CoveredAccounts.IsFull() {
		ctx.CoveredAccounts.Clear()
		ctx.CovAccTimesFull++

		split := randomNodeTag(rng)
		env.FetchAccounts.Unprocessed[0].Clear()
		env.FetchAccounts.Unprocessed[1].Clear()
		if !split.IsZero() {
			env.FetchAccounts.Unprocessed[0].Merge(NodeTagRange{Min: ZeroNodeTag(), Max: split.Dec()})
		}
		env.FetchAccounts.Unprocessed[1].Merge(NodeTagRange{Min: split, Max: MaxNodeTag()})
		return
	}

	// Otherwise: prioritize the not-yet-covered complement, deprioritize
	// what has already been seen by some other pivot.
	complement := NewFullRangeSet()
	for _, r := range ctx.CoveredAccounts.Ranges() {
		complement.Reduce(r)
	}
	env.FetchAccounts.Unprocessed[0] = complement
	env.FetchAccounts.Unprocessed[1] = ctx.CoveredAccounts.Clone()
}

// randomNodeTag returns a uniformly-random, non-degenerate NodeTag in
// (0, 2^256-1), retrying until it lands away from both endpoints.
func randomNodeTag(rng *rand.Rand) NodeTag {
	var b [32]byte
	for {
		for i := range b {
			b[i] = byte(rng.Intn(256))
		}
		var nt NodeTag
		nt.v.SetBytes(b[:])
		if !nt.IsZero() && !nt.Eq(MaxNodeTag()) {
			return nt
		}
	}
}
