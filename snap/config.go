package snap

import (
	"time"

	"github.com/holiman/uint256"
)

// Config groups the tunable thresholds that govern pivot migration, healing
// eligibility, and per-request sizing. Grouped into a struct (rather than
// bare package constants) so a caller can override them for testing or for
// a non-mainnet deployment, following the same shape as the knobs a real
// sync engine exposes for its healer and checkpoint store.
type Config struct {
	// PivotBlockDistanceMin is the minimum block-number gap before a new
	// pivot is appended, when the current pivot is not yet healing.
	PivotBlockDistanceMin uint64
	// PivotBlockDistanceThrottledPivotChangeMin is the larger gap required
	// once the current pivot has started healing, so the engine does not
	// discard healing progress on close-by pivots.
	PivotBlockDistanceThrottledPivotChangeMin uint64
	// PivotTableLRUEntriesMax bounds the number of pivots kept in memory
	// (active + mothballed). When appending a pivot would exceed it, the
	// entry just below the new top (the previous top) is evicted, not the
	// oldest.
	PivotTableLRUEntriesMax int

	// HealAccountsCoverageTrigger is the CoveredAccounts.FullFactor()
	// threshold above which account healing is allowed to run.
	HealAccountsCoverageTrigger float64
	// HealStorageSlotsTrigger is the equivalent threshold for storage
	// healing. Nothing in this package reads it: storage healing is gated by
	// the same account-coverage check as account healing.
	HealStorageSlotsTrigger float64

	// MaxTrieNodeFetch bounds how many missing nodes are requested in one
	// GetTrieNodes call.
	MaxTrieNodeFetch int
	// MaxStoragesFetch bounds how many accounts' storage is requested in
	// one GetStorageRanges call.
	MaxStoragesFetch int
	// MaxStoragesHeal bounds how many storage sub-tries are healed
	// concurrently with account healing in one ExecSnapSyncAction cycle.
	MaxStoragesHeal int

	// FetchRequestBytesLimit is the bytesLimit sent with every request.
	FetchRequestBytesLimit uint64

	// MaxTimeoutErrors is the error count after which a peer is zombied.
	// The count is the buddy's failed requests plus its account-range
	// responses slower than SlowResponseThreshold; it is checked when a
	// request fails, and a good response does not reset it.
	MaxTimeoutErrors int
	// ErrorBackoff is how long a worker sleeps after a transient error
	// before retrying.
	ErrorBackoff time.Duration
	// SlowResponseThreshold marks a response as an error (even if it
	// eventually arrived) once it took longer than this to complete.
	SlowResponseThreshold time.Duration
	// MinResponsePercent is the minimum fraction (0-100) of requested
	// items a response must carry to count as "good" rather than an
	// error for peer-accounting purposes. Nothing in this package reads it;
	// responses are not scored by how many requested items they carry.
	MinResponsePercent int

	// StorageSlotsQuPrioThresh is the queue depth above which a worker
	// drains the storage queue before starting a new account range fetch.
	StorageSlotsQuPrioThresh int

	// AccountsSaveProcessedChunksMax bounds how many Processed chunks a
	// checkpoint may record before it is rejected as too large.
	AccountsSaveProcessedChunksMax int
	// AccountsSaveStorageSlotsMax bounds the number of slot accounts a
	// checkpoint may record.
	AccountsSaveStorageSlotsMax int

	// TickerInterval is how often the ticker renders a progress snapshot.
	TickerInterval time.Duration

	// BuddiesMax is the maximum number of concurrently attached peers,
	// used to size the per-claim account range cap.
	BuddiesMax int
}

// DefaultConfig returns the tunables used when a caller does not override
// them.
func DefaultConfig() Config {
	return Config{
		PivotBlockDistanceMin:                      128,
		PivotBlockDistanceThrottledPivotChangeMin:   256,
		PivotTableLRUEntriesMax:                     64,
		HealAccountsCoverageTrigger:                 0.70,
		HealStorageSlotsTrigger:                     0.70,
		MaxTrieNodeFetch:                            1024,
		MaxStoragesFetch:                             128,
		MaxStoragesHeal:                              32,
		FetchRequestBytesLimit:                       2 << 20,
		MaxTimeoutErrors:                             2,
		ErrorBackoff:                                 5 * time.Second,
		SlowResponseThreshold:                        2 * time.Second,
		MinResponsePercent:                           10,
		StorageSlotsQuPrioThresh:                     5000,
		AccountsSaveProcessedChunksMax:                1000,
		AccountsSaveStorageSlotsMax:                   20000,
		TickerInterval:                                10 * time.Second,
		BuddiesMax:                                    16,
	}
}

// AccountRangeMax returns the largest span, in tags, that a single claim
// may cover, derived from BuddiesMax so that a full set of active peers can
// each hold a disjoint, non-trivial claim at once.
func (c Config) AccountRangeMax() NodeTag {
	if c.BuddiesMax <= 1 {
		return MaxNodeTag()
	}
	var nt NodeTag
	max := MaxNodeTag()
	divisor := uint256.NewInt(uint64(c.BuddiesMax))
	nt.v.Div(&max.v, divisor)
	return nt
}
