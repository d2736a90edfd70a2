package snap

import (
	"github.com/eth2030/snapsync/core/types"
)

// CheckpointRecord is the persisted shape of a pivot's batch state, enough
// to rehydrate scheduling after a restart without redownloading completed
// ranges.
type CheckpointRecord struct {
	Header       *types.Header
	NAccounts    uint64
	NSlotLists   uint64
	Processed    []NodeTagRange
	SlotAccounts []types.Hash
}

// SaveCheckpoint snapshots env's processed-range and slot-account state,
// failing if the checkpoint would be larger than the configured limits
// (an overlarge checkpoint is a sign the sync should simply continue
// rather than try to persist progress that will be cheaper to redo).
func SaveCheckpoint(env *Pivot, cfg Config) (*CheckpointRecord, error) {
	env.FetchAccounts.mu.Lock()
	processed := env.FetchAccounts.Processed.Ranges()
	env.FetchAccounts.mu.Unlock()

	if len(processed) == 0 {
		return nil, ErrNoAccountsYet
	}
	if len(processed) > cfg.AccountsSaveProcessedChunksMax {
		return nil, ErrTooManyProcessedChunks
	}

	env.mu.Lock()
	slotAccounts := make([]types.Hash, 0, len(env.FetchStorageFull)+len(env.FetchStoragePart)+len(env.ParkedStorage))
	seen := make(map[types.Hash]struct{})
	collect := func(root types.Hash, acc types.Hash) {
		if _, ok := seen[root]; ok {
			return
		}
		seen[root] = struct{}{}
		slotAccounts = append(slotAccounts, acc)
	}
	for root, e := range env.FetchStorageFull {
		collect(root, e.AccKey)
	}
	for root, e := range env.FetchStoragePart {
		collect(root, e.AccKey)
	}
	// Parked roots carry no account key; find one through the account index.
	env.StorageAccounts.mu.Lock()
	for tag, root := range env.StorageAccounts.byTag {
		if _, parked := env.ParkedStorage[root]; parked {
			collect(root, tag.Hash())
		}
	}
	env.StorageAccounts.mu.Unlock()
	env.mu.Unlock()

	if len(slotAccounts) > cfg.AccountsSaveStorageSlotsMax {
		return nil, ErrTooManySlotAccounts
	}

	return &CheckpointRecord{
		Header:       env.StateHeader,
		NAccounts:    env.NAccounts,
		NSlotLists:   env.NSlotLists,
		Processed:    processed,
		SlotAccounts: slotAccounts,
	}, nil
}

// RecoverPivotFromCheckpoint rehydrates a pivot's account batch from a
// saved record: Processed ranges are restored verbatim, and the
// complement is restored as Unprocessed[0]. For each slot account whose
// tag is within Processed, the local node database is consulted for the
// account's current storage root: if it is known, the storage work item is
// re-queued; if the account has vanished, its tag is moved from Processed
// back to Unprocessed[0] so the account is fetched again.
func RecoverPivotFromCheckpoint(rec *CheckpointRecord, lookupRoot func(acc types.Hash) (types.Hash, bool)) *Pivot {
	p := NewPivot(rec.Header)
	p.NAccounts = rec.NAccounts
	p.NSlotLists = rec.NSlotLists

	p.FetchAccounts.Unprocessed[0].Clear()
	p.FetchAccounts.Unprocessed[1].Clear()
	complement := NewFullRangeSet()
	for _, r := range rec.Processed {
		p.FetchAccounts.Processed.Merge(r)
		complement.Reduce(r)
	}
	p.FetchAccounts.Unprocessed[0] = complement

	for _, acc := range rec.SlotAccounts {
		tag := NodeTagFromHash(acc)
		iv := NodeTagRange{Min: tag, Max: tag}
		if p.FetchAccounts.Processed.Covered(iv).Sign() == 0 {
			// Account not actually processed; it will be re-fetched as
			// part of the account range, which will re-queue its storage.
			continue
		}
		root, ok := lookupRoot(acc)
		if !ok {
			// The account has vanished locally; fetch it again.
			p.FetchAccounts.Processed.Reduce(iv)
			p.FetchAccounts.Unprocessed[0].Merge(iv)
			continue
		}
		p.QueueStorage(acc, root, nil)
	}
	return p
}
