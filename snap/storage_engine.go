package snap

import (
	"github.com/eth2030/snapsync/core/types"
)

// StorageClaim is one unit of storage-slot work handed to a worker: either
// a whole account's storage trie (SubRange nil) or a partial sub-range left
// from a truncated fetch.
type StorageClaim struct {
	Pivot       *Pivot
	AccKey      types.Hash
	StorageRoot types.Hash
	SubRange    *NodeTagRange
	Inherit     bool
}

// ClaimStorage draws up to maxAccounts storage-work items from env,
// draining FetchStoragePart first (resumed partial fetches take priority
// over starting new full fetches), then FetchStorageFull. An item whose
// storage root is already present in db is marked Inherit and should be
// accepted without a network round-trip (see AcceptWorkItemAsIs).
func ClaimStorage(env *Pivot, db NodeSource, maxAccounts int) []StorageClaim {
	env.mu.Lock()
	defer env.mu.Unlock()

	var out []StorageClaim
	for root, entry := range env.FetchStoragePart {
		if len(out) >= maxAccounts {
			break
		}
		iv := entry.Slots.GetUnprocessed(MaxNodeTag())
		if iv == nil {
			delete(env.FetchStoragePart, root)
			continue
		}
		out = append(out, StorageClaim{Pivot: env, AccKey: entry.AccKey, StorageRoot: root, SubRange: iv})
		delete(env.FetchStoragePart, root)
		env.ParkedStorage[root] = struct{}{}
	}
	for root, entry := range env.FetchStorageFull {
		if len(out) >= maxAccounts {
			break
		}
		delete(env.FetchStorageFull, root)
		env.ParkedStorage[root] = struct{}{}
		inherit := false
		if _, err := db.Get(root); err == nil {
			inherit = true
		}
		out = append(out, StorageClaim{Pivot: env, AccKey: entry.AccKey, StorageRoot: root, Inherit: inherit})
	}
	return out
}

// AcceptWorkItemAsIs short-circuits a storage claim whose root is already
// fully present and dangling-free in the local database: no network
// fetch is needed, the sub-trie is simply marked complete.
func AcceptWorkItemAsIs(db NodeSource, claim StorageClaim) (bool, error) {
	if !claim.Inherit {
		return false, nil
	}
	res, err := InspectTrie(db, claim.StorageRoot, nil, nil, 0)
	if err != nil {
		return false, err
	}
	return len(res.Dangling) == 0, nil
}

// CommitStorage records a completed or partially-completed storage claim.
// The root is removed from ParkedStorage in both cases. If the fetch was
// truncated, the remainder is requeued as a resumable partial range;
// otherwise the pivot's slot-list counter is incremented.
func CommitStorage(env *Pivot, claim StorageClaim, consumed *NodeTagRange, truncated bool) {
	env.mu.Lock()
	defer env.mu.Unlock()

	delete(env.ParkedStorage, claim.StorageRoot)
	if truncated && consumed != nil {
		env.queueStorageLocked(claim.AccKey, claim.StorageRoot, &NodeTagRange{Min: consumed.Max.Inc(), Max: MaxNodeTag()})
		return
	}
	env.NSlotLists++
}

// ReleaseStorage returns a failed storage claim to the appropriate queue
// (full or partial, matching how it was drawn) so another worker may
// retry it.
func ReleaseStorage(env *Pivot, claim StorageClaim) {
	env.mu.Lock()
	defer env.mu.Unlock()

	delete(env.ParkedStorage, claim.StorageRoot)
	if claim.SubRange != nil {
		rb := NewRangeBatch()
		rb.Unprocessed[0].Clear()
		rb.Unprocessed[0].Merge(*claim.SubRange)
		env.FetchStoragePart[claim.StorageRoot] = storagePartEntry{AccKey: claim.AccKey, Slots: rb}
		return
	}
	env.FetchStorageFull[claim.StorageRoot] = storageFullEntry{AccKey: claim.AccKey}
}
