package snap

import (
	"math/big"
	"sync"

	"github.com/eth2030/snapsync/core/types"
)

// ResumeState is an opaque cursor into an in-progress trie inspection run,
// letting InspectTrie pick up where it left off after yielding.
type ResumeState struct {
	Path []byte
}

// RangeBatch is a per-pivot, per-kind scheduling unit: accounts, or one
// account's storage slots. It tracks what has been claimed, what remains,
// and what is known-dangling for the healer.
type RangeBatch struct {
	mu sync.Mutex

	// Unprocessed[0] is primary, Unprocessed[1] is secondary (receives
	// returned/failed claims and previously-seen ranges).
	Unprocessed [2]*RangeSet
	Processed   *RangeSet

	CheckNodes   [][]byte
	SickSubTries []NodeSpecs

	ResumeCtx *ResumeState

	triePerusalLocked bool
}

// NewRangeBatch returns a batch with the full key space unprocessed.
func NewRangeBatch() *RangeBatch {
	return &RangeBatch{
		Unprocessed: [2]*RangeSet{NewFullRangeSet(), NewRangeSet()},
		Processed:   NewRangeSet(),
	}
}

// lockTriePerusal acquires the inspection lock RAII-style: the caller must
// invoke the returned unlock func exactly once, normally via defer. Returns
// ErrTrieIsLockedForPerusal if already held.
func (b *RangeBatch) lockTriePerusal() (unlock func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.triePerusalLocked {
		return nil, ErrTrieIsLockedForPerusal
	}
	b.triePerusalLocked = true
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.triePerusalLocked = false
	}, nil
}

// GetUnprocessed draws the next claim of at most maxSpan tags from the
// batch: primary first, falling back to secondary, swapping them if
// primary is exhausted. Returns nil if both sets are empty.
func (b *RangeBatch) GetUnprocessed(maxSpan NodeTag) *NodeTagRange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Unprocessed[0].IsEmpty() && !b.Unprocessed[1].IsEmpty() {
		b.Unprocessed[0], b.Unprocessed[1] = b.Unprocessed[1], b.Unprocessed[0]
	}

	for _, set := range b.Unprocessed {
		if set.IsEmpty() {
			continue
		}
		iv := set.Ge(ZeroNodeTag())
		if iv == nil {
			continue
		}
		claim := *iv
		if claim.Len().Cmp(maxSpan.v.ToBig()) > 0 {
			claim.Max = addTag(claim.Min, maxSpan)
		}
		set.Reduce(claim)
		return &claim
	}
	return nil
}

// addTag returns min+span-1, saturating at MaxNodeTag, giving a claim of
// exactly span tags starting at min (or fewer, if it would overflow). Uses
// big.Int for the carry-aware add since the 256-bit add may overflow the
// fixed-width type.
func addTag(min NodeTag, span NodeTag) NodeTag {
	if span.IsZero() {
		return min
	}
	sum := new(big.Int).Add(min.v.ToBig(), span.v.ToBig())
	sum.Sub(sum, big.NewInt(1))
	maxTag := MaxNodeTag()
	maxBig := maxTag.v.ToBig()
	if sum.Cmp(maxBig) >= 0 {
		return maxTag
	}
	var nt NodeTag
	nt.v.SetFromBig(sum)
	return nt
}

// Commit records a successfully-fetched, successfully-verified interval as
// processed, and releases any unclaimed tail back to the secondary
// unprocessed set.
func (b *RangeBatch) Commit(claimed, consumed NodeTagRange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Processed.Merge(consumed)
	if consumed.Max.Lt(claimed.Max) {
		leftover := NodeTagRange{Min: consumed.Max.Inc(), Max: claimed.Max}
		b.Unprocessed[1].Merge(leftover)
	}
}

// Release returns a failed claim to the secondary unprocessed set in its
// entirety.
func (b *RangeBatch) Release(claimed NodeTagRange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Unprocessed[1].Merge(claimed)
}

// storageFullEntry associates a storage root with the account that owns it,
// for whole-subtree fetches.
type storageFullEntry struct {
	AccKey types.Hash
}

// storagePartEntry associates a storage root with the account that owns it
// plus the remaining sub-range of a truncated fetch.
type storagePartEntry struct {
	AccKey types.Hash
	Slots  *RangeBatch
}

// storageAccountIndex maps an account's NodeTag to its storage root. It is
// an unordered map; SaveCheckpoint uses it to find the account of a parked
// storage root.
type storageAccountIndex struct {
	mu      sync.Mutex
	byTag   map[NodeTag]types.Hash
}

func newStorageAccountIndex() *storageAccountIndex {
	return &storageAccountIndex{byTag: make(map[NodeTag]types.Hash)}
}

func (idx *storageAccountIndex) Set(acc NodeTag, root types.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byTag[acc] = root
}

func (idx *storageAccountIndex) Get(acc NodeTag) (types.Hash, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	r, ok := idx.byTag[acc]
	return r, ok
}

// Pivot is one candidate world-state snapshot being reconstructed, keyed
// by its state root.
type Pivot struct {
	StateHeader *types.Header

	FetchAccounts *RangeBatch

	mu               sync.Mutex
	FetchStorageFull map[types.Hash]storageFullEntry
	FetchStoragePart map[types.Hash]storagePartEntry
	ParkedStorage    map[types.Hash]struct{}
	StorageAccounts  *storageAccountIndex

	NAccounts  uint64
	NSlotLists uint64

	// Archived marks a mothballed pivot: still readable for swap-in, but
	// no worker may claim new work from it.
	Archived bool
}

// NewPivot creates a pivot for the given header with a fresh full-range
// account batch.
func NewPivot(header *types.Header) *Pivot {
	return &Pivot{
		StateHeader:      header,
		FetchAccounts:    NewRangeBatch(),
		FetchStorageFull: make(map[types.Hash]storageFullEntry),
		FetchStoragePart: make(map[types.Hash]storagePartEntry),
		ParkedStorage:    make(map[types.Hash]struct{}),
		StorageAccounts:  newStorageAccountIndex(),
	}
}

// QueueStorage enqueues an account's storage trie for fetching, in full or
// as a resumed partial range, unless it is already queued or parked.
func (p *Pivot) QueueStorage(accKey, storageRoot types.Hash, resume *NodeTagRange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueStorageLocked(accKey, storageRoot, resume)
}

// queueStorageLocked is QueueStorage's body, callable by other Pivot methods
// that already hold p.mu.
func (p *Pivot) queueStorageLocked(accKey, storageRoot types.Hash, resume *NodeTagRange) {
	if _, parked := p.ParkedStorage[storageRoot]; parked {
		return
	}
	if resume != nil {
		if entry, ok := p.FetchStoragePart[storageRoot]; ok {
			entry.Slots.Unprocessed[0].Merge(*resume)
			return
		}
		rb := NewRangeBatch()
		rb.Unprocessed[0].Clear()
		rb.Unprocessed[0].Merge(*resume)
		p.FetchStoragePart[storageRoot] = storagePartEntry{AccKey: accKey, Slots: rb}
		return
	}
	if _, ok := p.FetchStorageFull[storageRoot]; ok {
		return
	}
	p.FetchStorageFull[storageRoot] = storageFullEntry{AccKey: accKey}
}

// PivotRegistry is an LRU-ordered table of pivots keyed by state root. The
// most recently appended pivot is "top" and is the one workers schedule
// against; older pivots are mothballed and kept only for swap-in until
// evicted.
type PivotRegistry struct {
	mu     sync.Mutex
	order  []types.Hash // index 0 = top (most recent)
	byRoot map[types.Hash]*Pivot
	maxLen int
}

// NewPivotRegistry creates a registry bounded at maxLen entries.
func NewPivotRegistry(maxLen int) *PivotRegistry {
	return &PivotRegistry{
		byRoot: make(map[types.Hash]*Pivot),
		maxLen: maxLen,
	}
}

// Top returns the current (most recently appended) pivot, or nil if empty.
func (r *PivotRegistry) Top() *Pivot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil
	}
	return r.byRoot[r.order[0]]
}

// BeforeTop returns the second-most-recent pivot, or nil if there is none.
func (r *PivotRegistry) BeforeTop() *Pivot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) < 2 {
		return nil
	}
	return r.byRoot[r.order[1]]
}

// Others returns every pivot other than Top, oldest-appended-last, for the
// reconciler to walk when looking for swap-in sources.
func (r *PivotRegistry) Others() []*Pivot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pivot, 0, len(r.order)-1)
	for _, root := range r.order[1:] {
		out = append(out, r.byRoot[root])
	}
	return out
}

// Update appends a new pivot on top, evicting the second entry first if
// the table is at capacity (the top entry may still be needed by in-flight
// workers and is never evicted while it exists, only ever superseded).
func (r *PivotRegistry) Update(header *types.Header) *Pivot {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := NewPivot(header)
	r.order = append([]types.Hash{header.Root}, r.order...)
	r.byRoot[header.Root] = p

	for len(r.order) > r.maxLen {
		// Evict the second entry, i.e. index 1 of the *current* order,
		// never the top (index 0) and never the just-appended pivot.
		evictIdx := 1
		if len(r.order) <= 1 {
			break
		}
		victim := r.order[evictIdx]
		r.order = append(r.order[:evictIdx], r.order[evictIdx+1:]...)
		delete(r.byRoot, victim)
	}
	return p
}

// ReverseUpdate prepends (oldest-first) a pivot, used only during recovery
// when rehydrating checkpoints in ascending block order.
func (r *PivotRegistry) ReverseUpdate(header *types.Header) *Pivot {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := NewPivot(header)
	r.order = append(r.order, header.Root)
	r.byRoot[header.Root] = p
	return p
}

// MothballBeforeTop marks the second-most-recent pivot archived, freeing
// its workers to move to Top while keeping its StorageAccounts/
// FetchStorageFull available for swap-in.
func (r *PivotRegistry) MothballBeforeTop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) < 2 {
		return
	}
	p := r.byRoot[r.order[1]]
	p.Archived = true
}

// BeforeTopMostlyClean reports whether the second-most-recent pivot's
// account batch is close enough to done that it is safe to mothball: no
// unprocessed accounts remain and no check nodes are outstanding.
func (r *PivotRegistry) BeforeTopMostlyClean() bool {
	p := r.BeforeTop()
	if p == nil {
		return true
	}
	p.FetchAccounts.mu.Lock()
	defer p.FetchAccounts.mu.Unlock()
	return p.FetchAccounts.Unprocessed[0].IsEmpty() &&
		p.FetchAccounts.Unprocessed[1].IsEmpty() &&
		len(p.FetchAccounts.CheckNodes) == 0
}

// Len returns the number of pivots currently tracked.
func (r *PivotRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
