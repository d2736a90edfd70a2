package snap

// Reconciler migrates already-processed ranges from mothballed pivots into
// the current top pivot when they provably cover the same sub-trie,
// letting a pivot change reuse prior work instead of redownloading it.
type Reconciler struct {
	LoopMax int
}

// NewReconciler returns a reconciler with a sane default iteration bound.
func NewReconciler() *Reconciler { return &Reconciler{LoopMax: 8} }

// Run repeatedly decomposes top's CheckNodes against its own Processed set,
// classifies each resulting node as allocated (present in the node DB) or
// truly missing (sick), and for allocated nodes, looks for a sibling pivot
// whose trie resolves the same partial path to the same node key; if found,
// imports the intersection of that sibling's Processed range with the
// node's envelope. Iterates until nothing new merges or LoopMax rounds
// elapse.
func (rc *Reconciler) Run(cctx *CoordinatorCtx, top *Pivot) {
	others := cctx.Pivots.Others()
	if len(others) == 0 {
		return
	}

	for round := 0; round < rc.LoopMax; round++ {
		top.FetchAccounts.mu.Lock()
		checkNodes := top.FetchAccounts.CheckNodes
		top.FetchAccounts.CheckNodes = nil
		top.FetchAccounts.mu.Unlock()

		if len(checkNodes) == 0 {
			return
		}

		progressed := false
		var stillCheck [][]byte
		for _, path := range checkNodes {
			env := envelopeForPath(path)
			uncovered := subtractRange(env, top.FetchAccounts.Processed)
			if uncovered == nil {
				continue // fully covered already
			}

			nodeKey, err := resolvePartialPath(cctx.NodeDB, top.StateHeader.Root, path)
			if err == nil && !nodeKey.IsZero() {
				if _, err := cctx.NodeDB.Get(nodeKey); err == nil {
					// Allocated locally already; nothing to reconcile.
					continue
				}
			}

			merged := false
			for _, sibling := range others {
				if !sibling.Archived {
					continue
				}
				if sibling.FetchAccounts.Processed.Covered(*uncovered).Sign() == 0 {
					continue
				}
				top.FetchAccounts.Processed.Merge(*uncovered)
				top.FetchAccounts.Unprocessed[0].Reduce(*uncovered)
				top.FetchAccounts.Unprocessed[1].Reduce(*uncovered)
				merged = true
				progressed = true
				break
			}
			if !merged || subtractRange(env, top.FetchAccounts.Processed) != nil {
				stillCheck = append(stillCheck, path)
			}
		}

		top.FetchAccounts.mu.Lock()
		top.FetchAccounts.CheckNodes = append(top.FetchAccounts.CheckNodes, stillCheck...)
		top.FetchAccounts.mu.Unlock()

		if !progressed {
			return
		}
	}
}

// envelopeForPath returns the range of leaf tags reachable through a node
// at the given nibble path: every nibble not fixed by the path ranges over
// its full 0x0-0xf span.
func envelopeForPath(path []byte) NodeTagRange {
	var minB, maxB [32]byte
	for i, nib := range path {
		byteIdx := i / 2
		if byteIdx >= 32 {
			break
		}
		if i%2 == 0 {
			minB[byteIdx] |= nib << 4
			maxB[byteIdx] |= nib << 4
		} else {
			minB[byteIdx] |= nib
			maxB[byteIdx] |= nib
		}
	}
	for i := len(path); i < 64; i++ {
		byteIdx := i / 2
		if i%2 == 0 {
			maxB[byteIdx] |= 0xf0
		} else {
			maxB[byteIdx] |= 0x0f
		}
	}
	var minT, maxT NodeTag
	minT.v.SetBytes(minB[:])
	maxT.v.SetBytes(maxB[:])
	return NodeTagRange{Min: minT, Max: maxT}
}

// subtractRange returns the portion of iv not already in have, or nil if
// iv is fully covered. When have splits iv into multiple remaining pieces
// this returns only the first; callers re-enqueue the rest on a later
// round via the checkNodes loop, consistent with "loop until fixpoint".
func subtractRange(iv NodeTagRange, have *RangeSet) *NodeTagRange {
	tmp := NewFullRangeSet()
	tmp.Clear()
	tmp.Merge(iv)
	for _, r := range have.Ranges() {
		tmp.Reduce(r)
	}
	rs := tmp.Ranges()
	if len(rs) == 0 {
		return nil
	}
	return &rs[0]
}
