package snap

import (
	"context"

	"github.com/eth2030/snapsync/core/types"
	"github.com/eth2030/snapsync/crypto"
	"github.com/eth2030/snapsync/trie"
)

// RunAccountHealer runs one oscillation of the account-trie healing loop
// against env: reconcile previously-missing nodes that have since arrived,
// inspect the trie for new danglings, and fetch a batch of them from b's
// peer.
func RunAccountHealer(ctx context.Context, b *Buddy, cctx *CoordinatorCtx, env *Pivot) error {
	env.FetchAccounts.mu.Lock()
	checkNodes := env.FetchAccounts.CheckNodes
	sick := env.FetchAccounts.SickSubTries
	resume := env.FetchAccounts.ResumeCtx
	env.FetchAccounts.CheckNodes = nil
	env.FetchAccounts.mu.Unlock()

	// Step 1: drop missing nodes that have since been filled in by another
	// worker, re-queuing their path for inspection instead.
	var stillMissing []NodeSpecs
	for _, w := range sick {
		if _, err := cctx.NodeDB.Get(w.NodeKey); err == nil {
			checkNodes = append(checkNodes, w.PartialPath)
			continue
		}
		stillMissing = append(stillMissing, w)
	}
	sick = stillMissing

	if len(checkNodes) > 0 || len(sick) == 0 {
		unlock, err := env.FetchAccounts.lockTriePerusal()
		if err != nil {
			return nil // another worker is already inspecting; try later
		}
		res, err := InspectTrie(cctx.NodeDB, env.StateHeader.Root, checkNodes, resume, 10000)
		unlock()
		if err != nil {
			return err
		}
		sick = append(sick, res.Dangling...)
		checkNodes = nil
		resume = res.Resume
	}

	if len(checkNodes) == 0 && len(sick) == 0 {
		env.FetchAccounts.mu.Lock()
		env.FetchAccounts.CheckNodes = nil
		env.FetchAccounts.SickSubTries = nil
		env.FetchAccounts.ResumeCtx = nil
		env.FetchAccounts.mu.Unlock()
		return nil
	}

	fetchCount := cctx.Cfg.MaxTrieNodeFetch
	if fetchCount > len(sick) {
		fetchCount = len(sick)
	}
	toFetch := sick[:fetchCount]
	sick = sick[fetchCount:]

	var newCheck [][]byte
	var newMissing []NodeSpecs
	if len(toFetch) > 0 {
		reports, err := fetchTrieNodes(ctx, b, cctx, env.StateHeader.Root, toFetch)
		// fetchTrieNodes returns no reports when the request failed or the
		// response was rejected; the nodes stay missing.
		if err != nil || reports == nil {
			newMissing = append(newMissing, toFetch...)
		} else {
			for i, rep := range reports {
				w := toFetch[i]
				switch {
				case rep.Err != nil || rep.Kind == NodeKindNone:
					newMissing = append(newMissing, w)
				case rep.Kind == NodeKindLeaf:
					accountHealedLeaf(cctx, env, rep)
				default:
					newCheck = append(newCheck, w.PartialPath)
				}
			}
		}
	}

	env.FetchAccounts.mu.Lock()
	env.FetchAccounts.CheckNodes = append(checkNodes, newCheck...)
	env.FetchAccounts.SickSubTries = append(sick, newMissing...)
	env.FetchAccounts.ResumeCtx = resume
	env.FetchAccounts.mu.Unlock()
	b.Stat.NHealed += len(toFetch)
	b.markHealed(len(toFetch))
	return nil
}

// accountHealedLeaf processes a leaf node recovered during healing: decode
// the account, record coverage, and if it has storage, enqueue that too.
//
// rep.NodeKey is the leaf's content hash (keccak256 of its RLP bytes) and
// is unrelated to the account's address-hash key; the account's true tag is
// the full 64-nibble path to the leaf, which is rep.PartialPath plus the
// suffix nibbles the leaf node itself carries in its hex-prefix-encoded key.
func accountHealedLeaf(cctx *CoordinatorCtx, env *Pivot, rep NodeReport) {
	dn, err := trie.DecodeRawNode(rep.Blob)
	if err != nil || !dn.IsLeaf {
		return
	}
	account, err := trie.DecodeAccount(dn.Value)
	if err != nil {
		return
	}
	full := append(append([]byte(nil), rep.PartialPath...), dn.Key...)
	accKey, ok := hashFromNibbles(full)
	if !ok {
		return
	}
	tag := NodeTagFromHash(accKey)
	iv := NodeTagRange{Min: tag, Max: tag}

	env.FetchAccounts.mu.Lock()
	env.FetchAccounts.Unprocessed[0].Reduce(iv)
	env.FetchAccounts.Unprocessed[1].Reduce(iv)
	env.FetchAccounts.Processed.Merge(iv)
	env.FetchAccounts.mu.Unlock()

	cctx.mergeCovered(iv)

	env.NAccounts++
	env.StorageAccounts.Set(tag, account.Root)
	if account.Root != types.EmptyRootHash {
		env.QueueStorage(accKey, account.Root, nil)
	}
}

// RunStorageHealer is the storage-trie analogue of RunAccountHealer. It
// heals the storage roots in env.ParkedStorage, each independently, at most
// MaxStoragesHeal of them per call. Roots still queued in FetchStorageFull
// or FetchStoragePart are not inspected.
func RunStorageHealer(ctx context.Context, b *Buddy, cctx *CoordinatorCtx, env *Pivot) error {
	env.mu.Lock()
	roots := make([]types.Hash, 0, len(env.ParkedStorage))
	for root := range env.ParkedStorage {
		roots = append(roots, root)
		if len(roots) >= cctx.Cfg.MaxStoragesHeal {
			break
		}
	}
	env.mu.Unlock()

	for _, root := range roots {
		res, err := InspectTrie(cctx.NodeDB, root, nil, nil, 10000)
		if err != nil {
			return err
		}
		if len(res.Dangling) == 0 {
			continue
		}
		fetchCount := cctx.Cfg.MaxTrieNodeFetch
		if fetchCount > len(res.Dangling) {
			fetchCount = len(res.Dangling)
		}
		if _, err := fetchTrieNodes(ctx, b, cctx, root, res.Dangling[:fetchCount]); err != nil {
			continue
		}
		b.Stat.NHealed += fetchCount
		b.markHealed(fetchCount)
	}
	return nil
}

// fetchTrieNodes requests raw node bytes for want from the peer, verifies
// each against its expected hash, imports it, and classifies it.
func fetchTrieNodes(ctx context.Context, b *Buddy, cctx *CoordinatorCtx, root types.Hash, want []NodeSpecs) ([]NodeReport, error) {
	paths := make([]TrieNodePath, len(want))
	for i, w := range want {
		paths[i] = TrieNodePath{AccountPath: w.PartialPath}
	}
	req := TrieNodesRequest{Root: root, Paths: paths, BytesLimit: cctx.Cfg.FetchRequestBytesLimit}

	resp, err := b.Peer.RequestTrieNodes(ctx, req)
	if err != nil {
		return nil, b.handleTransient(cctx, err)
	}
	if err := ValidateTrieNodesResponse(req, resp); err != nil {
		return nil, b.handleProtocolViolation(err)
	}

	reports := make([]NodeReport, len(want))
	for i, w := range want {
		reports[i] = NodeReport{PartialPath: w.PartialPath, NodeKey: w.NodeKey}
		if i >= len(resp.Nodes) {
			continue
		}
		blob := resp.Nodes[i]
		if got := types.BytesToHash(crypto.Keccak256(blob)); got != w.NodeKey {
			reports[i].Err = ErrRlpEncoding
			continue
		}
		if err := cctx.NodeDB.Put(w.NodeKey, blob); err != nil {
			reports[i].Err = ErrImportFailed
			continue
		}
		dn, err := trie.DecodeRawNode(blob)
		if err != nil {
			reports[i].Err = err
			continue
		}
		if dn.IsLeaf {
			reports[i].Kind = NodeKindLeaf
			reports[i].Blob = blob
		} else {
			reports[i].Kind = NodeKindBranch
		}
	}
	return reports, nil
}
