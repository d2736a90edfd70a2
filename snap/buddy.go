package snap

import (
	"context"
	"time"

	"github.com/eth2030/snapsync/core/types"
	"github.com/eth2030/snapsync/log"
	"github.com/eth2030/snapsync/trie"
)

// RunState is a peer worker's coarse lifecycle state.
type RunState int

const (
	Running RunState = iota
	StopRequested
	Stopped
)

// BuddyCtrl tracks a worker's run state plus the orthogonal zombie flag: a
// zombied peer is permanently unusable for the session even if its
// RunState is still Running.
type BuddyCtrl struct {
	state  RunState
	zombie bool
}

func (c *BuddyCtrl) RequestStop() { c.state = StopRequested }
func (c *BuddyCtrl) Stopped() bool { return c.state == Stopped }
func (c *BuddyCtrl) Zombie() bool   { return c.zombie }

// BuddyErrors accumulates per-peer error counts used to decide when to
// zombie a misbehaving or unresponsive peer.
type BuddyErrors struct {
	NTimeouts   int
	NNetworkErr int
	NNoData     int
	NComError   int
}

// BuddyStats tracks lightweight per-peer progress counters, surfaced via
// the ticker.
type BuddyStats struct {
	NAccountRanges int
	NStorageRanges int
	NHealed        int
}

// Buddy is one connected peer's worker loop.
type Buddy struct {
	Peer   SnapPeer
	Ctrl   BuddyCtrl
	Errs   BuddyErrors
	Stat   BuddyStats
	Ticker *Ticker

	log *log.Logger
}

// NewBuddy wraps a peer in a worker, ready to run.
func NewBuddy(peer SnapPeer, logger *log.Logger) *Buddy {
	if logger == nil {
		logger = log.Default()
	}
	return &Buddy{Peer: peer, log: logger.Module("snap.buddy").With("peer", peer.ID())}
}

func (b *Buddy) markAccounts(n int) {
	if b.Ticker != nil {
		b.Ticker.MarkAccounts(int64(n))
	}
}

func (b *Buddy) markStorage(n int) {
	if b.Ticker != nil {
		b.Ticker.MarkStorage(int64(n))
	}
}

func (b *Buddy) markHealed(n int) {
	if b.Ticker != nil {
		b.Ticker.MarkHealed(int64(n))
	}
}

// Run executes ExecSnapSyncAction in a loop against the registry's top
// pivot until the context is cancelled, the peer disconnects, or the peer
// becomes a zombie.
func (b *Buddy) Run(ctx context.Context, cctx *CoordinatorCtx) error {
	defer func() { b.Ctrl.state = Stopped }()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if b.Ctrl.state == StopRequested || b.Ctrl.zombie {
			return nil
		}
		env := cctx.Pivots.Top()
		if env == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		if err := b.ExecSnapSyncAction(ctx, cctx, env); err != nil {
			if isLocalFatal(err) {
				return err
			}
			// Transient/protocol/proof errors are already accounted for and
			// handled inside ExecSnapSyncAction; loop and try again.
		}
	}
}

// ExecSnapSyncAction runs one cycle of the peer worker state machine
// against env: drain storage if its queue is deep, then work on accounts,
// storage, and (once HealingOk) healing, in that priority order.
func (b *Buddy) ExecSnapSyncAction(ctx context.Context, cctx *CoordinatorCtx, env *Pivot) error {
	if env.Archived {
		return nil
	}

	if storageQueueDepth(env) > cctx.Cfg.StorageSlotsQuPrioThresh {
		if err := b.drainStorage(ctx, cctx, env); err != nil {
			return err
		}
	}

	if !env.FetchAccounts.Processed.IsFull() {
		if err := b.fetchAccountRange(ctx, cctx, env); err != nil {
			return err
		}
	}
	if err := b.drainStorage(ctx, cctx, env); err != nil {
		return err
	}
	if cctx.HealingOk(env) {
		if err := b.healAccounts(ctx, cctx, env); err != nil {
			return err
		}
	}
	if err := b.drainStorage(ctx, cctx, env); err != nil {
		return err
	}
	if cctx.HealingOk(env) {
		if err := b.healStorage(ctx, cctx, env); err != nil {
			return err
		}
	}
	if cctx.ByteCodes.Len() > 0 {
		if err := RunByteCodeDrain(ctx, b, cctx, cctx.Cfg.MaxStoragesFetch); err != nil {
			return err
		}
	}
	return nil
}

func storageQueueDepth(env *Pivot) int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.FetchStorageFull) + len(env.FetchStoragePart)
}

// fetchAccountRange claims one account range, requests it from the peer,
// verifies the proof, and imports the accounts.
func (b *Buddy) fetchAccountRange(ctx context.Context, cctx *CoordinatorCtx, env *Pivot) error {
	claim := ClaimAccountRange(env, cctx.Cfg)
	if claim == nil {
		return nil
	}

	req := AccountRangeRequest{
		Root:       env.StateHeader.Root,
		StartHash:  claim.Range.Min.Hash(),
		LimitHash:  claim.Range.Max.Hash(),
		BytesLimit: cctx.Cfg.FetchRequestBytesLimit,
	}

	start := time.Now()
	resp, err := b.Peer.RequestAccountRange(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		ReleaseAccountRange(claim)
		return b.handleTransient(cctx, err)
	}
	if elapsed > cctx.Cfg.SlowResponseThreshold {
		b.Errs.NTimeouts++
	}

	if err := ValidateAccountRangeResponse(req, resp); err != nil {
		ReleaseAccountRange(claim)
		return b.handleProtocolViolation(err)
	}

	consumed, err := b.importAccounts(cctx, env, req, resp)
	if err == ErrTrieIsEmpty {
		ReleaseAccountRange(claim)
		b.log.Debug("empty account range", "err", err)
		return nil
	}
	if err != nil {
		ReleaseAccountRange(claim)
		return b.handleProofError(err)
	}

	CommitAccountRange(cctx, claim, consumed)
	b.Stat.NAccountRanges++
	b.markAccounts(len(resp.Accounts))
	return nil
}

// importAccounts verifies the range proof against the state root and
// imports each account leaf, queuing its storage trie if non-empty.
func (b *Buddy) importAccounts(cctx *CoordinatorCtx, env *Pivot, req AccountRangeRequest, resp *AccountRangeResponse) (NodeTagRange, error) {
	if len(resp.Accounts) == 0 {
		return NodeTagRange{}, ErrTrieIsEmpty
	}
	if len(resp.Proof) == 0 {
		return NodeTagRange{}, ErrMissingProof
	}

	last := resp.Accounts[len(resp.Accounts)-1]
	_, err := trie.VerifyMPTProof(req.Root, last.AccKey[:], resp.Proof)
	if err != nil {
		return NodeTagRange{}, ErrRightBoundaryProofFail
	}

	env.FetchAccounts.mu.Lock()
	processed := env.FetchAccounts.Processed
	for _, acc := range resp.Accounts {
		tag := NodeTagFromHash(acc.AccKey)
		if processed.Covered(NodeTagRange{Min: tag, Max: tag}).Sign() != 0 {
			env.FetchAccounts.mu.Unlock()
			return NodeTagRange{}, ErrAccountRangesOverlap
		}
	}
	env.FetchAccounts.mu.Unlock()

	for _, acc := range resp.Accounts {
		account, err := trie.DecodeAccount(acc.AccBlob)
		if err != nil {
			return NodeTagRange{}, ErrRlpEncoding
		}
		if err := cctx.NodeDB.Put(acc.AccKey, acc.AccBlob); err != nil {
			return NodeTagRange{}, ErrImportFailed
		}
		env.NAccounts++
		env.StorageAccounts.Set(NodeTagFromHash(acc.AccKey), account.Root)
		if account.Root != types.EmptyRootHash {
			env.QueueStorage(acc.AccKey, account.Root, nil)
		}
		if len(account.CodeHash) > 0 {
			cctx.ByteCodes.Queue(types.BytesToHash(account.CodeHash))
		}
	}

	return NodeTagRange{Min: NodeTagFromHash(req.StartHash), Max: NodeTagFromHash(last.AccKey)}, nil
}

// drainStorage claims and processes a bounded batch of storage work items.
func (b *Buddy) drainStorage(ctx context.Context, cctx *CoordinatorCtx, env *Pivot) error {
	claims := ClaimStorage(env, cctx.NodeDB, cctx.Cfg.MaxStoragesFetch)
	for _, claim := range claims {
		if ok, err := AcceptWorkItemAsIs(cctx.NodeDB, claim); err == nil && ok {
			CommitStorage(env, claim, nil, false)
			continue
		}
		if err := b.fetchOneStorage(ctx, cctx, env, claim); err != nil {
			ReleaseStorage(env, claim)
			if isLocalFatal(err) {
				return err
			}
		}
	}
	return nil
}

func (b *Buddy) fetchOneStorage(ctx context.Context, cctx *CoordinatorCtx, env *Pivot, claim StorageClaim) error {
	startHash := ZeroNodeTag().Hash()
	limitHash := MaxNodeTag().Hash()
	if claim.SubRange != nil {
		startHash = claim.SubRange.Min.Hash()
		limitHash = claim.SubRange.Max.Hash()
	}

	req := StorageRangeRequest{
		Root:       env.StateHeader.Root,
		Accounts:   []types.Hash{claim.AccKey},
		StartHash:  startHash,
		LimitHash:  limitHash,
		BytesLimit: cctx.Cfg.FetchRequestBytesLimit,
	}
	resp, err := b.Peer.RequestStorageRanges(ctx, req)
	if err != nil {
		return b.handleTransient(cctx, err)
	}
	if err := ValidateStorageRangeResponse(req, resp); err != nil {
		return b.handleProtocolViolation(err)
	}

	slots := resp.Slots[0]
	if len(slots) == 0 {
		return ErrNoStorageForAccounts
	}
	last := slots[len(slots)-1]
	if _, err := trie.VerifyMPTProof(claim.StorageRoot, last.Key[:], resp.Proof); err != nil {
		return ErrRightBoundaryProofFail
	}
	for _, s := range slots {
		if err := cctx.NodeDB.Put(s.Key, s.Value); err != nil {
			return ErrImportFailed
		}
	}

	consumed := NodeTagRange{Min: NodeTagFromHash(startHash), Max: NodeTagFromHash(last.Key)}
	truncated := NodeTagFromHash(last.Key).Lt(NodeTagFromHash(limitHash))
	CommitStorage(env, claim, &consumed, truncated)
	b.Stat.NStorageRanges++
	b.markStorage(len(slots))
	return nil
}

func (b *Buddy) healAccounts(ctx context.Context, cctx *CoordinatorCtx, env *Pivot) error {
	return RunAccountHealer(ctx, b, cctx, env)
}

func (b *Buddy) healStorage(ctx context.Context, cctx *CoordinatorCtx, env *Pivot) error {
	return RunStorageHealer(ctx, b, cctx, env)
}

// handleTransient accounts a transient network error, sleeping briefly
// before returning, and zombies the peer after MaxTimeoutErrors.
func (b *Buddy) handleTransient(cctx *CoordinatorCtx, err error) error {
	b.Errs.NNetworkErr++
	if b.Errs.NNetworkErr+b.Errs.NTimeouts >= cctx.Cfg.MaxTimeoutErrors {
		b.Ctrl.zombie = true
		b.log.Warn("zombie: too many transient errors", "err", err)
		return nil
	}
	time.Sleep(cctx.Cfg.ErrorBackoff)
	return nil
}

// handleProtocolViolation zombies the peer immediately; there is nothing
// to retry with this peer for this request.
func (b *Buddy) handleProtocolViolation(err error) error {
	b.Ctrl.zombie = true
	b.log.Warn("zombie: protocol violation", "err", err)
	return nil
}

// handleProofError zombies the peer on a proof or hash mismatch.
func (b *Buddy) handleProofError(err error) error {
	b.Ctrl.zombie = true
	b.log.Warn("zombie: proof verification failed", "err", err)
	return nil
}

// isLocalFatal reports whether err should abort the worker loop entirely
// rather than be absorbed as a per-peer accounting event.
func isLocalFatal(err error) bool {
	return err == ErrTrieLoopAlert
}
