package snap

import (
	"context"
	"sync"

	"github.com/eth2030/snapsync/core/types"
)

// ByteCodeQueue tracks contract code hashes discovered during account
// import that still need their bytecode downloaded. Unlike account and
// storage ranges, bytecodes are keyed by a flat hash with no ordering
// requirement, so a simple deduplicated set suffices.
type ByteCodeQueue struct {
	mu      sync.Mutex
	pending map[types.Hash]struct{}
}

// NewByteCodeQueue returns an empty queue.
func NewByteCodeQueue() *ByteCodeQueue {
	return &ByteCodeQueue{pending: make(map[types.Hash]struct{})}
}

// Queue adds codeHash to the pending set unless it is the hash of empty
// code, which never needs fetching.
func (q *ByteCodeQueue) Queue(codeHash types.Hash) {
	if codeHash == types.EmptyCodeHash {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[codeHash] = struct{}{}
}

// Drain removes and returns up to max pending hashes.
func (q *ByteCodeQueue) Drain(max int) []types.Hash {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.Hash, 0, max)
	for h := range q.pending {
		if len(out) >= max {
			break
		}
		out = append(out, h)
		delete(q.pending, h)
	}
	return out
}

// Requeue returns hashes to the pending set, used when a fetch fails.
func (q *ByteCodeQueue) Requeue(hashes []types.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range hashes {
		q.pending[h] = struct{}{}
	}
}

// Len reports the number of hashes still pending.
func (q *ByteCodeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// FetchByteCodes requests a batch of hashes from the peer, verifies each
// blob against its claimed hash, and writes the good ones to the node
// database. Hashes the peer did not supply, and the whole batch when the
// request fails or the response is rejected, are put back on the queue for
// another peer to try.
func FetchByteCodes(ctx context.Context, b *Buddy, cctx *CoordinatorCtx, hashes []types.Hash) error {
	req := ByteCodesRequest{Hashes: hashes, BytesLimit: cctx.Cfg.FetchRequestBytesLimit}
	resp, err := b.Peer.RequestByteCodes(ctx, req)
	if err != nil {
		cctx.ByteCodes.Requeue(hashes)
		return b.handleTransient(cctx, err)
	}
	outcome, err := ValidateByteCodesResponse(req, resp)
	if err != nil {
		cctx.ByteCodes.Requeue(hashes)
		return b.handleProtocolViolation(err)
	}
	for hash, code := range outcome.KVPairs {
		if err := cctx.NodeDB.Put(hash, code); err != nil {
			return ErrImportFailed
		}
	}
	cctx.ByteCodes.Requeue(outcome.LeftOver)
	return nil
}

// RunByteCodeDrain claims a batch of pending bytecode hashes and fetches
// them from b's peer, re-queuing whatever the peer didn't have.
func RunByteCodeDrain(ctx context.Context, b *Buddy, cctx *CoordinatorCtx, max int) error {
	hashes := cctx.ByteCodes.Drain(max)
	if len(hashes) == 0 {
		return nil
	}
	return FetchByteCodes(ctx, b, cctx, hashes)
}
