package snap

import (
	"context"

	"github.com/eth2030/snapsync/core/types"
	"github.com/eth2030/snapsync/crypto"
)

// SnapPeer is the external collaborator representing one connected peer
// speaking the snap wire protocol. The transport framing itself (devp2p/
// RLPx) is out of scope; this engine only needs the four request shapes.
type SnapPeer interface {
	ID() string
	RequestAccountRange(ctx context.Context, req AccountRangeRequest) (*AccountRangeResponse, error)
	RequestStorageRanges(ctx context.Context, req StorageRangeRequest) (*StorageRangeResponse, error)
	RequestByteCodes(ctx context.Context, req ByteCodesRequest) (*ByteCodesResponse, error)
	RequestTrieNodes(ctx context.Context, req TrieNodesRequest) (*TrieNodesResponse, error)
}

// AccountRangeRequest asks a peer for accounts in [StartHash, LimitHash] at
// the given state root.
type AccountRangeRequest struct {
	Root       types.Hash
	StartHash  types.Hash
	LimitHash  types.Hash
	BytesLimit uint64
}

// AccountRangeResponse carries the accounts found plus a Merkle proof
// chaining them to Root.
type AccountRangeResponse struct {
	Accounts []PackedAccount
	Proof    [][]byte
}

// StorageRangeRequest asks for storage slots of one or more accounts,
// sharing a single [StartHash, LimitHash] window (the window applies only
// to the last account in Accounts; earlier accounts are returned in full).
type StorageRangeRequest struct {
	Root       types.Hash
	Accounts   []types.Hash
	StartHash  types.Hash
	LimitHash  types.Hash
	BytesLimit uint64
}

// StorageSlot is one (key,value) pair within an account's storage trie.
type StorageSlot struct {
	Key   types.Hash
	Value []byte
}

// StorageRangeResponse carries one slot list per requested account (in the
// same order) plus a proof for the last, possibly-truncated, list.
type StorageRangeResponse struct {
	Slots [][]StorageSlot
	Proof [][]byte
}

// ByteCodesRequest asks for contract bytecode by codeHash.
type ByteCodesRequest struct {
	Hashes     []types.Hash
	BytesLimit uint64
}

// ByteCodesResponse carries the bytecodes a peer had on hand, in no
// particular correspondence to the request order; callers must match by
// hash.
type ByteCodesResponse struct {
	Codes [][]byte
}

// TrieNodePath identifies one or more trie nodes to fetch for a single
// account: AccountPath alone requests an account-trie node, AccountPath
// plus SlotPaths requests storage-trie nodes of that account's sub-trie.
type TrieNodePath struct {
	AccountPath []byte
	SlotPaths   [][]byte
}

// TrieNodesRequest asks for raw trie node bytes by partial path.
type TrieNodesRequest struct {
	Root       types.Hash
	Paths      []TrieNodePath
	BytesLimit uint64
}

// TrieNodesResponse carries the nodes a peer had on hand, in request
// order as far as the peer is willing to supply them (a peer may omit
// trailing nodes it doesn't have).
type TrieNodesResponse struct {
	Nodes [][]byte
}

// ValidateAccountRangeResponse enforces the wire invariants of §6: non-
// empty unless the peer explicitly has nothing, first account not below
// the requested origin, and at most the very last account allowed to
// exceed the requested limit.
func ValidateAccountRangeResponse(req AccountRangeRequest, resp *AccountRangeResponse) error {
	if len(resp.Accounts) == 0 && len(resp.Proof) == 0 {
		return ErrNoAccountsForStateRoot
	}
	if len(resp.Accounts) == 0 {
		return nil
	}
	if resp.Accounts[0].AccKey.Cmp(req.StartHash) < 0 {
		return ErrAccountsMinTooSmall
	}
	if len(resp.Accounts) >= 2 {
		secondLargest := resp.Accounts[len(resp.Accounts)-2].AccKey
		if secondLargest.Cmp(req.LimitHash) > 0 {
			return ErrAccountsMaxTooLarge
		}
	}
	return nil
}

// ValidateStorageRangeResponse enforces that a response never claims more
// slot lists than accounts were requested, and is non-empty unless the
// peer explicitly has nothing.
func ValidateStorageRangeResponse(req StorageRangeRequest, resp *StorageRangeResponse) error {
	if len(resp.Slots) == 0 {
		return ErrNoStorageForAccounts
	}
	if len(resp.Slots) > len(req.Accounts) {
		return ErrTooManyStorageSlots
	}
	return nil
}

// ByteCodesOutcome classifies a ByteCodesResponse against the request.
type ByteCodesOutcome struct {
	// KVPairs maps a requested hash to the code that matched it.
	KVPairs map[types.Hash][]byte
	// Extra holds codes that did not match any requested hash.
	Extra [][]byte
	// LeftOver holds requested hashes the peer did not supply.
	LeftOver []types.Hash
}

// ValidateByteCodesResponse verifies every returned code against its
// claimed hash and classifies the result.
func ValidateByteCodesResponse(req ByteCodesRequest, resp *ByteCodesResponse) (*ByteCodesOutcome, error) {
	if len(resp.Codes) == 0 {
		return nil, ErrNoByteCodesAvailable
	}
	if len(resp.Codes) > len(req.Hashes) {
		return nil, ErrTooManyByteCodes
	}
	wanted := make(map[types.Hash]struct{}, len(req.Hashes))
	for _, h := range req.Hashes {
		wanted[h] = struct{}{}
	}

	out := &ByteCodesOutcome{KVPairs: make(map[types.Hash][]byte)}
	matched := make(map[types.Hash]struct{})
	for _, code := range resp.Codes {
		h := types.BytesToHash(crypto.Keccak256(code))
		if _, ok := wanted[h]; ok {
			out.KVPairs[h] = code
			matched[h] = struct{}{}
		} else {
			out.Extra = append(out.Extra, code)
		}
	}
	for _, h := range req.Hashes {
		if _, ok := matched[h]; !ok {
			out.LeftOver = append(out.LeftOver, h)
		}
	}
	return out, nil
}

// ValidateTrieNodesResponse enforces that a response never carries more
// nodes than the request could possibly satisfy.
func ValidateTrieNodesResponse(req TrieNodesRequest, resp *TrieNodesResponse) error {
	if len(resp.Nodes) == 0 {
		return ErrNoTrieNodesAvailable
	}
	want := 0
	for _, p := range req.Paths {
		if len(p.SlotPaths) == 0 {
			want++
		} else {
			want += len(p.SlotPaths)
		}
	}
	if len(resp.Nodes) > want {
		return ErrTooManyTrieNodes
	}
	return nil
}

// NodeReport describes the outcome of importing one raw trie node. Blob
// carries the verified raw bytes when Kind is NodeKindLeaf, so a caller can
// decode the account without a second round trip through the node database.
type NodeReport struct {
	PartialPath []byte
	NodeKey     types.Hash
	Kind        NodeKind
	Blob        []byte
	Err         error
}

// NodeKind classifies a decoded trie node for the healer.
type NodeKind int

const (
	NodeKindNone NodeKind = iota
	NodeKindLeaf
	NodeKindBranch
)

// SlotReport describes the outcome of importing one account's storage
// slot list.
type SlotReport struct {
	AccKey types.Hash
	Err    error
	Done   bool // true if the full requested range for this account arrived
}

// NodeSource is the abstract trie-node store the engine persists into and
// reads dangling-reference checks from. trie.NodeDatabase does not
// implement it (its methods are Node and InsertNode); tests use an
// in-memory fake.
type NodeSource interface {
	Get(key types.Hash) ([]byte, error)
	Put(key types.Hash, data []byte) error
}
