package snap

import "errors"

// Transient peer errors. The claim held by the worker is returned to the
// batch's secondary unprocessed set and the worker backs off briefly. Each
// one adds to the buddy's error count (see Config.MaxTimeoutErrors), which
// is never reset; once the count reaches MaxTimeoutErrors the peer is
// zombied.
var (
	ErrResponseTimeout      = errors.New("snap: response timeout")
	ErrNetworkProblem       = errors.New("snap: network problem")
	ErrEmptyRequestArgs     = errors.New("snap: empty request arguments")
)

// Protocol violations. The peer is zombied immediately and its claim is
// released.
var (
	ErrAccountsMinTooSmall    = errors.New("snap: account range starts before requested origin")
	ErrAccountsMaxTooLarge    = errors.New("snap: account range exceeds requested limit")
	ErrNoAccountsForStateRoot = errors.New("snap: peer has no accounts for state root")
	ErrTooManyStorageSlots    = errors.New("snap: more storage slot lists than requested accounts")
	ErrNoStorageForAccounts   = errors.New("snap: peer has no storage for requested accounts")
	ErrNoByteCodesAvailable   = errors.New("snap: peer has none of the requested bytecodes")
	ErrTooManyByteCodes       = errors.New("snap: more bytecodes returned than requested")
	ErrNoTrieNodesAvailable   = errors.New("snap: peer has none of the requested trie nodes")
	ErrTooManyTrieNodes       = errors.New("snap: more trie nodes returned than requested")
	ErrAccountRangesOverlap   = errors.New("snap: account ranges overlap")
)

// Proof/hash mismatch errors. The peer is zombied and the claim released;
// the whole claim goes back, so no part of the response counts as processed.
var (
	ErrRlpEncoding            = errors.New("snap: malformed rlp in response")
	ErrMissingProof           = errors.New("snap: response carries no proof")
	ErrRootNodeMismatch       = errors.New("snap: proof does not chain to state root")
	ErrRightBoundaryProofFail = errors.New("snap: right boundary proof failed")
	ErrImportFailed           = errors.New("snap: import of verified data failed")
)

// Local fatal errors. Buddy.Run returns the error, which ends RunBuddies and
// every other worker with it; no pivot is retried automatically.
var (
	ErrTrieLoopAlert = errors.New("snap: cycle detected while inspecting trie")
)

// Benign conditions, logged but never escalated.
var (
	ErrNothingSerious = errors.New("snap: nothing serious")
	ErrTrieIsEmpty    = errors.New("snap: trie is empty")
	ErrNoAccountsYet  = errors.New("snap: no accounts processed yet")
)

// Checkpoint errors.
var (
	ErrTooManyProcessedChunks = errors.New("snap: too many processed chunks to checkpoint")
	ErrTooManySlotAccounts    = errors.New("snap: too many slot accounts to checkpoint")
)

// Scheduling/locking errors.
var (
	ErrTrieIsLockedForPerusal = errors.New("snap: trie is locked for perusal")
	ErrPivotArchived          = errors.New("snap: pivot has been archived")
)
