// Package types defines the small set of Ethereum data structures the
// snapshot-sync engine needs: hashes, addresses, accounts and block
// headers. It intentionally carries none of the EVM, transaction or
// consensus machinery of a full execution client.
package types

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/snapsync/crypto"
)

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash represents the 32-byte Keccak256 hash of data. It doubles as the
// wire representation of a NodeKey (trie node hash) and, reinterpreted as
// a big-endian integer, a NodeTag (leaf-path key).
type Hash [HashLength]byte

// Address represents the 20-byte address of an Ethereum account.
type Address [AddressLength]byte

// rlpEmptyString is the RLP encoding of the empty byte string (0x80), the
// value stored at every unset trie slot.
var rlpEmptyString = []byte{0x80}

// EmptyRootHash is the root hash of an empty Merkle-Patricia trie:
// keccak256(RLP("")).
var EmptyRootHash = BytesToHash(crypto.Keccak256(rlpEmptyString))

// EmptyCodeHash is keccak256 of the empty bytecode, the CodeHash of every
// externally-owned account.
var EmptyCodeHash = BytesToHash(crypto.Keccak256(nil))

func HexToHash(s string) Hash {
	var h Hash
	b, _ := hex.DecodeString(trimHexPrefix(s))
	h.SetBytes(b)
	return h
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// BytesToHash converts bytes to Hash, left-padding if shorter than 32 bytes
// and truncating from the left if longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// IntToHash converts a big.Int into its big-endian 32-byte representation.
// Used to turn a NodeTag back into wire-format bounds for a range request.
func IntToHash(v *big.Int) Hash {
	var h Hash
	v.FillBytes(h[:])
	return h
}

// Uint256ToHash converts a uint256.Int into its big-endian representation.
func Uint256ToHash(v *uint256.Int) Hash {
	return Hash(v.Bytes32())
}

// Big returns the hash reinterpreted as a big-endian unsigned integer.
func (h Hash) Big() *big.Int { return new(big.Int).SetBytes(h[:]) }

// Uint256 returns the hash reinterpreted as a 256-bit unsigned integer.
func (h Hash) Uint256() *uint256.Int { return new(uint256.Int).SetBytes(h[:]) }

func (h Hash) Bytes() []byte { return h[:] }
func (h Hash) Hex() string   { return fmt.Sprintf("0x%x", h[:]) }
func (h Hash) String() string { return h.Hex() }

func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

func (h Hash) IsZero() bool { return h == Hash{} }

// Cmp orders hashes as big-endian unsigned integers.
func (h Hash) Cmp(o Hash) int {
	for i := 0; i < HashLength; i++ {
		if h[i] != o[i] {
			if h[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return fmt.Sprintf("0x%x", a[:]) }
func (a Address) String() string { return a.Hex() }

func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// Account is the RLP body stored at an account trie leaf.
type Account struct {
	Nonce    uint64
	Balance  *big.Int
	Root     Hash   // storage trie root; EmptyRootHash if no storage
	CodeHash []byte // keccak256 of the contract code; EmptyCodeHash for EOAs
}

// NewEmptyAccount returns the account body of a freshly created EOA.
func NewEmptyAccount() Account {
	return Account{
		Balance:  new(big.Int),
		CodeHash: append([]byte(nil), EmptyCodeHash[:]...),
		Root:     EmptyRootHash,
	}
}

// Header is the subset of a block header the sync engine depends on: the
// block number (for pivot distance checks) and the state root it commits
// to reconstruct.
type Header struct {
	Number *big.Int
	Root   Hash
	Hash   Hash // keccak256 of the full RLP header; supplied by the caller
}
