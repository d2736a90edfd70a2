// Package snap implements the core of a snapshot-sync engine: fetching
// sparse account and storage leaf ranges plus Merkle proofs from a
// fluctuating set of untrusted peers, verifying them, persisting them into
// a local hexary trie, and healing the remaining gaps by targeted node
// lookups.
package snap

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/snapsync/core/types"
)

// NodeTag is a 256-bit leaf-path key, reinterpreting a NodeKey hash as a
// big-endian unsigned integer. The leaf-key space is [0, 2^256-1].
type NodeTag struct {
	v uint256.Int
}

// NodeTagFromHash reinterprets a 32-byte hash as a NodeTag.
func NodeTagFromHash(h types.Hash) NodeTag {
	var nt NodeTag
	nt.v.SetBytes(h[:])
	return nt
}

// NodeTagFromUint64 builds a small NodeTag, useful in tests.
func NodeTagFromUint64(v uint64) NodeTag {
	var nt NodeTag
	nt.v.SetUint64(v)
	return nt
}

// Hash converts the tag back into its 32-byte wire representation.
func (t NodeTag) Hash() types.Hash { return types.Hash(t.v.Bytes32()) }

// Cmp orders two tags as unsigned 256-bit integers.
func (t NodeTag) Cmp(o NodeTag) int { return t.v.Cmp(&o.v) }

func (t NodeTag) Eq(o NodeTag) bool { return t.Cmp(o) == 0 }
func (t NodeTag) Lt(o NodeTag) bool { return t.Cmp(o) < 0 }
func (t NodeTag) Le(o NodeTag) bool { return t.Cmp(o) <= 0 }
func (t NodeTag) Gt(o NodeTag) bool { return t.Cmp(o) > 0 }
func (t NodeTag) Ge(o NodeTag) bool { return t.Cmp(o) >= 0 }

// IsZero reports whether the tag is 0.
func (t NodeTag) IsZero() bool { return t.v.IsZero() }

// MaxNodeTag is 2^256-1, the largest representable tag.
func MaxNodeTag() NodeTag {
	var nt NodeTag
	nt.v = *uint256.NewInt(0)
	nt.v.Not(&nt.v) // 0 - 1 wraps to all-ones
	return nt
}

// ZeroNodeTag is 0, the smallest representable tag.
func ZeroNodeTag() NodeTag { return NodeTag{} }

// Inc returns t+1, saturating at MaxNodeTag.
func (t NodeTag) Inc() NodeTag {
	if t.Eq(MaxNodeTag()) {
		return t
	}
	var nt NodeTag
	one := uint256.NewInt(1)
	nt.v.Add(&t.v, one)
	return nt
}

// Dec returns t-1, saturating at ZeroNodeTag.
func (t NodeTag) Dec() NodeTag {
	if t.IsZero() {
		return t
	}
	var nt NodeTag
	one := uint256.NewInt(1)
	nt.v.Sub(&t.v, one)
	return nt
}

// adjacent reports whether t immediately precedes o (t+1 == o), used by the
// range set to merge touching intervals into one.
func (t NodeTag) adjacent(o NodeTag) bool {
	return !t.Eq(MaxNodeTag()) && t.Inc().Eq(o)
}

// distancePlusOneBig returns (o - t + 1) as a big.Int, the number of tags in
// the inclusive span [t,o]. Used for FullFactor computation; 2^256 does not
// fit in a uint256.Int so big.Int is used for this one conversion.
func (t NodeTag) distancePlusOneBig(o NodeTag) *big.Int {
	lo := t.v.ToBig()
	hi := o.v.ToBig()
	d := new(big.Int).Sub(hi, lo)
	d.Add(d, big.NewInt(1))
	return d
}

// NodeTagRange is an inclusive interval [Min,Max] with Min <= Max.
type NodeTagRange struct {
	Min NodeTag
	Max NodeTag
}

// FullNodeTagRange spans the entire key space.
func FullNodeTagRange() NodeTagRange {
	return NodeTagRange{Min: ZeroNodeTag(), Max: MaxNodeTag()}
}

// Len returns the number of tags in the range as a big.Int (may be 2^256).
func (r NodeTagRange) Len() *big.Int { return r.Min.distancePlusOneBig(r.Max) }

// Contains reports whether t lies within [Min,Max].
func (r NodeTagRange) Contains(t NodeTag) bool { return r.Min.Le(t) && t.Le(r.Max) }

// Overlaps reports whether r and o share at least one tag.
func (r NodeTagRange) Overlaps(o NodeTagRange) bool {
	return r.Min.Le(o.Max) && o.Min.Le(r.Max)
}

// NodeSpecs identifies a trie node by the hex-nibble path from the state
// root and its expected hash. Data is a slot for the node's raw bytes;
// nothing in this package sets or reads it.
type NodeSpecs struct {
	PartialPath []byte
	NodeKey     types.Hash
	Data        []byte
}

// PackedAccount is one account leaf as returned by GetAccountRange: the
// keccak256 of the address and the RLP-encoded account body.
type PackedAccount struct {
	AccKey  types.Hash
	AccBlob []byte
}

// AccountSlotsHeader describes one account's storage trie as a unit of
// work: either the whole trie (SubRange nil) or a sub-range of it left
// over from a truncated response.
type AccountSlotsHeader struct {
	AccKey      types.Hash
	StorageRoot types.Hash
	SubRange    *NodeTagRange
}
