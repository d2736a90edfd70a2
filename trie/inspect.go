package trie

import (
	"fmt"

	"github.com/eth2030/snapsync/core/types"
)

// ChildRef describes one child reference found while decoding a raw node,
// without resolving it. Healing and swap-in logic walk these references to
// find node keys that are not yet present in the local database, without
// needing to build a resolved Trie.
type ChildRef struct {
	// Nibble is the branch index (0-15) this child hangs off, or -1 for the
	// single child of an extension node.
	Nibble int
	// Path is the nibble path from the parent to this child (the extension's
	// key, or the single nibble for a branch entry).
	Path []byte
	// Hash is the child's node key. Zero if the child is embedded inline
	// (RLP < 32 bytes) rather than referenced by hash.
	Hash types.Hash
	// Embedded is true when the child is inlined in the parent's encoding
	// and therefore has no separate node key to fetch.
	Embedded bool
}

// DecodedNode is the shallow, non-recursive decoding of one raw trie node.
type DecodedNode struct {
	IsLeaf bool
	// Key is the nibble path consumed by this node (without HP terminator).
	Key []byte
	// Value holds the leaf value, only set when IsLeaf is true.
	Value []byte
	// Children holds child references. A leaf has none; an extension has
	// exactly one (Nibble == -1); a branch has up to sixteen. A value at
	// elems[16] is not a child: it is exposed as BranchValue, with IsLeaf
	// left false, since branch nodes are not leaves themselves.
	Children []ChildRef
	// BranchValue holds a value embedded at a branch node (elems[16]), if any.
	BranchValue []byte
}

// DecodeRawNode decodes a single RLP-encoded trie node into its shallow
// structure, following child references without resolving them. It is the
// basis for dangling-reference inspection during state healing: the caller
// walks Children, and for every non-Embedded entry whose Hash is absent from
// the node database, that subtree is incomplete.
func DecodeRawNode(data []byte) (*DecodedNode, error) {
	elems, err := decodeRLPList(data)
	if err != nil {
		return nil, fmt.Errorf("trie: inspect: %w", err)
	}

	switch len(elems) {
	case 2:
		key := compactToHex(elems[0])
		if hasTerm(key) {
			return &DecodedNode{
				IsLeaf: true,
				Key:    key[:len(key)-1],
				Value:  elems[1],
			}, nil
		}
		ref, embedded, err := decodeChildRef(elems[1])
		if err != nil {
			return nil, err
		}
		return &DecodedNode{
			Key: key,
			Children: []ChildRef{{
				Nibble:   -1,
				Path:     key,
				Hash:     ref,
				Embedded: embedded,
			}},
		}, nil

	case 17:
		dn := &DecodedNode{}
		for i := 0; i < 16; i++ {
			if len(elems[i]) == 0 {
				continue
			}
			ref, embedded, err := decodeChildRef(elems[i])
			if err != nil {
				return nil, err
			}
			dn.Children = append(dn.Children, ChildRef{
				Nibble:   i,
				Path:     []byte{byte(i)},
				Hash:     ref,
				Embedded: embedded,
			})
		}
		if len(elems[16]) > 0 {
			dn.BranchValue = elems[16]
		}
		return dn, nil

	default:
		return nil, fmt.Errorf("%w: expected 2 or 17 elements, got %d", errDecodeInvalid, len(elems))
	}
}

// decodeChildRef classifies a child reference as a 32-byte hash or an
// embedded inline node. Embedded nodes have no independent key to fetch.
func decodeChildRef(data []byte) (types.Hash, bool, error) {
	if len(data) == 0 {
		return types.Hash{}, true, nil
	}
	if len(data) == 32 {
		return types.BytesToHash(data), false, nil
	}
	return types.Hash{}, true, nil
}
