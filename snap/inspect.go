package snap

import (
	"github.com/eth2030/snapsync/core/types"
	"github.com/eth2030/snapsync/trie"
)

// InspectResult is the outcome of one InspectTrie run.
type InspectResult struct {
	Dangling []NodeSpecs
	Resume   *ResumeState
	Stopped  bool
}

// InspectTrie performs a cooperatively-yielding depth-first walk of a trie
// already partially present in db, starting from the partial paths in
// checkNodes (or resuming from resume if non-nil and checkNodes is empty).
// It returns every child reference whose node key is absent from db
// (dangling), stopping early once batchLimit nodes have been visited and
// recording a ResumeState the caller can pass back in to continue.
//
// A cycle (the same partial path visited twice within one run) returns
// ErrTrieLoopAlert; this can only happen if the local data is corrupt,
// since a well-formed trie is acyclic by construction.
func InspectTrie(db NodeSource, root types.Hash, checkNodes [][]byte, resume *ResumeState, batchLimit int) (*InspectResult, error) {
	res := &InspectResult{}
	if root.IsZero() || root == types.EmptyRootHash {
		return res, nil
	}

	visited := make(map[string]struct{})
	visits := 0

	var walk func(path []byte) error
	walk = func(path []byte) error {
		if batchLimit > 0 && visits >= batchLimit {
			res.Stopped = true
			return nil
		}
		key := string(path)
		if _, ok := visited[key]; ok {
			return ErrTrieLoopAlert
		}
		visited[key] = struct{}{}
		visits++

		nodeKey, err := resolvePartialPath(db, root, path)
		if err != nil || nodeKey.IsZero() {
			// The node itself (not just a child) is missing; record it as
			// dangling relative to its own path and stop descending.
			res.Dangling = append(res.Dangling, NodeSpecs{PartialPath: append([]byte(nil), path...), NodeKey: nodeKey})
			return nil
		}

		blob, err := db.Get(nodeKey)
		if err != nil || len(blob) == 0 {
			res.Dangling = append(res.Dangling, NodeSpecs{PartialPath: append([]byte(nil), path...), NodeKey: nodeKey})
			return nil
		}

		dn, err := trie.DecodeRawNode(blob)
		if err != nil {
			return err
		}
		if dn.IsLeaf {
			return nil
		}
		for _, child := range dn.Children {
			if child.Embedded {
				continue
			}
			childPath := append(append([]byte(nil), path...), child.Path...)
			if _, err := db.Get(child.Hash); err != nil {
				res.Dangling = append(res.Dangling, NodeSpecs{PartialPath: childPath, NodeKey: child.Hash})
				continue
			}
			if err := walk(childPath); err != nil {
				return err
			}
			if res.Stopped {
				return nil
			}
		}
		return nil
	}

	seeds := checkNodes
	if len(seeds) == 0 && resume != nil {
		seeds = [][]byte{resume.Path}
	}
	if len(seeds) == 0 {
		seeds = [][]byte{nil}
	}
	for _, p := range seeds {
		if err := walk(p); err != nil {
			return nil, err
		}
		if res.Stopped {
			res.Resume = &ResumeState{Path: p}
			return res, nil
		}
	}
	return res, nil
}

// hashFromNibbles packs a full 64-nibble path into its 32-byte big-endian
// representation. ok is false if path is not exactly 64 nibbles, i.e. it
// does not identify a single leaf position in a 256-bit keyspace.
func hashFromNibbles(path []byte) (h types.Hash, ok bool) {
	if len(path) != 64 {
		return types.Hash{}, false
	}
	for i, nib := range path {
		if i%2 == 0 {
			h[i/2] |= nib << 4
		} else {
			h[i/2] |= nib
		}
	}
	return h, true
}

// resolvePartialPath walks down from root along path, returning the node
// key at that position. This module does not carry the hash of every
// intermediate node separately from the trie itself, so descent re-walks
// from root each call; callers bound this cost via batchLimit.
func resolvePartialPath(db NodeSource, root types.Hash, path []byte) (types.Hash, error) {
	cur := root
	blob, err := db.Get(cur)
	if err != nil {
		return types.Hash{}, nil
	}
	for _, nibble := range path {
		dn, err := trie.DecodeRawNode(blob)
		if err != nil {
			return types.Hash{}, err
		}
		if dn.IsLeaf {
			return types.Hash{}, nil
		}
		found := false
		for _, child := range dn.Children {
			if child.Embedded {
				continue
			}
			if len(child.Path) == 1 && child.Path[0] == nibble {
				cur = child.Hash
				found = true
				break
			}
			if child.Nibble == -1 && len(child.Path) > 0 && child.Path[0] == nibble {
				cur = child.Hash
				found = true
				break
			}
		}
		if !found {
			return types.Hash{}, nil
		}
		blob, err = db.Get(cur)
		if err != nil {
			return types.Hash{}, nil
		}
	}
	return cur, nil
}
