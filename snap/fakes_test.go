package snap

import (
	"context"
	"errors"
	"sync"

	"github.com/eth2030/snapsync/core/types"
)

var errFakeNodeNotFound = errors.New("snap: fake node not found")

// fakeNodeSource is an in-memory NodeSource, the snap-package analogue of
// trie's mapNodeReader/mapNodeWriter fakes.
type fakeNodeSource struct {
	mu   sync.Mutex
	data map[types.Hash][]byte
}

func newFakeNodeSource() *fakeNodeSource {
	return &fakeNodeSource{data: make(map[types.Hash][]byte)}
}

func (f *fakeNodeSource) Get(key types.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, errFakeNodeNotFound
	}
	return v, nil
}

func (f *fakeNodeSource) Put(key types.Hash, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return nil
}

// fakePeer is a scriptable SnapPeer for exercising Buddy without a real
// network transport.
type fakePeer struct {
	id string

	accountResp func(AccountRangeRequest) (*AccountRangeResponse, error)
	storageResp func(StorageRangeRequest) (*StorageRangeResponse, error)
	codesResp   func(ByteCodesRequest) (*ByteCodesResponse, error)
	nodesResp   func(TrieNodesRequest) (*TrieNodesResponse, error)
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) RequestAccountRange(_ context.Context, req AccountRangeRequest) (*AccountRangeResponse, error) {
	if p.accountResp == nil {
		return &AccountRangeResponse{}, nil
	}
	return p.accountResp(req)
}

func (p *fakePeer) RequestStorageRanges(_ context.Context, req StorageRangeRequest) (*StorageRangeResponse, error) {
	if p.storageResp == nil {
		return &StorageRangeResponse{}, nil
	}
	return p.storageResp(req)
}

func (p *fakePeer) RequestByteCodes(_ context.Context, req ByteCodesRequest) (*ByteCodesResponse, error) {
	if p.codesResp == nil {
		return &ByteCodesResponse{}, nil
	}
	return p.codesResp(req)
}

func (p *fakePeer) RequestTrieNodes(_ context.Context, req TrieNodesRequest) (*TrieNodesResponse, error) {
	if p.nodesResp == nil {
		return &TrieNodesResponse{}, nil
	}
	return p.nodesResp(req)
}
