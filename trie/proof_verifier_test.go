package trie

import (
	"testing"

	"github.com/eth2030/snapsync/core/types"
)

// --- MPT proof verifier tests ---

func TestVerifyMPTProof_SimpleInclusion(t *testing.T) {
	tr := New()
	tr.Put([]byte("alpha"), []byte("one"))
	tr.Put([]byte("bravo"), []byte("two"))
	tr.Put([]byte("charlie"), []byte("three"))
	root := tr.Hash()

	for _, key := range []string{"alpha", "bravo", "charlie"} {
		proof, err := tr.Prove([]byte(key))
		if err != nil {
			t.Fatalf("Prove(%q): %v", key, err)
		}
		r, err := VerifyMPTProof(root, []byte(key), proof)
		if err != nil {
			t.Fatalf("VerifyMPTProof(%q): %v", key, err)
		}
		if !r.Exists {
			t.Errorf("expected key %q to exist", key)
		}
		if r.Value == nil {
			t.Errorf("expected non-nil value for %q", key)
		}
	}
}

func TestVerifyMPTProof_EmptyRoot(t *testing.T) {
	r, err := VerifyMPTProof(emptyRoot, []byte("missing"), nil)
	if err != nil {
		t.Fatalf("unexpected error for empty trie: %v", err)
	}
	if r.Exists {
		t.Error("key should not exist in empty trie")
	}
}

func TestVerifyMPTProof_WrongRoot(t *testing.T) {
	tr := New()
	tr.Put([]byte("key"), []byte("val"))
	root := tr.Hash()

	proof, _ := tr.Prove([]byte("key"))

	wrongRoot := root
	wrongRoot[0] ^= 0xff

	_, err := VerifyMPTProof(wrongRoot, []byte("key"), proof)
	if err == nil {
		t.Error("expected error for wrong root")
	}
}

func TestVerifyMPTProof_NilKey(t *testing.T) {
	_, err := VerifyMPTProof(types.Hash{}, nil, nil)
	if err != ErrProofNilInput {
		t.Errorf("expected ErrProofNilInput, got %v", err)
	}
}

func TestVerifyMPTProof_EmptyProofNonEmptyRoot(t *testing.T) {
	tr := New()
	tr.Put([]byte("x"), []byte("y"))
	root := tr.Hash()

	_, err := VerifyMPTProof(root, []byte("x"), nil)
	if err == nil {
		t.Error("expected error for empty proof on non-empty root")
	}
}

func TestVerifyMPTProof_AbsenceProof(t *testing.T) {
	tr := New()
	tr.Put([]byte("alpha"), []byte("one"))
	tr.Put([]byte("bravo"), []byte("two"))
	root := tr.Hash()

	proof, err := tr.ProveAbsence([]byte("charlie"))
	if err != nil {
		t.Fatalf("ProveAbsence: %v", err)
	}

	r, err := VerifyMPTProof(root, []byte("charlie"), proof)
	if err != nil {
		t.Fatalf("VerifyMPTProof absence: %v", err)
	}
	if r.Exists {
		t.Error("key should not exist")
	}
}

func TestVerifyMPTProof_TamperedProofNode(t *testing.T) {
	tr := New()
	tr.Put([]byte("foo"), []byte("bar"))
	root := tr.Hash()

	proof, _ := tr.Prove([]byte("foo"))

	tampered := make([][]byte, len(proof))
	copy(tampered, proof)
	last := make([]byte, len(proof[len(proof)-1]))
	copy(last, proof[len(proof)-1])
	last[0] ^= 0xff
	tampered[len(tampered)-1] = last

	_, err := VerifyMPTProof(root, []byte("foo"), tampered)
	if err == nil {
		t.Error("expected error for tampered proof")
	}
}

func TestVerifyMPTProof_MultipleKeys(t *testing.T) {
	tr := New()
	keys := []string{"a", "ab", "abc", "abcd", "b", "bc", "bcd", "c"}
	for _, k := range keys {
		tr.Put([]byte(k), []byte(k+"_val"))
	}
	root := tr.Hash()

	for _, k := range keys {
		proof, err := tr.Prove([]byte(k))
		if err != nil {
			t.Fatalf("Prove(%q): %v", k, err)
		}
		r, err := VerifyMPTProof(root, []byte(k), proof)
		if err != nil {
			t.Fatalf("VerifyMPTProof(%q): %v", k, err)
		}
		if !r.Exists {
			t.Errorf("%q should exist", k)
		}
		if string(r.Value) != k+"_val" {
			t.Errorf("value for %q: got %q, want %q", k, r.Value, k+"_val")
		}
	}
}

func TestVerifyMPTAbsence_Success(t *testing.T) {
	tr := New()
	tr.Put([]byte("exist"), []byte("yes"))
	root := tr.Hash()

	proof, _ := tr.ProveAbsence([]byte("nope"))
	if err := VerifyMPTAbsence(root, []byte("nope"), proof); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifyMPTAbsence_KeyExists(t *testing.T) {
	tr := New()
	tr.Put([]byte("exist"), []byte("yes"))
	root := tr.Hash()

	proof, _ := tr.Prove([]byte("exist"))
	err := VerifyMPTAbsence(root, []byte("exist"), proof)
	if err == nil {
		t.Error("expected error when key exists")
	}
}

// --- Multi-proof tests ---

func TestVerifyMultiProof_EmptyItems(t *testing.T) {
	_, err := VerifyMultiProof(types.Hash{}, nil)
	if err != ErrProofEmpty {
		t.Errorf("expected ErrProofEmpty, got %v", err)
	}
}

func TestVerifyMultiProof_NilKeyItem(t *testing.T) {
	items := []MultiProofItem{{Key: nil}}
	_, err := VerifyMultiProof(types.Hash{}, items)
	if err == nil {
		t.Error("expected error for nil key")
	}
}

func TestVerifyMultiProof_AllValid(t *testing.T) {
	tr := New()
	tr.Put([]byte("a"), []byte("1"))
	tr.Put([]byte("b"), []byte("2"))
	tr.Put([]byte("c"), []byte("3"))
	root := tr.Hash()

	items := make([]MultiProofItem, 3)
	for i, k := range []string{"a", "b", "c"} {
		proof, err := tr.Prove([]byte(k))
		if err != nil {
			t.Fatalf("Prove(%q): %v", k, err)
		}
		items[i] = MultiProofItem{Key: []byte(k), Proof: proof}
	}

	r, err := VerifyMultiProof(root, items)
	if err != nil {
		t.Fatalf("VerifyMultiProof: %v", err)
	}
	if len(r.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(r.Results))
	}
	for i, res := range r.Results {
		if !res.Exists {
			t.Errorf("result %d should exist", i)
		}
	}
}

func TestVerifyMultiProof_OneBadProof(t *testing.T) {
	tr := New()
	tr.Put([]byte("x"), []byte("y"))
	root := tr.Hash()

	proof, _ := tr.Prove([]byte("x"))

	tampered := make([][]byte, len(proof))
	copy(tampered, proof)
	tampered[0] = []byte{0xff, 0xfe, 0xfd}

	items := []MultiProofItem{
		{Key: []byte("x"), Proof: tampered},
	}
	_, err := VerifyMultiProof(root, items)
	if err == nil {
		t.Error("expected error for tampered proof item")
	}
}

func TestVerifyMultiProof_ValueMismatch(t *testing.T) {
	tr := New()
	tr.Put([]byte("k"), []byte("real"))
	root := tr.Hash()

	proof, _ := tr.Prove([]byte("k"))
	items := []MultiProofItem{
		{Key: []byte("k"), Value: []byte("wrong"), Proof: proof},
	}
	_, err := VerifyMultiProof(root, items)
	if err == nil {
		t.Error("expected error for value mismatch")
	}
}

func TestVerifyMultiProof_MixedExistAndAbsent(t *testing.T) {
	tr := New()
	tr.Put([]byte("exist"), []byte("val"))
	root := tr.Hash()

	proofExist, _ := tr.Prove([]byte("exist"))
	proofAbsent, _ := tr.ProveAbsence([]byte("absent"))

	items := []MultiProofItem{
		{Key: []byte("exist"), Proof: proofExist},
		{Key: []byte("absent"), Proof: proofAbsent},
	}
	r, err := VerifyMultiProof(root, items)
	if err != nil {
		t.Fatalf("VerifyMultiProof: %v", err)
	}
	if !r.Results[0].Exists {
		t.Error("first item should exist")
	}
	if r.Results[1].Exists {
		t.Error("second item should not exist")
	}
}
