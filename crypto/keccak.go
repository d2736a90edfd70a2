// Package crypto provides the single hash primitive the snapshot-sync
// engine needs: Keccak-256, used to verify every trie node and account/
// storage leaf fetched from an untrusted peer against its claimed key.
package crypto

import (
	"golang.org/x/crypto/sha3"
)

// Keccak256 returns the Keccak-256 digest of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}
