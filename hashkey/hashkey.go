// Package hashkey derives the stable hash_key a CacheObject is keyed
// by from a canonical byte encoding of its payload tuple. Grounded on
// the teacher's key.go/z.KeyToHash and the hashing libraries named in
// its go.mod.
package hashkey

import (
	"github.com/cespare/xxhash/v2"
	farm "github.com/dgryski/go-farm"
)

// Sum is the primary hash_key derivation used by entity.Tuple.HashKey.
func Sum(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Fallback computes an independent second hash of the same bytes. It is
// not used for keying; entity.Tuple.ClashKey exposes it, and
// store.CacheStore.ClashesWith uses it as a cheap sanity check that two
// distinct payloads landing on the same xxhash digest (possible, if
// astronomically unlikely) are flagged in diagnostics rather than
// silently colliding.
func Fallback(b []byte) uint64 {
	return farm.Hash64(b)
}
