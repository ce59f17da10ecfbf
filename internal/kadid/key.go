// Package kadid defines the 256-bit keyspace shared by routing, storage and
// replication: Key, XOR distance, and the NetworkAddress union that projects
// every record kind onto a Key for Kademlia purposes.
package kadid

import (
	"encoding/hex"
	"math/big"
	"sort"
)

// CloseGroupSize is the number of peers responsible for a given address (K).
const CloseGroupSize = 8

// CloseGroupMajority is the number of matching responses required to accept
// a value read from the close group.
const CloseGroupMajority = CloseGroupSize/2 + 1

// Key is a 256-bit identifier used for both PeerIds and record addresses.
type Key [32]byte

// String returns the lowercase hex encoding of the key.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether the key is the all-zero value.
func (k Key) IsZero() bool { return k == Key{} }

// Xor returns the bitwise XOR distance between two keys.
func Xor(a, b Key) Key {
	var out Key
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Distance returns the XOR distance between a and b as a big-endian integer,
// suitable for ordering comparisons.
func Distance(a, b Key) *big.Int {
	d := Xor(a, b)
	return new(big.Int).SetBytes(d[:])
}

// Less reports whether a is strictly closer to target than b.
func Less(target, a, b Key) bool {
	return Distance(target, a).Cmp(Distance(target, b)) < 0
}

// SortByDistance orders ids in place by increasing XOR distance to target.
func SortByDistance(target Key, ids []Key) {
	sort.Slice(ids, func(i, j int) bool {
		return Less(target, ids[i], ids[j])
	})
}

// ClosestN returns up to n entries of ids sorted by increasing distance to
// target. The input slice is not mutated.
func ClosestN(target Key, ids []Key, n int) []Key {
	cp := make([]Key, len(ids))
	copy(cp, ids)
	SortByDistance(target, cp)
	if len(cp) > n {
		cp = cp[:n]
	}
	return cp
}

// KeyFromHex parses a hex-encoded 256-bit key.
func KeyFromHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, err
	}
	var k Key
	if len(b) != len(k) {
		return Key{}, errKeyLength
	}
	copy(k[:], b)
	return k, nil
}
