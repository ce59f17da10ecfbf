package recordstore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"sort"
)

// RegisterPayload is the stored/wire form of a register value: a
// grow-only set of opaque entries plus the owner's signature over them.
// Merge is a CRDT union, so concurrent writers converge regardless of
// delivery order.
type RegisterPayload struct {
	Entries   [][]byte `json:"entries"`
	Signature []byte   `json:"signature"`
}

func EncodeRegisterPayload(p *RegisterPayload) ([]byte, error) {
	return json.Marshal(p)
}

func DecodeRegisterPayload(data []byte) (*RegisterPayload, error) {
	var p RegisterPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// registerSigningHash hashes a canonicalized (sorted, deduped) entry set so
// signature verification is independent of caller-supplied ordering.
func registerSigningHash(entries [][]byte) [32]byte {
	sorted := sortedUniqueEntries(entries)
	h := sha256.New()
	for _, e := range sorted {
		h.Write(e)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func verifyRegisterSignature(owner []byte, p *RegisterPayload) bool {
	if len(owner) != ed25519.PublicKeySize {
		return false
	}
	hash := registerSigningHash(p.Entries)
	return ed25519.Verify(owner, hash[:], p.Signature)
}

func sortedUniqueEntries(entries [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(entries))
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		k := string(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// mergeRegisterEntries unions existing and incoming entries by CRDT rules
// (union, deduped, deterministically ordered). changed reports whether the
// merged set differs from existing, so callers can treat a no-new-entries
// re-put as a no-op.
func mergeRegisterEntries(existing, incoming [][]byte) (merged [][]byte, changed bool) {
	existingUnique := sortedUniqueEntries(existing)
	merged = sortedUniqueEntries(append(append([][]byte{}, existingUnique...), incoming...))
	return merged, len(merged) != len(existingUnique)
}
