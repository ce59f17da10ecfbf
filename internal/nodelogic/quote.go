// Package nodelogic implements the per-node business logic described in
// §4.E: the put-validation state machine, store-cost quoting, reputation
// reporting, and the periodic desync tasks that keep the routing table and
// replication lists warm. Quote signing mirrors the teacher's wallet.go
// SignTx: sign a hash of the canonical fields with ed25519, laid out as
// [64-byte sig || 32-byte pubkey] for stateless verification.
package nodelogic

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"storacore/internal/identity"
	"storacore/internal/kadid"
)

// QuoteValidity bounds how long an issued quote remains acceptable in a
// payment proof, the "freshness window" referenced in §4.E step 2.
const QuoteValidity = 10 * time.Minute

// Quote is the signed cost commitment a node hands out in response to
// GetStoreCost. Signature is computed over every other field via
// signingHash, matching the teacher's SignTx pattern of hashing canonical
// transaction fields before calling ed25519.Sign.
type Quote struct {
	Key       kadid.Key
	Cost      uint64
	Nonce     uint64
	ExpiresAt time.Time
	Signer    kadid.Key // PeerId of the issuing node, recovered from Signature
	Signature []byte    // [64]byte ed25519 sig || 32-byte pubkey, 96 bytes total
}

// signingHash hashes the fields a quote's signature must cover. ExpiresAt is
// folded in as a Unix nanosecond count to keep the hash deterministic.
func signingHash(key kadid.Key, cost, nonce uint64, expiresAt time.Time) [32]byte {
	var buf [32 + 8 + 8 + 8]byte
	copy(buf[:32], key[:])
	binary.BigEndian.PutUint64(buf[32:40], cost)
	binary.BigEndian.PutUint64(buf[40:48], nonce)
	binary.BigEndian.PutUint64(buf[48:56], uint64(expiresAt.UnixNano()))
	return sha256.Sum256(buf[:])
}

// SignQuote builds and signs a Quote over key/cost/nonce, bound to issuer's
// identity, expiring after QuoteValidity.
func SignQuote(issuer *identity.Identity, key kadid.Key, cost, nonce uint64, now time.Time) *Quote {
	expires := now.Add(QuoteValidity)
	hash := signingHash(key, cost, nonce, expires)
	sig := issuer.Sign(hash[:])

	signed := make([]byte, ed25519.SignatureSize+ed25519.PublicKeySize)
	copy(signed[:ed25519.SignatureSize], sig)
	copy(signed[ed25519.SignatureSize:], issuer.Pub)

	return &Quote{
		Key:       key,
		Cost:      cost,
		Nonce:     nonce,
		ExpiresAt: expires,
		Signer:    issuer.Peer,
		Signature: signed,
	}
}

// Verify checks q's signature against the embedded public key and confirms
// that key hashes to the claimed Signer PeerId, then checks freshness.
func (q *Quote) Verify(now time.Time) error {
	if len(q.Signature) != ed25519.SignatureSize+ed25519.PublicKeySize {
		return errors.New("nodelogic: malformed quote signature")
	}
	sig := q.Signature[:ed25519.SignatureSize]
	pub := ed25519.PublicKey(q.Signature[ed25519.SignatureSize:])

	if identity.PeerIDFromPublicKey(pub) != q.Signer {
		return errors.New("nodelogic: quote signer does not match embedded public key")
	}
	hash := signingHash(q.Key, q.Cost, q.Nonce, q.ExpiresAt)
	if !identity.Verify(pub, hash[:], sig) {
		return fmt.Errorf("nodelogic: quote signature invalid for key %s", q.Key)
	}
	if now.After(q.ExpiresAt) {
		return fmt.Errorf("nodelogic: quote for %s expired at %s", q.Key, q.ExpiresAt)
	}
	return nil
}
