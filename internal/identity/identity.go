// Package identity derives the node's stable ed25519 keypair and PeerID, and
// provides the signing helpers quotes and registers rely on. Derivation
// style (key load, address hashing, Wipe) is adapted from the teacher's
// wallet.go.
package identity

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
)

// SecretKeyFile is the on-disk filename for the raw 32-byte ed25519 seed,
// written with mode 0600 as specified in §6.
const SecretKeyFile = "secret-key"

// Identity bundles a node's signing keypair and derived PeerID.
type Identity struct {
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
	Peer kadid.Key
}

// PeerIDFromPublicKey derives the 256-bit PeerId by hashing the raw public
// key, matching the spec's "public key hashed yields a 256-bit PeerId".
func PeerIDFromPublicKey(pub ed25519.PublicKey) kadid.Key {
	return kadid.Key(sha256.Sum256(pub))
}

// New builds an Identity from a 32-byte ed25519 seed.
func New(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{Priv: priv, Pub: pub, Peer: PeerIDFromPublicKey(pub)}, nil
}

// Generate creates a fresh random Identity.
func Generate() (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := crand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: generate seed: %w", err)
	}
	defer Wipe(seed)
	return New(seed)
}

// LoadOrCreate reads the secret key from <dataDir>/secret-key, creating one
// with mode 0600 if absent, per §6's on-disk persistence contract.
func LoadOrCreate(dataDir string) (*Identity, error) {
	path := filepath.Join(dataDir, SecretKeyFile)
	seed, err := os.ReadFile(path)
	if err == nil {
		id, err := New(seed)
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: create data dir: %w", err)
	}
	seed = id.Priv.Seed()
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("identity: write %s: %w", path, err)
	}
	log.Infof("identity: generated new keypair, peer %s", id.Peer)
	return id, nil
}

// Sign signs msg with the node's private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.Priv, msg)
}

// Verify checks a signature made by pub over msg.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Wipe zeroes a byte slice in place, mirroring the teacher's wallet.Wipe.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
