package recordstore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
)

// SpendPayload is the stored/wire form of a single-spend record: the opaque
// content being spent, the derived public key the spend is bound to, and a
// signature over the content by that key.
type SpendPayload struct {
	Content    []byte `json:"content"`
	DerivedKey []byte `json:"derived_key"`
	Signature  []byte `json:"signature"`
}

func EncodeSpendPayload(p *SpendPayload) ([]byte, error) {
	return json.Marshal(p)
}

func DecodeSpendPayload(data []byte) (*SpendPayload, error) {
	var p SpendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// verifySpendSignature checks the signature binds the derived key, per the
// spec's "verify signature binds derived key".
func verifySpendSignature(p *SpendPayload) bool {
	if len(p.DerivedKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(p.DerivedKey, p.Content, p.Signature)
}

func spendContentHash(p *SpendPayload) [32]byte {
	return sha256.Sum256(p.Content)
}

func spendContentEqual(a, b *SpendPayload) bool {
	ha, hb := spendContentHash(a), spendContentHash(b)
	return bytes.Equal(ha[:], hb[:])
}
