package nodelogic

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"storacore/internal/kadid"
)

// PaymentProof accompanies a put request: it names the quote the payment is
// answering and the on-chain transaction that carried the payment, per §4.E
// step 2. The core never inspects token amounts or chain state directly —
// only PaymentVerifier does — which keeps this package free of any
// blockchain-specific import, mirroring the teacher's own
// AIEngine/AIStubClient split in common_structs.go where the engine depends
// only on a narrow interface rather than the remote client's concrete type.
type PaymentProof struct {
	Quote  Quote
	TxHash [32]byte
}

// PaymentVerifier checks that a transaction hash is present on-chain and
// reports who it paid and how much. Concrete EVM verification is out of
// scope for this core; callers (cmd/storacore-node wiring) supply a real
// implementation.
type PaymentVerifier interface {
	VerifyOnChain(txHash [32]byte) (payee kadid.Key, amount uint64, found bool, err error)
}

// quoteWire is Quote's wire-safe shape: ExpiresAt collapses to unix
// nanoseconds since the CBOR mode used elsewhere in this module does not
// register a time.Time codec.
type quoteWire struct {
	Key       kadid.Key `cbor:"key"`
	Cost      uint64    `cbor:"cost"`
	Nonce     uint64    `cbor:"nonce"`
	ExpiresAt int64     `cbor:"expires_at"`
	Signer    kadid.Key `cbor:"signer"`
	Signature []byte    `cbor:"signature"`
}

func toQuoteWire(q *Quote) quoteWire {
	return quoteWire{
		Key:       q.Key,
		Cost:      q.Cost,
		Nonce:     q.Nonce,
		ExpiresAt: q.ExpiresAt.UnixNano(),
		Signer:    q.Signer,
		Signature: q.Signature,
	}
}

func (w quoteWire) toQuote() *Quote {
	return &Quote{
		Key:       w.Key,
		Cost:      w.Cost,
		Nonce:     w.Nonce,
		ExpiresAt: time.Unix(0, w.ExpiresAt),
		Signer:    w.Signer,
		Signature: w.Signature,
	}
}

// EncodeQuote serializes a quote for standalone wire transport, e.g. inside
// a QuotedAddr.Quote field.
func EncodeQuote(q *Quote) ([]byte, error) {
	return cbor.Marshal(toQuoteWire(q))
}

// DecodeQuote is the inverse of EncodeQuote.
func DecodeQuote(raw []byte) (*Quote, error) {
	var w quoteWire
	if err := cbor.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("nodelogic: decode quote: %w", err)
	}
	return w.toQuote(), nil
}

type paymentProofWire struct {
	Quote  quoteWire `cbor:"quote"`
	TxHash [32]byte  `cbor:"tx_hash"`
}

// EncodePaymentProof serializes a proof for transport inside a
// StoreChunkCmd's Payment field.
func EncodePaymentProof(p *PaymentProof) ([]byte, error) {
	w := paymentProofWire{Quote: toQuoteWire(&p.Quote), TxHash: p.TxHash}
	return cbor.Marshal(&w)
}

// decodePaymentProof is the inverse of EncodePaymentProof; it returns nil
// (rather than an error) on malformed input, matching the "treat as
// missing proof" handling in HandlePut.
func decodePaymentProof(raw []byte) *PaymentProof {
	if len(raw) == 0 {
		return nil
	}
	var w paymentProofWire
	if err := cbor.Unmarshal(raw, &w); err != nil {
		return nil
	}
	return &PaymentProof{Quote: *w.Quote.toQuote(), TxHash: w.TxHash}
}
