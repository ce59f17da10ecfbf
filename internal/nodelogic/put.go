package nodelogic

import (
	"fmt"
	"time"

	"storacore/internal/kadid"
	"storacore/internal/recordstore"
)

// Payable reports whether kind requires a payment proof before it may be
// stored. Spend records settle single-use control slots rather than
// arbitrary user data, so they carry no storage fee; Chunk and Register do.
func Payable(kind kadid.RecordKind) bool {
	return kind == kadid.KindChunk || kind == kadid.KindRegister
}

// PutOutcome mirrors recordstore.Outcome plus the payment-stage failures
// that can reject a request before it ever reaches the store.
type PutOutcome int

const (
	PutStored PutOutcome = iota
	PutInvalid
	PutDoubleSpend
	PutPaymentRequired
	PutPaymentInvalid
)

func (o PutOutcome) String() string {
	switch o {
	case PutStored:
		return "stored"
	case PutInvalid:
		return "invalid"
	case PutDoubleSpend:
		return "double_spend"
	case PutPaymentRequired:
		return "payment_required"
	case PutPaymentInvalid:
		return "payment_invalid"
	default:
		return "unknown"
	}
}

// PutResult is the outcome of HandlePut, including the conflicting pair
// when Outcome is PutDoubleSpend.
type PutResult struct {
	Outcome PutOutcome
	Reason  string
	A, B    []byte
}

// PutRequest bundles an inbound store request with its optional payment
// proof, as received over the wire (Cmd::StoreChunk / Cmd::Register /
// Cmd::SpendDbc all reduce to this shape once decoded).
type PutRequest struct {
	Record  *recordstore.Record
	Payment *PaymentProof
}

// HandlePut runs the put-validation state machine of §4.E: reject
// payable kinds that arrive without payment, verify the payment proof against a
// quote this node actually issued, then delegate to the record store.
func (n *NodeLogic) HandlePut(req PutRequest) PutResult {
	if req.Record == nil {
		return PutResult{Outcome: PutInvalid, Reason: "nil record"}
	}

	if Payable(req.Record.Kind) {
		if req.Payment == nil {
			return PutResult{Outcome: PutPaymentRequired, Reason: "payment proof required for " + req.Record.Kind.String()}
		}
		if err := n.verifyPayment(req.Record.Key, req.Payment); err != nil {
			return PutResult{Outcome: PutPaymentInvalid, Reason: err.Error()}
		}
	}

	result, err := n.store.ValidateAndStore(req.Record)
	if err != nil {
		n.reportViolation(req.Record.Publisher, "validate_and_store: "+err.Error())
		return PutResult{Outcome: PutInvalid, Reason: err.Error()}
	}

	switch result.Outcome {
	case recordstore.Stored:
		n.announceReplication(req.Record.Key, req.Record.Kind)
		return PutResult{Outcome: PutStored}
	case recordstore.DoubleSpendDetected:
		return PutResult{Outcome: PutDoubleSpend, A: result.A, B: result.B}
	case recordstore.AlreadyPoisoned:
		return PutResult{Outcome: PutDoubleSpend, Reason: "address already poisoned"}
	default:
		if req.Record.Publisher != nil {
			n.reportViolation(req.Record.Publisher, "invalid record")
		}
		return PutResult{Outcome: PutInvalid, Reason: "record rejected"}
	}
}

// verifyPayment implements §4.E step 2: the quote must be one we issued and
// not already redeemed, still fresh, and the on-chain transaction named in
// the proof must show the claimed cost paid to this node.
func (n *NodeLogic) verifyPayment(key kadid.Key, proof *PaymentProof) error {
	issued, ok := n.quotes.redeem(proof.Quote.Key, proof.Quote.Nonce)
	if !ok {
		return fmt.Errorf("nodelogic: quote %s/%d was not issued by this node or already redeemed", proof.Quote.Key, proof.Quote.Nonce)
	}
	if issued.Key != key {
		return fmt.Errorf("nodelogic: quote key %s does not match record key %s", issued.Key, key)
	}
	if err := issued.Verify(time.Now()); err != nil {
		return err
	}

	payee, amount, found, err := n.verifier.VerifyOnChain(proof.TxHash)
	if err != nil {
		return fmt.Errorf("nodelogic: on-chain verification failed: %w", err)
	}
	if !found {
		return fmt.Errorf("nodelogic: transaction %x not found on-chain", proof.TxHash)
	}
	if payee != n.self {
		return fmt.Errorf("nodelogic: payment routed to %s, not this node", payee)
	}
	if amount < issued.Cost {
		return fmt.Errorf("nodelogic: paid %d below quoted cost %d", amount, issued.Cost)
	}
	return nil
}
