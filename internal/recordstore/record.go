// Package recordstore implements the content-addressed, typed on-disk
// record store (Chunk / Register / Spend) that backs every node's share of
// the network. Atomic persistence and directory layout are adapted from the
// teacher's diskLRU in storage.go, generalized from a best-effort cache to a
// durable store with an fsync-before-rename step.
package recordstore

import (
	"time"

	"storacore/internal/kadid"
)

// MaxPacketSize bounds the size of a single record value.
const MaxPacketSize = 5 * 1024 * 1024

// Record is a single stored entry. Kind determines how Value is interpreted
// and validated; Publisher and Expires are optional metadata carried for
// Register/Spend bookkeeping and future TTL support.
type Record struct {
	Key       kadid.Key
	Value     []byte
	Publisher *kadid.Key
	Expires   *time.Time
	Kind      kadid.RecordKind
}

// Outcome tags the result of validate_and_store, mirroring the spec's
// Stored | Invalid | DoubleSpend | AlreadyPoisoned union.
type Outcome int

const (
	Stored Outcome = iota
	Invalid
	DoubleSpendDetected
	AlreadyPoisoned
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Invalid:
		return "invalid"
	case DoubleSpendDetected:
		return "double_spend"
	case AlreadyPoisoned:
		return "already_poisoned"
	default:
		return "unknown"
	}
}

// ValidateResult is the return value of validate_and_store.
type ValidateResult struct {
	Outcome Outcome
	// A, B hold the conflicting spend contents when Outcome is
	// DoubleSpendDetected; both are nil otherwise.
	A, B []byte
}
