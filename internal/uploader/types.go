// Package uploader implements the Client Uploader described in §4.F: a
// batch pipeline that prices, pays for, and uploads records, retrying
// failed items against a different payee up to a bounded number of
// repayments. The pipeline shape — worker goroutines reporting into one
// result channel drained by a select loop — is grounded in the teacher's
// Replicator.Start/readLoop goroutine-plus-channel idiom in
// core/replication.go, scaled from one stage to three.
package uploader

import (
	"errors"

	"github.com/google/uuid"

	"storacore/internal/kadid"
	"storacore/internal/nodelogic"
)

// ItemKind distinguishes the two record shapes the uploader knows how to
// push: an immutable chunk, or a CRDT register that may need a pre-merge.
type ItemKind int

const (
	KindChunk ItemKind = iota
	KindRegister
)

// itemState is the per-item position in the NeedsCost -> NeedsPayment ->
// NeedsUpload state machine.
type itemState int

const (
	stateNeedsCost itemState = iota
	stateNeedsPayment
	stateNeedsUpload
	stateDone
	stateFailed
)

// CostStrategy selects which payee GetStoreCost should quote against.
// SelectDifferentPayee is used on the repayment path after two consecutive
// upload failures.
type CostStrategy int

const (
	StrategyDefault CostStrategy = iota
	StrategySelectDifferentPayee
)

// Sentinel errors surfaced on the item's terminal Error event, matching the
// named failure modes in spec.md §4.F.
var (
	ErrSequentialNetworkErrors      = errors.New("uploader: three sequential network errors fetching store cost")
	ErrSequentialUploadPaymentError = errors.New("uploader: three sequential payment errors")
	ErrMaxRepaymentsReached         = errors.New("uploader: maximum repayments reached for this item")
	ErrNotFound                     = errors.New("uploader: register not found remotely")
)

// UploadItem is one unit of work submitted to an Uploader run. Data holds
// the chunk payload for KindChunk, or the register's entry set for
// KindRegister (opaque to the uploader, passed through to Network).
type UploadItem struct {
	ID   uuid.UUID
	Key  kadid.Key
	Kind ItemKind
	Data []byte

	state              itemState
	strategy           CostStrategy
	networkErrors     int
	paymentErrors     int
	uploadErrors      int
	paymentsAttempted int
	quote             *nodelogic.Quote
	receipt           Receipt
}

// NewUploadItem builds an UploadItem with a fresh tracking ID.
func NewUploadItem(key kadid.Key, kind ItemKind, data []byte) UploadItem {
	return UploadItem{ID: uuid.New(), Key: key, Kind: kind, Data: data}
}

// EventKind tags the variant stored in an Event.
type EventKind int

const (
	EventChunkUploaded EventKind = iota
	EventRegisterUploaded
	EventRegisterUpdated
	EventAlreadyExists
	EventPaymentMade
	EventError
)

// Event is one entry in the uploader's reporting stream.
type Event struct {
	Kind   EventKind
	Key    kadid.Key
	Tokens uint64
	Err    error
}

// UploadSummary is the final tally returned once every item has reached a
// terminal state. FinalBalance is left to the caller's PaymentOption to
// populate after Wait returns — querying an account balance isn't part of
// the narrow Pay contract this package depends on, since the wallet/EVM
// side of payment is out of scope here.
type UploadSummary struct {
	StorageCost       uint64
	FinalBalance      uint64
	UploadedCount     int
	SkippedCount      int
	UploadedAddresses []kadid.Key
	UploadedRegisters []kadid.Key
}

// UploadFailedWithMaximumRepaymentsReached lists the items that exhausted
// their repayment budget, surfaced once a run completes.
type UploadFailedWithMaximumRepaymentsReached struct {
	Items []kadid.Key
}

func (e *UploadFailedWithMaximumRepaymentsReached) Error() string {
	return "uploader: items failed with maximum repayments reached"
}
