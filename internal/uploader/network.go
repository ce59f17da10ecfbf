package uploader

import (
	"context"

	"storacore/internal/kadid"
	"storacore/internal/nodelogic"
)

// Receipt is what a PaymentOption hands back for one paid quote, carrying
// enough to build the PaymentProof the network stage attaches to its
// upload call.
type Receipt struct {
	TxHash [32]byte
	Tokens uint64
}

// Network is the uploader's view of the overlay: an independent Swarm
// Driver instance configured for client mode, per spec.md §2's ownership
// note that "the Client Uploader owns an independent instance of the Swarm
// Driver configured for client mode." The uploader never reaches into
// internal/swarm directly, only through this seam, which keeps it testable
// without a live overlay.
type Network interface {
	GetStoreCost(ctx context.Context, key kadid.Key, strategy CostStrategy) (*nodelogic.Quote, error)
	GetRegister(ctx context.Context, key kadid.Key) ([]byte, error)
	UploadChunk(ctx context.Context, key kadid.Key, data []byte, proof *nodelogic.PaymentProof) error
	UploadRegister(ctx context.Context, key kadid.Key, data []byte, proof *nodelogic.PaymentProof) error
}

// PaymentOption pays for a batch of quotes off-core, in the vocabulary of
// the teacher's Escrow/OpenDeal/Release pair in storage.go, even though the
// concrete EVM settlement behind it is out of scope here. Receipts are
// returned in the same order as quotes.
type PaymentOption interface {
	Pay(ctx context.Context, quotes []nodelogic.Quote) ([]Receipt, error)
}
