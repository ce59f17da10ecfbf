package wire

import "storacore/internal/kadid"

// AddrKind pairs a routing key with the record kind it addresses, the unit
// carried in a Cmd::Replicate holder list.
type AddrKind struct {
	Addr kadid.Key        `cbor:"addr"`
	Kind kadid.RecordKind `cbor:"kind"`
}

// --- Queries -----------------------------------------------------------

type GetChunkQuery struct {
	Addr kadid.Key `cbor:"addr"`
}

type GetRegisterQuery struct {
	Addr kadid.Key `cbor:"addr"`
}

type GetSpendQuery struct {
	Addr kadid.Key `cbor:"addr"`
}

type GetReplicatedDataQuery struct {
	Addr kadid.Key        `cbor:"addr"`
	Kind kadid.RecordKind `cbor:"kind"`
}

type GetStoreCostQuery struct {
	Addr kadid.Key `cbor:"addr"`
}

// --- Query results -------------------------------------------------------

// RecordResult is the shared shape for GetChunk/GetRegister/GetReplicatedData
// responses: a found flag, the raw value, and an optional error string for
// the NotFound/decode-failure case.
type RecordResult struct {
	Found bool   `cbor:"found"`
	Value []byte `cbor:"value,omitempty"`
	Error string `cbor:"error,omitempty"`
}

// SpendResult additionally distinguishes the DoubleSpend signal, which is
// not an error: A and B hold the conflicting contents.
type SpendResult struct {
	Found       bool   `cbor:"found"`
	Value       []byte `cbor:"value,omitempty"`
	DoubleSpend bool   `cbor:"double_spend,omitempty"`
	A           []byte `cbor:"a,omitempty"`
	B           []byte `cbor:"b,omitempty"`
	Error       string `cbor:"error,omitempty"`
}

type StoreCostResult struct {
	Cost  uint64 `cbor:"cost"`
	Error string `cbor:"error,omitempty"`
}

// --- Commands ------------------------------------------------------------

type StoreChunkCmd struct {
	Chunk   []byte `cbor:"chunk"`
	Payment []byte `cbor:"payment"`
}

type RegisterCmd struct {
	Addr  kadid.Key `cbor:"addr"`
	Owner []byte    `cbor:"owner"`
	Value []byte    `cbor:"value"`
}

type SpendDbcCmd struct {
	Addr  kadid.Key `cbor:"addr"`
	Spend []byte    `cbor:"spend"`
}

type ReplicateCmd struct {
	Holder kadid.Key  `cbor:"holder"`
	Keys   []AddrKind `cbor:"keys"`
}

type RequestReplicationCmd struct {
	Sender kadid.Key `cbor:"sender"`
}

type QuotedAddr struct {
	Addr  kadid.Key `cbor:"addr"`
	Quote []byte    `cbor:"quote"`
}

type QuoteVerificationCmd struct {
	Quotes []QuotedAddr `cbor:"quotes"`
}

type PeerConsideredAsBadCmd struct {
	DetectedBy   kadid.Key `cbor:"detected_by"`
	BadPeer      kadid.Key `cbor:"bad_peer"`
	BadBehaviour string    `cbor:"bad_behaviour"`
}

// --- Command results -------------------------------------------------------

// Ack is the generic Cmd result: Stored/Invalid/OutOfRange etc. collapse to
// a short outcome tag plus an optional reason, mirroring the typed result
// variants the record store and node logic already use internally.
type Ack struct {
	Outcome string `cbor:"outcome"`
	Reason  string `cbor:"reason,omitempty"`
}

// ReplicationListResult answers RequestReplicationCmd with the responder's
// own address index, used by the Replication Fetcher to diff against what
// it already holds.
type ReplicationListResult struct {
	Keys []AddrKind `cbor:"keys"`
}
