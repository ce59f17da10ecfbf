package swarm

import (
	"storacore/internal/kadid"
	"storacore/internal/wire"
)

// Event is the sealed set of notifications the driver publishes for Node
// Logic to consume from its own select loop.
type Event interface{ isEvent() }

// RequestReceivedEvent bundles an inbound request with a ResponseChannel
// handle; the handler is expected to call Respond exactly once. Replicate
// and QuoteVerification requests are acked by the driver itself before it
// forwards them here, so their Respond is a no-op (§4.D).
type RequestReceivedEvent struct {
	From     kadid.Key
	Envelope *wire.Envelope
	Respond  func(*wire.Envelope) error
}

func (RequestReceivedEvent) isEvent() {}

// ResponseEvent delivers a SendRequestCmd's outcome when the caller passed
// a nil Reply channel, asking for event-based delivery instead.
type ResponseEvent struct {
	Peer     kadid.Key
	Response *wire.Envelope
	Err      error
}

func (ResponseEvent) isEvent() {}

// PeerIdentifiedEvent reports an identify exchange's advertised addresses,
// feeding the External-Address Manager's candidate reports.
type PeerIdentifiedEvent struct {
	Peer  kadid.Key
	Addrs []string
}

func (PeerIdentifiedEvent) isEvent() {}
