package swarm

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"storacore/internal/kadid"
	"storacore/internal/recordstore"
	"storacore/internal/wire"
)

// Command is the sealed set of operations accepted on the driver's command
// channel, per §4.D's "external callers interact exclusively by sending
// messages on the command channel" rule.
type Command interface{ isCommand() }

// GetClosestPeersCmd returns up to CLOSE_GROUP_SIZE peers nearest Target.
type GetClosestPeersCmd struct {
	Target kadid.Key
	Reply  chan<- []kadid.Key
}

func (GetClosestPeersCmd) isCommand() {}

// GetRecordOutcome tags the three possible results of a GetRecord command.
type GetRecordOutcome int

const (
	GetRecordFound GetRecordOutcome = iota
	GetRecordNotFound
	GetRecordDoubleSpend
	GetRecordTimeout
)

// GetRecordResult is delivered on a GetRecordCmd's reply channel.
type GetRecordResult struct {
	Outcome GetRecordOutcome
	Record  *recordstore.Record
	A, B    []byte
	Err     error
}

// GetRecordCmd fetches key from the close group, requiring Quorum matching
// responses, and honours Deadline for cancellation.
type GetRecordCmd struct {
	Key      kadid.Key
	Quorum   int
	Deadline time.Time
	Reply    chan<- GetRecordResult
}

func (GetRecordCmd) isCommand() {}

// PutRecordCmd stores a record locally via the validation pipeline and
// replies with the outcome.
type PutRecordCmd struct {
	Record  *recordstore.Record
	Payment []byte
	Reply   chan<- error
}

func (PutRecordCmd) isCommand() {}

// SendRequestResult is delivered on a SendRequestCmd's reply channel, when
// one was supplied.
type SendRequestResult struct {
	Response *wire.Envelope
	Err      error
}

// SendRequestCmd sends Request to Peer. If Reply is nil the response (or
// failure) is instead delivered as a ResponseEvent.
type SendRequestCmd struct {
	Peer    kadid.Key
	Request *wire.Envelope
	Reply   chan<- SendRequestResult
}

func (SendRequestCmd) isCommand() {}

// AddExternalAddressCandidateCmd is fire-and-forget: it feeds addr to the
// External-Address Manager.
type AddExternalAddressCandidateCmd struct {
	Addr ma.Multiaddr
}

func (AddExternalAddressCandidateCmd) isCommand() {}
