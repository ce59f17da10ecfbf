package nodelogic

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
	"storacore/internal/recordstore"
	"storacore/internal/replication"
	"storacore/internal/wire"
)

// handleRequest dispatches one decoded inbound request to the matching
// query/command handler and sends exactly one response, per the driver's
// "Respond exactly once" contract. Replicate and QuoteVerification arrive
// here already acked by the driver (§4.D), carrying a no-op respond; they
// are routed to applyReplicate / applyQuoteVerification below.
func (n *NodeLogic) handleRequest(from kadid.Key, env *wire.Envelope, respond func(*wire.Envelope) error) {
	switch env.Type {
	case wire.TypeGetChunk:
		n.answerGetRecord(env, respond, kadid.KindChunk)
	case wire.TypeGetRegister:
		n.answerGetRecord(env, respond, kadid.KindRegister)
	case wire.TypeGetSpend:
		n.answerGetSpend(env, respond)
	case wire.TypeGetReplicatedData:
		n.answerGetReplicatedData(env, respond)
	case wire.TypeGetStoreCost:
		n.answerGetStoreCost(env, respond)
	case wire.TypeStoreChunk:
		n.answerStoreChunk(from, env, respond)
	case wire.TypeRegisterCmd:
		n.answerRegisterCmd(from, env, respond)
	case wire.TypeSpendDbc:
		n.answerSpendDbc(from, env, respond)
	case wire.TypeReplicate:
		n.applyReplicate(from, env)
	case wire.TypeRequestReplication:
		n.answerRequestReplication(env, respond)
	case wire.TypeQuoteVerification:
		n.applyQuoteVerification(from, env)
	case wire.TypePeerConsideredAsBad:
		n.answerPeerConsideredAsBad(env)
	default:
		log.Warnf("nodelogic: unknown request type %q from %s", env.Type, from)
	}
}

func respondAck(respond func(*wire.Envelope) error, t wire.MessageType, outcome, reason string) {
	if respond == nil {
		return
	}
	body, err := wire.Encode(t, &wire.Ack{Outcome: outcome, Reason: reason})
	if err != nil {
		return
	}
	_ = respond(&wire.Envelope{Type: t, Body: body})
}

func (n *NodeLogic) answerGetRecord(env *wire.Envelope, respond func(*wire.Envelope) error, kind kadid.RecordKind) {
	var q wire.GetChunkQuery
	if err := wire.DecodeBody(env, &q); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	rec, err := n.store.Get(q.Addr)
	result := wire.RecordResult{}
	if err != nil || rec.Kind != kind {
		result.Found = false
	} else {
		result.Found = true
		result.Value = rec.Value
	}
	body, encErr := wire.Encode(env.Type, &result)
	if encErr != nil || respond == nil {
		return
	}
	_ = respond(&wire.Envelope{Type: env.Type, Body: body})
}

func (n *NodeLogic) answerGetSpend(env *wire.Envelope, respond func(*wire.Envelope) error) {
	var q wire.GetSpendQuery
	if err := wire.DecodeBody(env, &q); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	rec, err := n.store.Get(q.Addr)
	result := wire.SpendResult{}
	var dsErr *recordstore.DoubleSpendError
	switch {
	case errors.As(err, &dsErr):
		result.DoubleSpend = true
		result.A, result.B = dsErr.A, dsErr.B
	case err == nil && rec.Kind == kadid.KindSpend:
		result.Found = true
		result.Value = rec.Value
	}
	body, encErr := wire.Encode(env.Type, &result)
	if encErr != nil || respond == nil {
		return
	}
	_ = respond(&wire.Envelope{Type: env.Type, Body: body})
}

func (n *NodeLogic) answerGetReplicatedData(env *wire.Envelope, respond func(*wire.Envelope) error) {
	var q wire.GetReplicatedDataQuery
	if err := wire.DecodeBody(env, &q); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	rec, err := n.store.Get(q.Addr)
	result := wire.RecordResult{}
	if err == nil && rec.Kind == q.Kind {
		result.Found = true
		result.Value = rec.Value
	}
	body, encErr := wire.Encode(env.Type, &result)
	if encErr != nil || respond == nil {
		return
	}
	_ = respond(&wire.Envelope{Type: env.Type, Body: body})
}

// answerGetStoreCost issues a fresh quote for the requested key, per the
// quote-issuance rule in §4.E.
func (n *NodeLogic) answerGetStoreCost(env *wire.Envelope, respond func(*wire.Envelope) error) {
	var q wire.GetStoreCostQuery
	if err := wire.DecodeBody(env, &q); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	cost := n.GetStoreCost(q.Addr)
	body, encErr := wire.Encode(env.Type, &wire.StoreCostResult{Cost: cost})
	if encErr != nil || respond == nil {
		return
	}
	_ = respond(&wire.Envelope{Type: env.Type, Body: body})
}

func (n *NodeLogic) answerStoreChunk(from kadid.Key, env *wire.Envelope, respond func(*wire.Envelope) error) {
	var cmd wire.StoreChunkCmd
	if err := wire.DecodeBody(env, &cmd); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	addr := kadid.HashChunk(cmd.Chunk)
	req := PutRequest{
		Record:  &recordstore.Record{Key: addr.Hash, Value: cmd.Chunk, Kind: kadid.KindChunk, Publisher: &from},
		Payment: decodePaymentProof(cmd.Payment),
	}
	n.replyPut(env.Type, respond, n.HandlePut(req))
}

func (n *NodeLogic) answerRegisterCmd(from kadid.Key, env *wire.Envelope, respond func(*wire.Envelope) error) {
	var cmd wire.RegisterCmd
	if err := wire.DecodeBody(env, &cmd); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	req := PutRequest{
		Record: &recordstore.Record{Key: cmd.Addr, Value: cmd.Value, Kind: kadid.KindRegister, Publisher: &from},
	}
	n.replyPut(env.Type, respond, n.HandlePut(req))
}

func (n *NodeLogic) answerSpendDbc(from kadid.Key, env *wire.Envelope, respond func(*wire.Envelope) error) {
	var cmd wire.SpendDbcCmd
	if err := wire.DecodeBody(env, &cmd); err != nil {
		respondAck(respond, env.Type, "invalid", err.Error())
		return
	}
	req := PutRequest{
		Record: &recordstore.Record{Key: cmd.Addr, Value: cmd.Spend, Kind: kadid.KindSpend, Publisher: &from},
	}
	n.replyPut(env.Type, respond, n.HandlePut(req))
}

func (n *NodeLogic) replyPut(t wire.MessageType, respond func(*wire.Envelope) error, res PutResult) {
	if respond == nil {
		return
	}
	switch res.Outcome {
	case PutStored:
		respondAck(respond, t, "stored", "")
	case PutDoubleSpend:
		body, err := wire.Encode(t, &wire.SpendResult{DoubleSpend: true, A: res.A, B: res.B})
		if err != nil {
			return
		}
		_ = respond(&wire.Envelope{Type: t, Body: body})
	default:
		respondAck(respond, t, res.Outcome.String(), res.Reason)
	}
}

func (n *NodeLogic) answerRequestReplication(env *wire.Envelope, respond func(*wire.Envelope) error) {
	var cmd wire.RequestReplicationCmd
	_ = wire.DecodeBody(env, &cmd)
	idx := n.store.AddressIndex()
	keys := make([]wire.AddrKind, 0, len(idx))
	for addr, kind := range idx {
		keys = append(keys, wire.AddrKind{Addr: addr, Kind: kind})
	}
	body, err := wire.Encode(env.Type, &wire.ReplicationListResult{Keys: keys})
	if err != nil || respond == nil {
		return
	}
	_ = respond(&wire.Envelope{Type: env.Type, Body: body})
}

// applyReplicate feeds an inbound Cmd::Replicate holder list to the
// Replication Fetcher, which decides what (if anything) to fetch.
func (n *NodeLogic) applyReplicate(from kadid.Key, env *wire.Envelope) {
	var cmd wire.ReplicateCmd
	if err := wire.DecodeBody(env, &cmd); err != nil {
		return
	}
	n.feedReplicationList(from, cmd.Keys)
}

// feedReplicationList converts a wire-level holder list into the
// Replication Fetcher's ReplicaAddr shape and hands it off for dedup and
// queueing (§4.C).
func (n *NodeLogic) feedReplicationList(from kadid.Key, keys []wire.AddrKind) {
	if n.fetcher == nil {
		return
	}
	list := make([]replication.ReplicaAddr, 0, len(keys))
	for _, k := range keys {
		list = append(list, replication.ReplicaAddr{Addr: k.Addr, Kind: k.Kind})
	}
	n.fetcher.ReceiveList(from, list)
}

// applyQuoteVerification cross-checks quotes a neighbour is vouching for
// (typically while handing off a replicated record) against their own
// signature and freshness window; a peer that forwards malformed or
// expired quotes counts as a protocol violation toward reputation.
func (n *NodeLogic) applyQuoteVerification(from kadid.Key, env *wire.Envelope) {
	var cmd wire.QuoteVerificationCmd
	if err := wire.DecodeBody(env, &cmd); err != nil {
		return
	}
	now := time.Now()
	for _, qa := range cmd.Quotes {
		q, err := DecodeQuote(qa.Quote)
		if err != nil || q.Key != qa.Addr {
			n.reportViolation(&from, "malformed quote in QuoteVerification")
			continue
		}
		if err := q.Verify(now); err != nil {
			n.reportViolation(&from, "stale quote in QuoteVerification: "+err.Error())
		}
	}
}

func (n *NodeLogic) answerPeerConsideredAsBad(env *wire.Envelope) {
	var cmd wire.PeerConsideredAsBadCmd
	if err := wire.DecodeBody(env, &cmd); err != nil {
		return
	}
	n.receivePeerConsideredAsBad(cmd.DetectedBy, cmd.BadPeer, cmd.BadBehaviour)
}
