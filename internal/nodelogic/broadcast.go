package nodelogic

import (
	"time"

	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
	"storacore/internal/swarm"
	"storacore/internal/wire"
)

// GetStoreCost issues and records a fresh quote for key, implementing the
// quote-issuance half of §4.E. The store's current fullness is read at
// issuance time so the quote reflects this moment's capacity pressure.
func (n *NodeLogic) GetStoreCost(key kadid.Key) uint64 {
	used, capacity := n.store.Usage()
	cost := QuoteCost(n.self, key, used, capacity)
	q := SignQuote(n.id, key, cost, n.quotes.allocNonce(), time.Now())
	n.quotes.record(q)
	return cost
}

// announceReplication queues key/kind for the next periodic replication
// broadcast, implementing §4.E step 4's "on Stored, broadcast a replication
// notification (next list will carry it)".
func (n *NodeLogic) announceReplication(key kadid.Key, kind kadid.RecordKind) {
	n.pendingReplicationMu.Lock()
	n.pendingReplication = append(n.pendingReplication, wire.AddrKind{Addr: key, Kind: kind})
	n.pendingReplicationMu.Unlock()
}

// flushReplicationAnnouncements sends the queued replication entries as a
// single Cmd::Replicate to each of this node's current close-group
// neighbours.
func (n *NodeLogic) flushReplicationAnnouncements() {
	n.pendingReplicationMu.Lock()
	keys := n.pendingReplication
	n.pendingReplication = nil
	n.pendingReplicationMu.Unlock()
	if len(keys) == 0 {
		return
	}

	body, err := wire.Encode(wire.TypeReplicate, &wire.ReplicateCmd{Holder: n.self, Keys: keys})
	if err != nil {
		log.Warnf("nodelogic: encode replicate announcement: %v", err)
		return
	}
	env := &wire.Envelope{Type: wire.TypeReplicate, Body: body}
	for _, peer := range n.table.Closest(n.self, kadid.CloseGroupSize) {
		n.commands <- swarm.SendRequestCmd{Peer: peer, Request: env}
	}
}

// requestReplicationFromNeighbours sends the periodic RequestReplication
// self-query described in §4.E, asking each close-group neighbour to
// return their replication list.
func (n *NodeLogic) requestReplicationFromNeighbours() {
	body, err := wire.Encode(wire.TypeRequestReplication, &wire.RequestReplicationCmd{Sender: n.self})
	if err != nil {
		log.Warnf("nodelogic: encode request-replication: %v", err)
		return
	}
	env := &wire.Envelope{Type: wire.TypeRequestReplication, Body: body}
	for _, peer := range n.table.Closest(n.self, kadid.CloseGroupSize) {
		n.commands <- swarm.SendRequestCmd{Peer: peer, Request: env}
	}
}

// handleReplicationResponse processes an event-delivered SendRequestCmd
// outcome. A RequestReplication round-trip's response carries the
// neighbour's holder list, which feeds straight into the fetcher.
func (n *NodeLogic) handleReplicationResponse(peer kadid.Key, resp *wire.Envelope, err error) {
	if err != nil || resp == nil || resp.Type != wire.TypeRequestReplication {
		return
	}
	var result wire.ReplicationListResult
	if err := wire.DecodeBody(resp, &result); err != nil {
		return
	}
	n.feedReplicationList(peer, result.Keys)
}

// broadcastPeerConsideredAsBad sends a Cmd::PeerConsideredAsBad to this
// node's close-group neighbours once badPeer crosses violationThreshold.
func (n *NodeLogic) broadcastPeerConsideredAsBad(badPeer kadid.Key, reason string) {
	body, err := wire.Encode(wire.TypePeerConsideredAsBad, &wire.PeerConsideredAsBadCmd{
		DetectedBy:   n.self,
		BadPeer:      badPeer,
		BadBehaviour: reason,
	})
	if err != nil {
		log.Warnf("nodelogic: encode peer-considered-as-bad: %v", err)
		return
	}
	env := &wire.Envelope{Type: wire.TypePeerConsideredAsBad, Body: body}
	for _, peer := range n.table.Closest(n.self, kadid.CloseGroupSize) {
		if peer == badPeer {
			continue
		}
		n.commands <- swarm.SendRequestCmd{Peer: peer, Request: env}
	}
}
