package nodelogic

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
)

// violationThreshold is the number of protocol violations or failed
// chunk-proofs from a single peer before this node reports it as bad to
// its close-group neighbours, per §4.E's reputation rule.
const violationThreshold = 3

// reputation tracks per-peer violation counts and incoming bad-peer reports
// from other close-group members.
type reputation struct {
	mu         sync.Mutex
	violations map[kadid.Key]int
	reportedBy map[kadid.Key]map[kadid.Key]struct{} // bad peer -> set of reporters
}

func newReputation() *reputation {
	return &reputation{
		violations: make(map[kadid.Key]int),
		reportedBy: make(map[kadid.Key]map[kadid.Key]struct{}),
	}
}

// recordViolation bumps peer's violation count and reports whether it just
// crossed violationThreshold, meaning this node should broadcast
// PeerConsideredAsBad.
func (r *reputation) recordViolation(peer kadid.Key) (crossed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations[peer]++
	return r.violations[peer] == violationThreshold
}

// recordReport remembers that detectedBy has accused badPeer, returning the
// number of distinct reporters seen for badPeer so far.
func (r *reputation) recordReport(detectedBy, badPeer kadid.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.reportedBy[badPeer]
	if !ok {
		set = make(map[kadid.Key]struct{})
		r.reportedBy[badPeer] = set
	}
	set[detectedBy] = struct{}{}
	return len(set)
}

// reportViolation records a violation against peer (when known) and, once
// it crosses violationThreshold, asks the caller to fan the report out to
// the close group. publisher is nil-safe since Record.Publisher is optional.
func (n *NodeLogic) reportViolation(peer *kadid.Key, reason string) {
	if peer == nil {
		return
	}
	if n.reputation.recordViolation(*peer) {
		n.broadcastPeerConsideredAsBad(*peer, reason)
	}
}

// receivePeerConsideredAsBad processes an inbound Cmd::PeerConsideredAsBad.
// If a majority of this node's own close group has now accused badPeer, the
// spec leaves the exact remedial action to the operator; the core logs and
// continues, per §4.E.
func (n *NodeLogic) receivePeerConsideredAsBad(detectedBy, badPeer kadid.Key, reason string) {
	count := n.reputation.recordReport(detectedBy, badPeer)
	if count >= kadid.CloseGroupMajority {
		log.Warnf("nodelogic: majority of close group (%d reports) now considers %s compromised: %s", count, badPeer, reason)
	}
}
