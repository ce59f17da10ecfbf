// Package replication implements the Replication Fetcher described in
// §4.C: it turns peer-advertised replication lists into a deduplicated,
// bounded fetch queue, and periodically challenges neighbours to prove
// they actually hold the chunks they claim. Queue/backoff shape and the
// readLoop/event-channel idiom are adapted from the teacher's
// core/replication.go Replicator (handleInv → RequestMissing → backoff),
// generalized from block-hash inventory to (NetworkAddress, RecordKind)
// replication-list exchange.
package replication

import (
	crand "crypto/rand"
	"math/big"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
	"storacore/internal/kbucket"
	"storacore/internal/recordstore"
)

// ReplicationPeersCount is the margin a reporting peer must fall within our
// closest peers before its replication list is trusted (CLOSE_GROUP_SIZE+2).
const ReplicationPeersCount = kadid.CloseGroupSize + 2

// maxPerPeerQueueDepth bounds how many still-pending entries a single
// reporting peer may contribute at once, protecting against one chatty or
// malicious peer crowding out everyone else's replication lists. The spec
// leaves the exact cap to the implementation ("small cap"); chosen to match
// one full periodic list from a close-group-sized neighbourhood.
const maxPerPeerQueueDepth = 256

// maxFetchAttempts bounds retries after a failed fetch before the Fetcher
// gives up on a key and waits for another peer to re-advertise it.
const maxFetchAttempts = 3

// backoffBase is the initial retry delay; each attempt doubles it.
const backoffBase = 2 * time.Second

// ReplicaAddr is one entry of a peer's replication list: an address and the
// record kind it is claimed to hold.
type ReplicaAddr struct {
	Addr kadid.Key
	Kind kadid.RecordKind
}

type fetchState struct {
	attempts    int
	nextAttempt time.Time
	sourcePeer  kadid.Key
	kind        kadid.RecordKind
}

// BadPeerEvent is emitted when a chunk-proof challenge against a peer fails.
type BadPeerEvent struct {
	Peer   kadid.Key
	Reason string
}

// ChunkProofChallenge asks a peer to return a byte range of a chunk we
// believe falls within its close range, to confirm it actually holds it.
type ChunkProofChallenge struct {
	Addr   kadid.Key
	Offset int
	Length int
}

// Fetcher accumulates KeysToFetch from peer replication lists and tracks
// in-flight fetches with bounded, backed-off retry.
type Fetcher struct {
	self  kadid.Key
	table *kbucket.Table
	store *recordstore.Store

	mu           sync.Mutex
	inFlight     map[kadid.Key]*fetchState
	perPeerDepth map[kadid.Key]int

	fetchEvents chan []ReplicaAddr
	badPeers    chan BadPeerEvent
}

// New creates a Fetcher bound to the local routing table and record store.
func New(self kadid.Key, table *kbucket.Table, store *recordstore.Store) *Fetcher {
	return &Fetcher{
		self:         self,
		table:        table,
		store:        store,
		inFlight:     make(map[kadid.Key]*fetchState),
		perPeerDepth: make(map[kadid.Key]int),
		fetchEvents:  make(chan []ReplicaAddr, 1),
		badPeers:     make(chan BadPeerEvent, 8),
	}
}

// FetchEvents delivers KeysToFetch batches for the Swarm Driver to issue as
// GetReplicatedData queries.
func (f *Fetcher) FetchEvents() <-chan []ReplicaAddr { return f.fetchEvents }

// BadPeerEvents delivers chunk-proof-challenge failures for Node Logic's
// reputation reporting.
func (f *Fetcher) BadPeerEvents() <-chan BadPeerEvent { return f.badPeers }

// ReceiveList processes one replication list advertised by peer h,
// implementing §4.C steps 1-4.
func (f *Fetcher) ReceiveList(h kadid.Key, list []ReplicaAddr) {
	if !f.table.InClosestN(f.self, h, ReplicationPeersCount) {
		log.Debugf("replication: dropping list from %s, not a close peer", h)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.store.AddressIndex()
	var toFetch []ReplicaAddr
	for _, e := range list {
		if kind, have := idx[e.Addr]; have && kind == e.Kind {
			continue
		}
		if !f.table.SelfInClosestN(e.Addr, kadid.CloseGroupSize) {
			continue
		}
		if _, inFlight := f.inFlight[e.Addr]; inFlight {
			continue
		}
		if f.perPeerDepth[h] >= maxPerPeerQueueDepth {
			log.Warnf("replication: per-peer queue depth exceeded for %s", h)
			break
		}
		f.inFlight[e.Addr] = &fetchState{sourcePeer: h, kind: e.Kind}
		f.perPeerDepth[h]++
		toFetch = append(toFetch, e)
	}

	if len(toFetch) == 0 {
		return
	}
	select {
	case f.fetchEvents <- toFetch:
	default:
		log.Warnf("replication: fetch-event channel full, dropping %d keys", len(toFetch))
		for _, e := range toFetch {
			delete(f.inFlight, e.Addr)
			f.perPeerDepth[h]--
		}
	}
}

// Complete clears a key's in-flight state. On failure it is re-enqueued
// after exponential backoff up to maxFetchAttempts, then abandoned.
func (f *Fetcher) Complete(addr kadid.Key, kind kadid.RecordKind, err error) {
	f.mu.Lock()
	st, ok := f.inFlight[addr]
	if !ok {
		f.mu.Unlock()
		return
	}
	if err == nil {
		delete(f.inFlight, addr)
		if st.sourcePeer != (kadid.Key{}) {
			f.perPeerDepth[st.sourcePeer]--
		}
		f.mu.Unlock()
		return
	}

	st.attempts++
	if st.attempts > maxFetchAttempts {
		delete(f.inFlight, addr)
		if st.sourcePeer != (kadid.Key{}) {
			f.perPeerDepth[st.sourcePeer]--
		}
		f.mu.Unlock()
		log.Warnf("replication: giving up on %s after %d attempts", addr, st.attempts)
		return
	}
	st.nextAttempt = time.Now().Add(backoffBase * time.Duration(1<<uint(st.attempts-1)))
	f.mu.Unlock()
}

// Tick requeues any backed-off retries whose delay has elapsed. It should
// be driven by the Swarm Driver's periodic timer.
func (f *Fetcher) Tick(now time.Time) {
	f.mu.Lock()
	var ready []ReplicaAddr
	for addr, st := range f.inFlight {
		if !st.nextAttempt.IsZero() && !now.Before(st.nextAttempt) {
			st.nextAttempt = time.Time{}
			ready = append(ready, ReplicaAddr{Addr: addr, Kind: st.kind})
		}
	}
	f.mu.Unlock()
	if len(ready) == 0 {
		return
	}
	select {
	case f.fetchEvents <- ready:
	default:
	}
}

// SelectChunkChallenge picks one of our Chunk records that falls inside
// peer's close range, for the periodic chunk-proof verification described
// in §4.C. It returns false if no such record is held.
func (f *Fetcher) SelectChunkChallenge(peer kadid.Key) (kadid.Key, bool) {
	idx := f.store.AddressIndex()
	var candidates []kadid.Key
	for addr, kind := range idx {
		if kind != kadid.KindChunk {
			continue
		}
		if f.table.InClosestN(addr, peer, kadid.CloseGroupSize) {
			candidates = append(candidates, addr)
		}
	}
	if len(candidates) == 0 {
		return kadid.Key{}, false
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return candidates[0], true
	}
	return candidates[n.Int64()], true
}

// VerifyChunkChallenge compares a peer's challenge response against the
// requested byte range of value.
func VerifyChunkChallenge(value []byte, offset, length int, response []byte) bool {
	if offset < 0 || length < 0 || offset+length > len(value) {
		return false
	}
	want := value[offset : offset+length]
	if len(want) != len(response) {
		return false
	}
	for i := range want {
		if want[i] != response[i] {
			return false
		}
	}
	return true
}
