// Package swarm implements the Swarm Driver described in §4.D: a
// single-threaded cooperative event loop that owns every piece of mutable
// core state (routing table projections, pending queries, the dialed/
// unroutable peer rings, the External-Address Manager) and is touched only
// from within its own task. Callers interact exclusively through the
// command channel and one-shot reply handles.
//
// The libp2p host/pubsub/mDNS wiring is adapted directly from the teacher's
// core/network.go (NewNode, HandlePeerFound, DialSeed) and
// core/peer_management.go (SendAsync's stream-per-message pattern); the
// command channel, pending-query bookkeeping, and ack-before-forward
// dispatch are new, built in the idiom of the teacher's
// Replicator.readLoop goroutine.
package swarm

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
	"storacore/internal/kbucket"
	"storacore/internal/recordstore"
	"storacore/internal/replication"
	"storacore/internal/swarm/externaladdr"
	"storacore/internal/wire"
)

// ProtocolID is the libp2p stream protocol the driver speaks, the
// storacore analogue of the teacher's "synnergy-repl/1" protocolID.
const ProtocolID = protocol.ID("storacore/wire/1")

// Tuning constants pinned by §4.D.
const (
	DialedPeersCap      = 63
	UnroutablePeersCap  = 127
	RequestTimeout      = 30 * time.Second
	RequestKeepAlive    = 30 * time.Second
	QueryTimeout        = 5 * time.Minute
	tickInterval        = 5 * time.Second
)

type pendingGetRecord struct {
	reply    chan<- GetRecordResult
	key      kadid.Key
	quorum   *recordstore.ReadQuorum
	deadline time.Time
}

type pendingSendRequest struct {
	reply chan<- SendRequestResult
	peer  kadid.Key
}

type requestDone struct {
	id       uint64
	response *wire.Envelope
	err      error
}

type inboundMsg struct {
	from     kadid.Key
	envelope *wire.Envelope
	respond  func(*wire.Envelope) error
}

// Driver is the Swarm Driver's single-owner task and the state it owns.
type Driver struct {
	self    kadid.Key
	table   *kbucket.Table
	store   *recordstore.Store
	extAddr *externaladdr.Manager
	fetcher *replication.Fetcher

	host libp2phost.Host
	ps   *pubsub.PubSub

	commands    chan Command
	events      chan Event
	inbound     chan inboundMsg
	requestDone chan requestDone
	closing     chan struct{}

	dialedPeers     *peerRing
	unroutablePeers *peerRing

	pendingGetRecord map[uint64]*pendingGetRecord
	pendingSend      map[uint64]*pendingSendRequest
	pendingEventSend map[uint64]kadid.Key
	nextID           uint64

	peerAddrs map[kadid.Key]peer.ID
}

// New constructs a Driver and its libp2p host, registering the wire
// protocol handler and joining mDNS discovery, mirroring the teacher's
// NewNode.
func New(self kadid.Key, listenAddr string, table *kbucket.Table, store *recordstore.Store, extAddr *externaladdr.Manager, fetcher *replication.Fetcher, discoveryTag string) (*Driver, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("swarm: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("swarm: create pubsub: %w", err)
	}

	d := &Driver{
		self:              self,
		table:             table,
		store:             store,
		extAddr:           extAddr,
		fetcher:           fetcher,
		host:              h,
		ps:                ps,
		commands:          make(chan Command, 64),
		events:            make(chan Event, 10000),
		inbound:           make(chan inboundMsg, 64),
		requestDone:       make(chan requestDone, 64),
		closing:           make(chan struct{}),
		dialedPeers:      newPeerRing(DialedPeersCap),
		unroutablePeers:  newPeerRing(UnroutablePeersCap),
		pendingGetRecord: make(map[uint64]*pendingGetRecord),
		pendingSend:      make(map[uint64]*pendingSendRequest),
		pendingEventSend: make(map[uint64]kadid.Key),
		peerAddrs:        make(map[kadid.Key]peer.ID),
	}

	h.SetStreamHandler(ProtocolID, d.handleStream)
	if _, err := mdns.NewMdnsService(h, discoveryTag, d); err != nil {
		log.Warnf("swarm: mdns discovery unavailable: %v", err)
	}

	return d, nil
}

// Commands returns the send side of the command channel.
func (d *Driver) Commands() chan<- Command { return d.commands }

// Events returns the receive side of the event channel Node Logic consumes.
func (d *Driver) Events() <-chan Event { return d.events }

// Close stops the driver's loop and tears down the host.
func (d *Driver) Close() error {
	close(d.closing)
	return d.host.Close()
}

// Run is the driver's long-running cooperative event loop. It returns when
// ctx is cancelled or Close is called.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closing:
			return nil
		case cmd := <-d.commands:
			d.handleCommand(cmd)
		case msg := <-d.inbound:
			d.handleInbound(msg)
		case done := <-d.requestDone:
			d.handleRequestDone(done)
		case now := <-ticker.C:
			d.handleTick(now)
		}
	}
}

func (d *Driver) allocID() uint64 { return atomic.AddUint64(&d.nextID, 1) }

// handleCommand dispatches one command-channel message. It runs exclusively
// inside the driver's own task, so it may freely mutate driver state.
func (d *Driver) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case GetClosestPeersCmd:
		peers := d.table.Closest(c.Target, kadid.CloseGroupSize)
		trySendKeys(c.Reply, peers)

	case PutRecordCmd:
		_, err := d.store.ValidateAndStore(c.Record)
		trySendErr(c.Reply, err)

	case GetRecordCmd:
		d.startGetRecord(c)

	case SendRequestCmd:
		d.startSendRequest(c)

	case AddExternalAddressCandidateCmd:
		if d.extAddr != nil {
			if err := d.extAddr.ReportCandidate(c.Addr); err != nil {
				log.Debugf("swarm: candidate address rejected: %v", err)
			}
		}

	default:
		log.Warnf("swarm: unknown command %T", cmd)
	}
}

func trySendKeys(ch chan<- []kadid.Key, v []kadid.Key) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

func trySendErr(ch chan<- error, v error) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

// startGetRecord serves a locally-held record immediately (a documented
// simplification over a full iterative network quorum read — see
// DESIGN.md); otherwise it fans the query out to the closest peers and
// tracks responses in a ReadQuorum until majority or deadline.
func (d *Driver) startGetRecord(c GetRecordCmd) {
	rec, err := d.store.Get(c.Key)
	if err == nil {
		c.Reply <- GetRecordResult{Outcome: GetRecordFound, Record: rec}
		return
	}
	var dsErr *recordstore.DoubleSpendError
	if errors.As(err, &dsErr) {
		c.Reply <- GetRecordResult{Outcome: GetRecordDoubleSpend, A: dsErr.A, B: dsErr.B}
		return
	}

	id := d.allocID()
	quorum := recordstore.NewReadQuorum()
	d.pendingGetRecord[id] = &pendingGetRecord{
		reply:    c.Reply,
		key:      c.Key,
		quorum:   quorum,
		deadline: c.Deadline,
	}

	peers := d.table.Closest(c.Key, kadid.CloseGroupSize)
	for _, p := range peers {
		d.dispatchGetRecordQuery(id, p, c.Key)
	}
	if len(peers) == 0 {
		delete(d.pendingGetRecord, id)
		c.Reply <- GetRecordResult{Outcome: GetRecordNotFound}
	}
}

func (d *Driver) dispatchGetRecordQuery(queryID uint64, peerKey kadid.Key, key kadid.Key) {
	pid, ok := d.peerAddrs[peerKey]
	if !ok {
		return
	}
	q := wire.GetChunkQuery{Addr: key}
	body, err := wire.Encode(wire.TypeGetChunk, &q)
	if err != nil {
		return
	}
	env := &wire.Envelope{Type: wire.TypeGetChunk, Body: body}
	go d.roundTrip(queryID, pid, env)
}

// startSendRequest opens a stream to a peer and performs the request/
// response round trip in a worker goroutine, reporting back through
// requestDone so only the driver's own task ever mutates pendingSend.
func (d *Driver) startSendRequest(c SendRequestCmd) {
	pid, ok := d.peerAddrs[c.Peer]
	if !ok {
		if c.Reply != nil {
			c.Reply <- SendRequestResult{Err: fmt.Errorf("swarm: unknown peer %s", c.Peer)}
		}
		return
	}
	id := d.allocID()
	if c.Reply != nil {
		d.pendingSend[id] = &pendingSendRequest{reply: c.Reply, peer: c.Peer}
	} else {
		d.pendingEventSend[id] = c.Peer
	}
	go d.roundTrip(id, pid, c.Request)
}

// roundTrip performs one stream-based request/response exchange. It never
// touches driver state directly — only requestDone.
func (d *Driver) roundTrip(id uint64, pid peer.ID, req *wire.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	s, err := d.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		d.requestDone <- requestDone{id: id, err: err}
		return
	}
	defer s.Close()

	if err := wire.WriteRawEnvelope(s, req); err != nil {
		d.requestDone <- requestDone{id: id, err: err}
		return
	}
	resp, err := wire.ReadEnvelope(s)
	d.requestDone <- requestDone{id: id, response: resp, err: err}
}

func (d *Driver) handleRequestDone(done requestDone) {
	if pq, ok := d.pendingGetRecord[done.id]; ok {
		d.resolveGetRecordResponse(done.id, pq, done)
		return
	}
	if ps, ok := d.pendingSend[done.id]; ok {
		delete(d.pendingSend, done.id)
		select {
		case ps.reply <- SendRequestResult{Response: done.response, Err: done.err}:
		default:
		}
		return
	}
	if peerKey, ok := d.pendingEventSend[done.id]; ok {
		delete(d.pendingEventSend, done.id)
		d.publishEvent(ResponseEvent{Peer: peerKey, Response: done.response, Err: done.err})
	}
}

func (d *Driver) resolveGetRecordResponse(id uint64, pq *pendingGetRecord, done requestDone) {
	if done.err != nil || done.response == nil {
		return
	}
	var result wire.RecordResult
	if err := wire.DecodeBody(done.response, &result); err != nil || !result.Found {
		return
	}
	accepted, _ := pq.quorum.AddResponse(result.Value)
	if !accepted {
		return
	}
	delete(d.pendingGetRecord, id)
	pq.reply <- GetRecordResult{
		Outcome: GetRecordFound,
		Record:  &recordstore.Record{Key: pq.key, Value: result.Value},
	}
}

// handleInbound dispatches a decoded inbound request. Replicate and
// QuoteVerification are acknowledged before the payload is forwarded to
// Node Logic, since their senders do not await a reply (§4.D).
func (d *Driver) handleInbound(msg inboundMsg) {
	switch msg.envelope.Type {
	case wire.TypeReplicate, wire.TypeQuoteVerification:
		ack := wire.Ack{Outcome: "ok"}
		if body, err := wire.Encode(msg.envelope.Type, &ack); err == nil {
			_ = msg.respond(&wire.Envelope{Type: msg.envelope.Type, Body: body})
		}
		d.publishEvent(RequestReceivedEvent{
			From:     msg.from,
			Envelope: msg.envelope,
			Respond:  func(*wire.Envelope) error { return nil },
		})
	default:
		d.publishEvent(RequestReceivedEvent{
			From:     msg.from,
			Envelope: msg.envelope,
			Respond:  msg.respond,
		})
	}
}

func (d *Driver) publishEvent(e Event) {
	select {
	case d.events <- e:
	default:
		log.Warnf("swarm: event channel full, dropping %T", e)
	}
}

// handleTick expires overdue GetRecord queries and drives
// the replication fetcher's backoff retries.
func (d *Driver) handleTick(now time.Time) {
	for id, pq := range d.pendingGetRecord {
		if !pq.deadline.IsZero() && now.After(pq.deadline) {
			delete(d.pendingGetRecord, id)
			select {
			case pq.reply <- GetRecordResult{Outcome: GetRecordTimeout, Err: context.DeadlineExceeded}:
			default:
			}
		}
	}
	if d.fetcher != nil {
		d.fetcher.Tick(now)
	}
}

// handleStream is the libp2p stream handler, run in its own goroutine per
// incoming stream by the host; it only ever communicates with the driver's
// task via the inbound channel.
func (d *Driver) handleStream(s network.Stream) {
	defer s.Close()
	env, err := wire.ReadEnvelope(s)
	if err != nil {
		log.Debugf("swarm: read inbound envelope: %v", err)
		return
	}
	from := peerKeyFromLibp2p(s.Conn().RemotePeer())
	done := make(chan struct{})
	d.inbound <- inboundMsg{
		from:     from,
		envelope: env,
		respond: func(resp *wire.Envelope) error {
			defer close(done)
			return wire.WriteRawEnvelope(s, resp)
		},
	}
	select {
	case <-done:
	case <-time.After(RequestTimeout):
	}
}

// peerKeyFromLibp2p derives the PeerId the core uses from a libp2p peer.ID.
// The two are distinct identity spaces bridged here: libp2p peer.ID wraps
// the host's own transport keypair, while kadid.Key is the ed25519-derived
// PeerId from identity.PeerIDFromPublicKey. A production node records the
// pairing during an identify exchange; this hashes the raw peer.ID bytes as
// a placeholder projection until that exchange is wired in Node Logic. This
// is plain SHA-256 rather than kadid.HashChunk's multihash/CID digest: a
// libp2p peer.ID isn't chunk content, and it shouldn't be addressable as one.
func peerKeyFromLibp2p(p peer.ID) kadid.Key {
	return kadid.Key(sha256.Sum256([]byte(p)))
}

// Ensure Driver implements mdns.Notifee, matching the teacher's Node.
var _ mdns.Notifee = (*Driver)(nil)

// HandlePeerFound implements mdns.Notifee: dial a discovered peer and add
// it to the routing table, mirroring the teacher's Node.HandlePeerFound.
func (d *Driver) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == d.host.ID() {
		return
	}
	key := peerKeyFromLibp2p(info.ID)
	if d.unroutablePeers.Contains(key) {
		return
	}
	if d.dialedPeers.Contains(key) {
		return
	}
	d.dialedPeers.Add(key)

	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()
	if err := d.host.Connect(ctx, info); err != nil {
		log.Debugf("swarm: connect to discovered peer %s failed: %v", info.ID, err)
		return
	}
	d.peerAddrs[key] = info.ID
	d.table.AddPeer(key)
}

// DialSeed connects to the configured bootstrap multiaddrs, mirroring the
// teacher's Node.DialSeed.
func (d *Driver) DialSeed(seeds []string) error {
	var lastErr error
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			lastErr = err
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
		err = d.host.Connect(ctx, *pi)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		key := peerKeyFromLibp2p(pi.ID)
		d.peerAddrs[key] = pi.ID
		d.table.AddPeer(key)
		d.dialedPeers.Add(key)
	}
	return lastErr
}

// ListenAddrs returns the host's currently bound listen multiaddrs.
func (d *Driver) ListenAddrs() []ma.Multiaddr { return d.host.Addrs() }
