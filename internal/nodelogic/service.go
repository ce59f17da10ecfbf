package nodelogic

import (
	"context"
	crand "crypto/rand"
	"math/big"
	"sync"
	"time"

	"storacore/internal/identity"
	"storacore/internal/kadid"
	"storacore/internal/kbucket"
	"storacore/internal/recordstore"
	"storacore/internal/replication"
	"storacore/internal/swarm"
	"storacore/internal/wire"
)

// periodicTaskMin/Max bound the randomised inactivity-gap interval for the
// routing-table and replication desync tasks (§4.E: "every inactivity gap,
// randomised 20-40s to desynchronise nodes").
const (
	periodicTaskMin = 20 * time.Second
	periodicTaskMax = 40 * time.Second
)

// quoteGCInterval is how often expired, unredeemed quotes are swept from
// the quote book.
const quoteGCInterval = time.Minute

// NodeLogic owns the put-validation pipeline, quote issuance, and
// reputation bookkeeping described in §4.E. It consumes the Swarm Driver's
// event channel from its own goroutine, keeping with the driver's "everyone
// else only touches it through channels" discipline.
type NodeLogic struct {
	self kadid.Key
	id   *identity.Identity

	store   *recordstore.Store
	table   *kbucket.Table
	fetcher *replication.Fetcher

	verifier PaymentVerifier
	quotes   *quoteBook

	reputation *reputation

	commands chan<- swarm.Command
	events   <-chan swarm.Event

	pendingReplicationMu sync.Mutex
	pendingReplication   []wire.AddrKind
}

// New wires a NodeLogic instance to a running Swarm Driver and its
// collaborators.
func New(self kadid.Key, id *identity.Identity, store *recordstore.Store, table *kbucket.Table, fetcher *replication.Fetcher, verifier PaymentVerifier, commands chan<- swarm.Command, events <-chan swarm.Event) *NodeLogic {
	return &NodeLogic{
		self:       self,
		id:         id,
		store:      store,
		table:      table,
		fetcher:    fetcher,
		verifier:   verifier,
		quotes:     newQuoteBook(),
		reputation: newReputation(),
		commands:   commands,
		events:     events,
	}
}

// Run is NodeLogic's own cooperative loop: it never shares state with the
// driver's goroutine except through commands/events/fetcher channels.
func (n *NodeLogic) Run(ctx context.Context) {
	gcTicker := time.NewTicker(quoteGCInterval)
	defer gcTicker.Stop()

	periodicTimer := time.NewTimer(jitteredInterval())
	defer periodicTimer.Stop()

	var badPeers <-chan replication.BadPeerEvent
	if n.fetcher != nil {
		badPeers = n.fetcher.BadPeerEvents()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.events:
			n.handleEvent(e)
		case bp := <-badPeers:
			n.reportViolation(&bp.Peer, bp.Reason)
		case <-gcTicker.C:
			n.quotes.gc(time.Now())
		case <-periodicTimer.C:
			n.runPeriodicTasks()
			periodicTimer.Reset(jitteredInterval())
		}
	}
}

func jitteredInterval() time.Duration {
	span := int64(periodicTaskMax - periodicTaskMin)
	n, err := crand.Int(crand.Reader, big.NewInt(span))
	if err != nil {
		return periodicTaskMin
	}
	return periodicTaskMin + time.Duration(n.Int64())
}

// runPeriodicTasks fires the routing-table keep-alive and the replication
// self-query described in §4.E.
func (n *NodeLogic) runPeriodicTasks() {
	var target kadid.Key
	if _, err := crand.Read(target[:]); err == nil {
		reply := make(chan []kadid.Key, 1)
		n.commands <- swarm.GetClosestPeersCmd{Target: target, Reply: reply}
	}

	n.flushReplicationAnnouncements()
	n.requestReplicationFromNeighbours()
}

// handleEvent dispatches one Swarm Driver event.
func (n *NodeLogic) handleEvent(e swarm.Event) {
	switch ev := e.(type) {
	case swarm.RequestReceivedEvent:
		n.handleRequest(ev.From, ev.Envelope, ev.Respond)
	case swarm.ResponseEvent:
		n.handleReplicationResponse(ev.Peer, ev.Response, ev.Err)
	case swarm.PeerIdentifiedEvent:
		// address candidates are reported to the external-address manager
		// by the driver itself; Node Logic has nothing additional to do.
	}
}
