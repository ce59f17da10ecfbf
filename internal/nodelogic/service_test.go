package nodelogic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/identity"
	"storacore/internal/kadid"
	"storacore/internal/kbucket"
	"storacore/internal/recordstore"
	"storacore/internal/replication"
	"storacore/internal/swarm"
	"storacore/internal/wire"
)

func newWiredNodeLogic(t *testing.T) (*NodeLogic, chan swarm.Command) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	store, err := recordstore.Open(t.TempDir(), id.Peer, 1000, 1<<20)
	require.NoError(t, err)
	table := kbucket.New(id.Peer)
	fetcher := replication.New(id.Peer, table, store)

	commands := make(chan swarm.Command, 16)
	events := make(chan swarm.Event, 16)
	n := New(id.Peer, id, store, table, fetcher, nil, commands, events)
	return n, commands
}

func TestAnswerGetStoreCostRespondsWithQuote(t *testing.T) {
	n, _ := newWiredNodeLogic(t)
	key := kadid.Key{0x01}
	body, err := wire.Encode(wire.TypeGetStoreCost, &wire.GetStoreCostQuery{Addr: key})
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.TypeGetStoreCost, Body: body}

	var got *wire.Envelope
	n.handleRequest(kadid.Key{0x02}, env, func(e *wire.Envelope) error {
		got = e
		return nil
	})
	require.NotNil(t, got)
	var result wire.StoreCostResult
	require.NoError(t, wire.DecodeBody(got, &result))
	assert.Greater(t, result.Cost, uint64(0))
}

func TestAnnounceReplicationFlushesToCloseGroup(t *testing.T) {
	n, commands := newWiredNodeLogic(t)
	neighbour := kadid.Key{0x03}
	n.table.AddPeer(neighbour)

	n.announceReplication(kadid.Key{0x04}, kadid.KindChunk)
	n.flushReplicationAnnouncements()

	select {
	case cmd := <-commands:
		sendCmd, ok := cmd.(swarm.SendRequestCmd)
		require.True(t, ok)
		assert.Equal(t, neighbour, sendCmd.Peer)
		assert.Equal(t, wire.TypeReplicate, sendCmd.Request.Type)
	default:
		t.Fatal("expected a queued SendRequestCmd")
	}
}

func TestBroadcastPeerConsideredAsBadSkipsTheAccusedPeer(t *testing.T) {
	n, commands := newWiredNodeLogic(t)
	bad := kadid.Key{0x05}
	n.table.AddPeer(bad)
	n.table.AddPeer(kadid.Key{0x06})

	n.broadcastPeerConsideredAsBad(bad, "too many violations")

	for {
		select {
		case cmd := <-commands:
			sendCmd := cmd.(swarm.SendRequestCmd)
			assert.NotEqual(t, bad, sendCmd.Peer)
		default:
			return
		}
	}
}

func TestHandleRequestStoreChunkEndToEnd(t *testing.T) {
	n, _ := newWiredNodeLogic(t)
	n.verifier = &fakeVerifier{payee: n.self, amount: 1 << 20, found: true}

	value := []byte("end to end chunk")
	addr := kadid.HashChunk(value)
	cost := n.GetStoreCost(addr.Hash)
	q := firstIssuedQuote(t, n, addr.Hash)
	proof := &PaymentProof{Quote: *q}
	proofBytes, err := EncodePaymentProof(proof)
	require.NoError(t, err)
	_ = cost

	body, err := wire.Encode(wire.TypeStoreChunk, &wire.StoreChunkCmd{Chunk: value, Payment: proofBytes})
	require.NoError(t, err)
	env := &wire.Envelope{Type: wire.TypeStoreChunk, Body: body}

	var got *wire.Envelope
	n.handleRequest(kadid.Key{0x07}, env, func(e *wire.Envelope) error {
		got = e
		return nil
	})
	require.NotNil(t, got)
	var ack wire.Ack
	require.NoError(t, wire.DecodeBody(got, &ack))
	assert.Equal(t, "stored", ack.Outcome)

	rec, err := n.store.Get(addr.Hash)
	require.NoError(t, err)
	assert.Equal(t, value, rec.Value)
}
