package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/kadid"
	"storacore/internal/kbucket"
	"storacore/internal/recordstore"
)

func newFetcher(t *testing.T, self kadid.Key) (*Fetcher, *kbucket.Table, *recordstore.Store) {
	t.Helper()
	table := kbucket.New(self)
	store, err := recordstore.Open(t.TempDir(), self, 1000, 1<<20)
	require.NoError(t, err)
	return New(self, table, store), table, store
}

func TestReceiveListDropsDistantPeer(t *testing.T) {
	self := kadid.Key{0x00}
	f, _, _ := newFetcher(t, self)

	farPeer := kadid.Key{0xff}
	list := []ReplicaAddr{{Addr: kadid.Key{0x01}, Kind: kadid.KindChunk}}
	f.ReceiveList(farPeer, list)

	select {
	case <-f.FetchEvents():
		t.Fatal("expected no fetch event from an untrusted peer")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestReceiveListEnqueuesNewKeyInCloseRange(t *testing.T) {
	self := kadid.Key{0x00}
	f, table, _ := newFetcher(t, self)

	peer := kadid.Key{0x01}
	table.AddPeer(peer)

	addr := kadid.Key{0x02}
	list := []ReplicaAddr{{Addr: addr, Kind: kadid.KindChunk}}
	f.ReceiveList(peer, list)

	select {
	case got := <-f.FetchEvents():
		require.Len(t, got, 1)
		assert.Equal(t, addr, got[0].Addr)
	case <-time.After(time.Second):
		t.Fatal("expected a fetch event")
	}
}

func TestReceiveListSkipsAlreadyHeldKey(t *testing.T) {
	self := kadid.Key{0x00}
	f, table, store := newFetcher(t, self)
	peer := kadid.Key{0x01}
	table.AddPeer(peer)

	value := []byte("hello world")
	addr := kadid.HashChunk(value)
	_, err := store.Put(&recordstore.Record{Key: addr.Hash, Value: value, Kind: kadid.KindChunk})
	require.NoError(t, err)

	list := []ReplicaAddr{{Addr: addr.Hash, Kind: kadid.KindChunk}}
	f.ReceiveList(peer, list)

	select {
	case <-f.FetchEvents():
		t.Fatal("expected no fetch event for an already-held key")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestCompleteRequeuesOnFailureThenGivesUp(t *testing.T) {
	self := kadid.Key{0x00}
	f, table, _ := newFetcher(t, self)
	peer := kadid.Key{0x01}
	table.AddPeer(peer)

	addr := kadid.Key{0x02}
	f.ReceiveList(peer, []ReplicaAddr{{Addr: addr, Kind: kadid.KindChunk}})
	<-f.FetchEvents()

	for i := 0; i < maxFetchAttempts; i++ {
		f.Complete(addr, kadid.KindChunk, assertErr)
		_, stillInFlight := f.inFlight[addr]
		assert.True(t, stillInFlight, "attempt %d should still be tracked", i)
	}
	f.Complete(addr, kadid.KindChunk, assertErr)
	_, stillInFlight := f.inFlight[addr]
	assert.False(t, stillInFlight, "should give up after exceeding maxFetchAttempts")
}

func TestCompleteClearsInFlightOnSuccess(t *testing.T) {
	self := kadid.Key{0x00}
	f, table, _ := newFetcher(t, self)
	peer := kadid.Key{0x01}
	table.AddPeer(peer)

	addr := kadid.Key{0x02}
	f.ReceiveList(peer, []ReplicaAddr{{Addr: addr, Kind: kadid.KindChunk}})
	<-f.FetchEvents()

	f.Complete(addr, kadid.KindChunk, nil)
	_, stillInFlight := f.inFlight[addr]
	assert.False(t, stillInFlight)
}

func TestSelectChunkChallengePrefersPeerCloseRange(t *testing.T) {
	self := kadid.Key{0x00}
	f, table, store := newFetcher(t, self)

	peer := kadid.Key{0xaa}
	table.AddPeer(peer)

	value := []byte("challenge me")
	addr := kadid.HashChunk(value)
	_, err := store.Put(&recordstore.Record{Key: addr.Hash, Value: value, Kind: kadid.KindChunk})
	require.NoError(t, err)

	got, ok := f.SelectChunkChallenge(peer)
	require.True(t, ok)
	assert.Equal(t, addr.Hash, got)
}

func TestVerifyChunkChallenge(t *testing.T) {
	value := []byte("0123456789")
	assert.True(t, VerifyChunkChallenge(value, 2, 3, []byte("234")))
	assert.False(t, VerifyChunkChallenge(value, 2, 3, []byte("235")))
	assert.False(t, VerifyChunkChallenge(value, 8, 5, []byte("89012")))
}

var assertErr = errTest{}

type errTest struct{}

func (errTest) Error() string { return "test error" }
