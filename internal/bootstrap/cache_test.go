package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/kadid"
)

func testConfig() Config {
	cfg := DefaultConfig("test-net-1")
	cfg.MaxAddrsPerPeer = 3
	cfg.MaxPeers = 5
	cfg.AddrExpiry = 24 * time.Hour
	cfg.FailureThreshold = 3
	return cfg
}

func TestRecordSuccessAndFailure(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testConfig())
	require.NoError(t, err)

	var peer kadid.Key
	peer[0] = 0x01
	c.RecordSuccess(peer, "/ip4/1.2.3.4/tcp/1234")
	c.RecordFailure(peer, "/ip4/1.2.3.4/tcp/1234")

	peers := c.Peers()
	require.Len(t, peers, 1)
	require.Len(t, peers[0].Addrs, 1)
	assert.Equal(t, 1, peers[0].Addrs[0].SuccessCount)
	assert.Equal(t, 1, peers[0].Addrs[0].FailureCount)
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, testConfig())
	require.NoError(t, err)

	var peer kadid.Key
	peer[0] = 0x02
	c.RecordSuccess(peer, "/ip4/5.6.7.8/tcp/4321")
	require.NoError(t, c.Save())

	reopened, err := Open(dir, testConfig())
	require.NoError(t, err)
	peers := reopened.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, peer, peers[0].PeerID)
	assert.Equal(t, "/ip4/5.6.7.8/tcp/4321", peers[0].Addrs[0].Multiaddr)
}

func TestCleanupDropsUnreliableAndExpired(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	c, err := Open(dir, cfg)
	require.NoError(t, err)

	var unreliable, fresh kadid.Key
	unreliable[0] = 0x03
	fresh[0] = 0x04

	// three failures, no successes: fails the Reliable() check.
	for i := 0; i < 3; i++ {
		c.RecordFailure(unreliable, "/ip4/9.9.9.9/tcp/1")
	}
	c.RecordSuccess(fresh, "/ip4/10.10.10.10/tcp/1")

	c.mu.Lock()
	c.cleanupLocked()
	c.mu.Unlock()

	peers := c.Peers()
	var ids []kadid.Key
	for _, p := range peers {
		ids = append(ids, p.PeerID)
	}
	assert.NotContains(t, ids, unreliable)
	assert.Contains(t, ids, fresh)
}

func TestPerPeerAddrCapEvictsHighestFailureRate(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	c, err := Open(dir, cfg)
	require.NoError(t, err)

	var peer kadid.Key
	peer[0] = 0x05

	c.RecordSuccess(peer, "/a")
	c.RecordSuccess(peer, "/b")
	c.RecordSuccess(peer, "/c")
	c.RecordFailure(peer, "/c")
	// a fourth address pushes the peer over the cap; /c has the highest
	// failure rate, so it is the entry that gets evicted.
	c.RecordSuccess(peer, "/d")

	peers := c.Peers()
	require.Len(t, peers, 1)
	assert.LessOrEqual(t, len(peers[0].Addrs), cfg.MaxAddrsPerPeer)
	var addrs []string
	for _, a := range peers[0].Addrs {
		addrs = append(addrs, a.Multiaddr)
	}
	assert.NotContains(t, addrs, "/c")
}

func TestGlobalPeerCapEvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeers = 2
	dir := t.TempDir()
	c, err := Open(dir, cfg)
	require.NoError(t, err)

	var p1, p2, p3 kadid.Key
	p1[0], p2[0], p3[0] = 0x11, 0x12, 0x13

	c.RecordSuccess(p1, "/a")
	time.Sleep(2 * time.Millisecond)
	c.RecordSuccess(p2, "/b")
	time.Sleep(2 * time.Millisecond)
	c.RecordSuccess(p3, "/c")

	peers := c.Peers()
	assert.LessOrEqual(t, len(peers), cfg.MaxPeers)
	var ids []kadid.Key
	for _, p := range peers {
		ids = append(ids, p.PeerID)
	}
	assert.NotContains(t, ids, p1)
}
