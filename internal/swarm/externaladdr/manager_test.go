package externaladdr

import (
	"fmt"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/kadid"
)

func selfKey() kadid.Key {
	var k kadid.Key
	k[0] = 0xab
	return k
}

func addrOf(t *testing.T, ip string, port int, self kadid.Key) ma.Multiaddr {
	t.Helper()
	s := fmt.Sprintf("/ip4/%s/tcp/%d/p2p/%s", ip, port, self.String())
	a, err := ma.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestReportCandidatePromotesAtThreshold(t *testing.T) {
	self := selfKey()
	m := New(self)
	addr := addrOf(t, "8.8.8.8", 4001, self)

	for i := 0; i < MaxReportsBeforeConfirmation-1; i++ {
		require.NoError(t, m.ReportCandidate(addr))
		st, ok := m.State(addr)
		require.True(t, ok)
		assert.Equal(t, Candidate, st)
	}
	require.NoError(t, m.ReportCandidate(addr))
	st, ok := m.State(addr)
	require.True(t, ok)
	assert.Equal(t, Confirmed, st)
	assert.Equal(t, "8.8.8.8", m.CurrentIP())
	assert.Contains(t, m.Advertised(), addr.String())
}

func TestReportCandidateRejectsNonRoutable(t *testing.T) {
	self := selfKey()
	m := New(self)
	addr := addrOf(t, "192.168.1.5", 4001, self)
	assert.Error(t, m.ReportCandidate(addr))
	_, ok := m.State(addr)
	assert.False(t, ok)
}

func TestReportCandidateRejectsWrongPeer(t *testing.T) {
	self := selfKey()
	other := kadid.Key{0xcd}
	m := New(self)
	addr := addrOf(t, "8.8.8.8", 4001, other)
	assert.Error(t, m.ReportCandidate(addr))
}

func TestCandidateCapDropsBeyondMax(t *testing.T) {
	self := selfKey()
	m := New(self)
	for i := 0; i < MaxCandidates+5; i++ {
		addr := addrOf(t, "9.9.9.9", 5000+i, self)
		require.NoError(t, m.ReportCandidate(addr))
	}
	assert.LessOrEqual(t, m.candidateCountLocked(), MaxCandidates)
}

func TestPortFaultRemovesSharingAddresses(t *testing.T) {
	self := selfKey()
	m := New(self)
	addr := addrOf(t, "8.8.8.8", 4001, self)
	for i := 0; i < MaxReportsBeforeConfirmation; i++ {
		require.NoError(t, m.ReportCandidate(addr))
	}
	st, _ := m.State(addr)
	require.Equal(t, Confirmed, st)

	for i := 0; i < 4; i++ {
		m.RecordConnectionResult("tcp", 4001, true)
	}
	for i := 0; i < 6; i++ {
		m.RecordConnectionResult("tcp", 4001, false)
	}

	_, ok := m.State(addr)
	assert.False(t, ok)
	assert.NotContains(t, m.Advertised(), addr.String())

	// the port is now retired: further candidate reports on it are rejected.
	addr2 := addrOf(t, "8.8.8.8", 4001, self)
	assert.Error(t, m.ReportCandidate(addr2))
}

func TestListenerOnCurrentIPBecomesStrongestState(t *testing.T) {
	self := selfKey()
	m := New(self)
	addr := addrOf(t, "8.8.8.8", 4001, self)
	require.NoError(t, m.ReportCandidate(addr))
	require.NoError(t, m.ReportListener(addr))
	st, ok := m.State(addr)
	require.True(t, ok)
	assert.Equal(t, Listener, st)
	assert.Equal(t, "8.8.8.8", m.CurrentIP())
}

func TestListenerOnDifferentIPSwitchesImmediately(t *testing.T) {
	self := selfKey()
	m := New(self)
	oldAddr := addrOf(t, "1.2.3.4", 4001, self)
	require.NoError(t, m.ReportListener(oldAddr))
	require.Equal(t, "1.2.3.4", m.CurrentIP())

	newAddr := addrOf(t, "5.6.7.8", 4002, self)
	require.NoError(t, m.ReportListener(newAddr))

	assert.Equal(t, "5.6.7.8", m.CurrentIP())
	_, ok := m.State(oldAddr)
	assert.False(t, ok)
	st, ok := m.State(newAddr)
	require.True(t, ok)
	assert.Equal(t, Listener, st)
}

// TestIPSwitchOnCandidateConsensus is the spec's literal scenario: starting
// current_ip=1.2.3.4 with two Confirmed addresses on it, report 5 distinct
// candidates on 5.6.7.8 each MaxReportsBeforeSwitchingIP times. After the
// promotion-threshold report on the 5th address, current_ip flips to
// 5.6.7.8, the two old Confirmed entries vanish, and exactly the 5 new
// addresses are Confirmed.
func TestIPSwitchOnCandidateConsensus(t *testing.T) {
	self := selfKey()
	m := New(self)

	oldAddrs := []ma.Multiaddr{
		addrOf(t, "1.2.3.4", 4001, self),
		addrOf(t, "1.2.3.4", 4002, self),
	}
	for _, a := range oldAddrs {
		for i := 0; i < MaxReportsBeforeConfirmation; i++ {
			require.NoError(t, m.ReportCandidate(a))
		}
		st, _ := m.State(a)
		require.Equal(t, Confirmed, st)
	}
	require.Equal(t, "1.2.3.4", m.CurrentIP())

	newAddrs := make([]ma.Multiaddr, MaxConfirmedAddressesBeforeSwitchingIP)
	for i := 0; i < MaxConfirmedAddressesBeforeSwitchingIP; i++ {
		newAddrs[i] = addrOf(t, "5.6.7.8", 6000+i, self)
	}

	for i, a := range newAddrs {
		for r := 0; r < MaxReportsBeforeSwitchingIP; r++ {
			require.NoError(t, m.ReportCandidate(a))
		}
		if i < MaxConfirmedAddressesBeforeSwitchingIP-1 {
			assert.Equal(t, "1.2.3.4", m.CurrentIP())
		}
	}

	assert.Equal(t, "5.6.7.8", m.CurrentIP())

	for _, a := range oldAddrs {
		_, ok := m.State(a)
		assert.False(t, ok)
	}
	confirmedCount := 0
	for _, a := range newAddrs {
		st, ok := m.State(a)
		require.True(t, ok)
		if st == Confirmed {
			confirmedCount++
		}
	}
	assert.Equal(t, MaxConfirmedAddressesBeforeSwitchingIP, confirmedCount)
}
