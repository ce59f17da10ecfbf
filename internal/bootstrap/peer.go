package bootstrap

import (
	"sort"
	"time"

	"storacore/internal/kadid"
)

// BootstrapPeer is the ordered list of known addresses for one peer.
type BootstrapPeer struct {
	PeerID kadid.Key
	Addrs  []*BootstrapAddr
}

// freshest returns the most recent LastSeen across the peer's addresses,
// used to order peers for the global eviction cap.
func (p *BootstrapPeer) freshest() time.Time {
	var latest time.Time
	for _, a := range p.Addrs {
		if a.LastSeen.After(latest) {
			latest = a.LastSeen
		}
	}
	return latest
}

// findOrAddAddr returns the existing entry for multiaddr, appending a new
// zero-valued one if absent.
func (p *BootstrapPeer) findOrAddAddr(multiaddr string) *BootstrapAddr {
	for _, a := range p.Addrs {
		if a.Multiaddr == multiaddr {
			return a
		}
	}
	a := &BootstrapAddr{Multiaddr: multiaddr}
	p.Addrs = append(p.Addrs, a)
	return a
}

// trimToCap drops the addresses with the highest failure rate until len(Addrs)
// is at most maxAddrs, per the per-peer eviction policy.
func (p *BootstrapPeer) trimToCap(maxAddrs int) {
	if len(p.Addrs) <= maxAddrs {
		return
	}
	sort.Slice(p.Addrs, func(i, j int) bool {
		return p.Addrs[i].FailureRate() < p.Addrs[j].FailureRate()
	})
	p.Addrs = p.Addrs[:maxAddrs]
}
