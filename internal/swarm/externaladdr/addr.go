package externaladdr

import (
	"fmt"

	ma "github.com/multiformats/go-multiaddr"

	"storacore/internal/kadid"
	"storacore/internal/swarm/natutil"
)

// parsed is the canonical decomposition of a candidate multiaddr into the
// fields the manager tracks: IP, transport protocol and port, with the
// trailing /p2p/<self> checked against the node's own PeerID. The
// transport-layer framing (ws/quic) is not recorded.
type parsed struct {
	ip    string
	proto string // "tcp" | "udp"
	port  int
}

// parseCanonical extracts IP/proto/port from addr. It rejects anything that
// isn't globally routable, doesn't resolve to our own PeerID, or lacks an
// ip4/ip6 component or a tcp/udp port. A ws/quic framing component is
// neither required nor checked, and ip6 addresses are accepted.
func parseCanonical(addr ma.Multiaddr, self kadid.Key) (*parsed, error) {
	if !natutil.IsGloballyRoutable(addr) {
		return nil, fmt.Errorf("externaladdr: %s is not globally routable", addr)
	}

	p2p, err := addr.ValueForProtocol(ma.P_P2P)
	if err != nil {
		return nil, fmt.Errorf("externaladdr: %s carries no /p2p component: %w", addr, err)
	}
	if p2p != selfP2PComponent(self) {
		return nil, fmt.Errorf("externaladdr: %s does not resolve to self", addr)
	}

	ipStr, err := addr.ValueForProtocol(ma.P_IP4)
	if err != nil {
		ipStr, err = addr.ValueForProtocol(ma.P_IP6)
		if err != nil {
			return nil, fmt.Errorf("externaladdr: %s carries no ip component: %w", addr, err)
		}
	}

	if tcpPort, err := natutil.TCPPort(addr); err == nil {
		return &parsed{ip: ipStr, proto: "tcp", port: tcpPort}, nil
	}
	if udpStr, err := addr.ValueForProtocol(ma.P_UDP); err == nil {
		var port int
		if _, err := fmt.Sscanf(udpStr, "%d", &port); err == nil {
			return &parsed{ip: ipStr, proto: "udp", port: port}, nil
		}
	}
	return nil, fmt.Errorf("externaladdr: %s carries no tcp/udp component", addr)
}

// selfP2PComponent renders self the way multiaddr's /p2p component would
// encode it: lowercase hex, matching PeerID.String().
func selfP2PComponent(self kadid.Key) string {
	return self.String()
}

func portKeyOf(proto string, port int) string {
	return fmt.Sprintf("%s:%d", proto, port)
}
