// Package natutil adapts NAT-PMP/UPnP port mapping and multiaddr parsing
// for the Swarm Driver and External-Address Manager. Directly adapted from
// the teacher's NATManager in nat_traversal.go, generalized to operate on
// github.com/multiformats/go-multiaddr values instead of raw strings.
package natutil

import (
	"fmt"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	ma "github.com/multiformats/go-multiaddr"
)

// Manager discovers the local gateway and can map/unmap a TCP port on it,
// preferring NAT-PMP and falling back to UPnP, exactly as the teacher's
// NewNATManager does.
type Manager struct {
	ip         net.IP
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	mappedPort int
}

// NewManager discovers the gateway and external IP. It returns an error if
// neither NAT-PMP nor UPnP can find one, matching the teacher's behavior.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if gw, err := gateway.DiscoverGateway(); err == nil {
		m.pmp = natpmp.NewClient(gw)
		if res, err := m.pmp.GetExternalAddress(); err == nil {
			m.ip = net.IPv4(res.ExternalIPAddress[0], res.ExternalIPAddress[1], res.ExternalIPAddress[2], res.ExternalIPAddress[3])
		}
	}
	if m.ip == nil {
		if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
			m.upnp = clients[0]
			if ipStr, err := m.upnp.GetExternalIPAddress(); err == nil {
				m.ip = net.ParseIP(ipStr)
			}
		}
	}
	if m.ip == nil {
		return nil, fmt.Errorf("natutil: gateway not found")
	}
	return m, nil
}

// ExternalIP returns the gateway-reported public IP address.
func (m *Manager) ExternalIP() net.IP { return m.ip }

// Map requests a TCP port mapping on the gateway for port.
func (m *Manager) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, 3600); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	if m.upnp != nil {
		if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), m.ip.String(), true, "storacore", 3600); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	return fmt.Errorf("natutil: mapping failed")
}

// Unmap removes the previously requested port mapping, if any.
func (m *Manager) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", m.mappedPort, m.mappedPort, 0); err != nil {
			return err
		}
		m.mappedPort = 0
		return nil
	}
	if m.upnp != nil {
		if err := m.upnp.DeletePortMapping("", uint16(m.mappedPort), "TCP"); err != nil {
			return err
		}
		m.mappedPort = 0
	}
	return nil
}

// TCPPort extracts the TCP port component from a multiaddr, the
// multiaddr-native equivalent of the teacher's string-split parsePort.
func TCPPort(addr ma.Multiaddr) (int, error) {
	portStr, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return 0, fmt.Errorf("natutil: no tcp port in %s: %w", addr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return 0, fmt.Errorf("natutil: invalid tcp port %q: %w", portStr, err)
	}
	return port, nil
}

// IsGloballyRoutable reports whether addr's IPv4/IPv6 component is outside
// the private, loopback, link-local, and CGNAT (100.64.0.0/10) ranges, the
// filter the External-Address Manager applies to candidate reports.
func IsGloballyRoutable(addr ma.Multiaddr) bool {
	ipStr, err := addr.ValueForProtocol(ma.P_IP4)
	if err != nil {
		ipStr, err = addr.ValueForProtocol(ma.P_IP6)
		if err != nil {
			return false
		}
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil && ip4[0] == 100 && ip4[1]&0xc0 == 64 {
		return false // 100.64.0.0/10 CGNAT range
	}
	return true
}
