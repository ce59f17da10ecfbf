package externaladdr

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	ma "github.com/multiformats/go-multiaddr"

	"storacore/internal/kadid"
)

// Manager owns the candidate/confirmed/listener state machine for one
// node. Every method is synchronous and total, matching the spec's "no
// suspension points inside the manager" requirement — callers invoke it
// directly from the Swarm Driver's event loop.
type Manager struct {
	self kadid.Key

	mu         sync.Mutex
	currentIP  string
	entries    map[string]*entry
	ports      map[string]*portStats
	badPorts   map[string]struct{}
	advertised map[string]struct{}
}

// New creates an empty manager for the given node identity.
func New(self kadid.Key) *Manager {
	return &Manager{
		self:       self,
		entries:    make(map[string]*entry),
		ports:      make(map[string]*portStats),
		badPorts:   make(map[string]struct{}),
		advertised: make(map[string]struct{}),
	}
}

// CurrentIP returns the currently adopted external IP, "" if none yet.
func (m *Manager) CurrentIP() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIP
}

// Advertised returns the multiaddr strings currently handed to the swarm's
// advertised address set.
func (m *Manager) Advertised() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.advertised))
	for k := range m.advertised {
		out = append(out, k)
	}
	return out
}

// State reports the tracked state of addr, and whether it is tracked at
// all — exposed mainly for tests.
func (m *Manager) State(addr ma.Multiaddr) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[addr.String()]
	if !ok {
		return 0, false
	}
	return e.state, true
}

func (m *Manager) candidateCountLocked() int {
	n := 0
	for _, e := range m.entries {
		if e.state == Candidate {
			n++
		}
	}
	return n
}

// ReportCandidate processes one candidate-address report from an identify
// exchange, implementing the five numbered steps of §4.B.
func (m *Manager) ReportCandidate(addr ma.Multiaddr) error {
	p, err := parseCanonical(addr, m.self)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pk := portKeyOf(p.proto, p.port)
	if _, bad := m.badPorts[pk]; bad {
		return fmt.Errorf("externaladdr: port %s is marked faulty", pk)
	}

	key := addr.String()
	e, tracked := m.entries[key]
	if !tracked {
		if m.candidateCountLocked() >= MaxCandidates {
			return nil // drop rather than record
		}
		e = &entry{addrStr: key, ip: p.ip, proto: p.proto, port: p.port, state: Candidate}
		m.entries[key] = e
	}

	e.reports++

	if e.state == Candidate && e.reports >= MaxReportsBeforeConfirmation {
		if m.currentIP == "" || e.ip == m.currentIP {
			if m.currentIP == "" {
				m.currentIP = e.ip
			}
			e.state = Confirmed
			m.advertised[key] = struct{}{}
		}
	}

	m.evaluateIPSwitchLocked()
	return nil
}

// evaluateIPSwitchLocked implements step 4: adopt a new IP once a distinct
// IP has accumulated enough heavily-reported candidates.
func (m *Manager) evaluateIPSwitchLocked() {
	counts := make(map[string]int)
	for _, e := range m.entries {
		if e.ip != m.currentIP && e.reports >= MaxReportsBeforeSwitchingIP {
			counts[e.ip]++
		}
	}
	for ip, c := range counts {
		if c >= MaxConfirmedAddressesBeforeSwitchingIP {
			m.switchIPLocked(ip)
			return
		}
	}
}

// switchIPLocked adopts newIP: every Confirmed/Listener entry on the old IP
// is dropped, then every Candidate on newIP is promoted in one pass.
func (m *Manager) switchIPLocked(newIP string) {
	oldIP := m.currentIP
	for key, e := range m.entries {
		if e.ip == oldIP && (e.state == Confirmed || e.state == Listener) {
			delete(m.entries, key)
			delete(m.advertised, key)
		}
	}
	m.currentIP = newIP
	for key, e := range m.entries {
		if e.ip == newIP && e.state == Candidate {
			e.state = Confirmed
			m.advertised[key] = struct{}{}
		}
	}
	log.Infof("externaladdr: switched current_ip %s -> %s", oldIP, newIP)
}

// ReportListener registers a new local listener binding. A listener whose
// IP differs from current_ip triggers an immediate IP switch; otherwise it
// is recorded as Listener, the strongest state.
func (m *Manager) ReportListener(addr ma.Multiaddr) error {
	p, err := parseCanonical(addr, m.self)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := addr.String()
	if m.currentIP != "" && p.ip != m.currentIP {
		m.switchIPLocked(p.ip)
	} else if m.currentIP == "" {
		m.currentIP = p.ip
	}

	e, tracked := m.entries[key]
	if !tracked {
		e = &entry{addrStr: key, ip: p.ip, proto: p.proto, port: p.port}
		m.entries[key] = e
	}
	e.state = Listener
	m.advertised[key] = struct{}{}
	return nil
}

// RecordConnectionResult feeds one incoming-connection outcome into the
// port-fault counters; a port crossing the fault threshold is retired and
// every Confirmed/Candidate address sharing it is dropped.
func (m *Manager) RecordConnectionResult(proto string, port int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := portKeyOf(proto, port)
	if _, bad := m.badPorts[pk]; bad {
		return
	}
	st, tracked := m.ports[pk]
	if !tracked {
		st = &portStats{}
		m.ports[pk] = st
	}
	if ok {
		st.ok++
	} else {
		st.err++
	}
	if !st.isFaulty() {
		return
	}
	m.badPorts[pk] = struct{}{}
	for key, e := range m.entries {
		if portKeyOf(e.proto, e.port) != pk {
			continue
		}
		if e.state == Confirmed || e.state == Candidate {
			delete(m.entries, key)
			delete(m.advertised, key)
		}
	}
	log.Warnf("externaladdr: port %s marked faulty, ok=%d err=%d", pk, st.ok, st.err)
}
