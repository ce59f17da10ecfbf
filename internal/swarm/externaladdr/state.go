// Package externaladdr implements the External-Address Manager described in
// §4.B: it tracks which addresses the node advertises to the DHT, promoting
// candidates reported by identify exchanges into Confirmed and Listener
// states, and retracting addresses on a faulty port or an IP switch.
// Constants and the promotion/IP-switch state machine are grounded in
// original_source/ant-networking/src/external_address.rs; multiaddr
// parsing and port-mapping plumbing reuse the teacher's nat_traversal.go
// idiom via the sibling natutil package.
package externaladdr

// Thresholds pinned by the spec.
const (
	MaxReportsBeforeConfirmation          = 3
	MaxReportsBeforeSwitchingIP           = 10
	MaxConfirmedAddressesBeforeSwitchingIP = 5
	MaxCandidates                          = 50
)

// State is the lifecycle stage of a tracked address.
type State int

const (
	Candidate State = iota
	Confirmed
	Listener
)

func (s State) String() string {
	switch s {
	case Candidate:
		return "candidate"
	case Confirmed:
		return "confirmed"
	case Listener:
		return "listener"
	default:
		return "unknown"
	}
}

// entry is one tracked address and its promotion bookkeeping.
type entry struct {
	addrStr string
	ip      string
	proto   string // "tcp" | "udp"
	port    int
	state   State
	reports int
}

// portStats tracks incoming-connection ok/err counters for one proto:port,
// used to detect and retire a faulty listening port.
type portStats struct {
	ok, err int
}

func (p *portStats) total() int { return p.ok + p.err }

func (p *portStats) rate() float64 {
	if p.total() == 0 {
		return 1
	}
	return float64(p.ok) / float64(p.total())
}

// isFaulty reports the spec's port-fault rule: (ok+err>=10 AND rate<0.5) OR
// (ok+err>=100 AND rate<0.9).
func (p *portStats) isFaulty() bool {
	total := p.total()
	rate := p.rate()
	return (total >= 10 && rate < 0.5) || (total >= 100 && rate < 0.9)
}
