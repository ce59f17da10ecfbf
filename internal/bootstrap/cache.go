package bootstrap

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"storacore/internal/kadid"
)

const cacheFileName = "bootstrap_cache.json"

// Config bounds cache growth and reliability judgment, matching §6's
// max_addrs_per_peer / max_peers / addr_expiry_duration knobs.
type Config struct {
	MaxAddrsPerPeer  int
	MaxPeers         int
	AddrExpiry       time.Duration
	FailureThreshold int
	NetworkVersion   string
}

// DefaultConfig returns reasonable bounds for a production node.
func DefaultConfig(networkVersion string) Config {
	return Config{
		MaxAddrsPerPeer:  8,
		MaxPeers:         1500,
		AddrExpiry:       7 * 24 * time.Hour,
		FailureThreshold: 5,
		NetworkVersion:   networkVersion,
	}
}

// document is the on-disk JSON shape: {peers, last_updated, network_version}.
type document struct {
	Peers          map[string][]*BootstrapAddr `json:"peers"`
	LastUpdated    time.Time                   `json:"last_updated"`
	NetworkVersion string                      `json:"network_version"`
}

// Cache is the in-memory bootstrap cache, persisted atomically to
// <cache_dir>/<network_version>/bootstrap_cache.json.
type Cache struct {
	cfg  Config
	path string

	mu    sync.Mutex
	peers map[kadid.Key]*BootstrapPeer
}

// Path returns the on-disk location for a cache rooted at cacheDir for the
// given network version.
func Path(cacheDir, networkVersion string) string {
	return filepath.Join(cacheDir, networkVersion, cacheFileName)
}

// Open loads an existing cache file if present, applying load-path cleanup
// (expiry, unreliable-entry, and cap enforcement), or starts empty.
func Open(cacheDir string, cfg Config) (*Cache, error) {
	c := &Cache{
		cfg:   cfg,
		path:  Path(cacheDir, cfg.NetworkVersion),
		peers: make(map[kadid.Key]*BootstrapPeer),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("bootstrap: read %s: %w", c.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warnf("bootstrap: cache at %s is corrupt, starting empty: %v", c.path, err)
		return nil
	}
	for hexID, addrs := range doc.Peers {
		id, err := kadid.KeyFromHex(hexID)
		if err != nil {
			continue
		}
		cp := make([]*BootstrapAddr, len(addrs))
		copy(cp, addrs)
		c.peers[id] = &BootstrapPeer{PeerID: id, Addrs: cp}
	}
	c.cleanupLocked()
	log.Infof("bootstrap: loaded %d peers from %s", len(c.peers), c.path)
	return nil
}

// cleanupLocked drops expired and unreliable addresses, then enforces the
// per-peer and global caps. Must be called with mu held.
func (c *Cache) cleanupLocked() {
	now := time.Now()
	for id, p := range c.peers {
		kept := p.Addrs[:0:0]
		for _, a := range p.Addrs {
			if a.Expired(now, c.cfg.AddrExpiry) {
				continue
			}
			if !a.Reliable(c.cfg.FailureThreshold) {
				continue
			}
			kept = append(kept, a)
		}
		p.Addrs = kept
		if len(p.Addrs) == 0 {
			delete(c.peers, id)
			continue
		}
		p.trimToCap(c.cfg.MaxAddrsPerPeer)
	}
	c.enforceGlobalCapLocked()
}

// enforceGlobalCapLocked drops the peers with the oldest freshest LastSeen
// until at most MaxPeers remain.
func (c *Cache) enforceGlobalCapLocked() {
	if len(c.peers) <= c.cfg.MaxPeers {
		return
	}
	ordered := make([]*BootstrapPeer, 0, len(c.peers))
	for _, p := range c.peers {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].freshest().Before(ordered[j].freshest())
	})
	drop := len(ordered) - c.cfg.MaxPeers
	for i := 0; i < drop; i++ {
		delete(c.peers, ordered[i].PeerID)
	}
}

// RecordSuccess updates (or creates) the address entry for peer/multiaddr
// with a successful dial.
func (c *Cache) RecordSuccess(peer kadid.Key, multiaddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.peerLocked(peer)
	a := p.findOrAddAddr(multiaddr)
	a.SuccessCount++
	a.LastSeen = time.Now()
	p.trimToCap(c.cfg.MaxAddrsPerPeer)
	c.enforceGlobalCapLocked()
}

// RecordFailure updates (or creates) the address entry for peer/multiaddr
// with a failed dial.
func (c *Cache) RecordFailure(peer kadid.Key, multiaddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.peerLocked(peer)
	a := p.findOrAddAddr(multiaddr)
	a.FailureCount++
	p.trimToCap(c.cfg.MaxAddrsPerPeer)
	c.enforceGlobalCapLocked()
}

func (c *Cache) peerLocked(peer kadid.Key) *BootstrapPeer {
	p, ok := c.peers[peer]
	if !ok {
		p = &BootstrapPeer{PeerID: peer}
		c.peers[peer] = p
	}
	return p
}

// Peers returns a snapshot of every tracked peer.
func (c *Cache) Peers() []*BootstrapPeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*BootstrapPeer, 0, len(c.peers))
	for _, p := range c.peers {
		cp := *p
		cp.Addrs = append([]*BootstrapAddr{}, p.Addrs...)
		out = append(out, &cp)
	}
	return out
}

// Save persists the cache atomically (write-temp-then-rename).
func (c *Cache) Save() error {
	c.mu.Lock()
	doc := document{
		Peers:          make(map[string][]*BootstrapAddr, len(c.peers)),
		LastUpdated:    time.Now(),
		NetworkVersion: c.cfg.NetworkVersion,
	}
	for id, p := range c.peers {
		doc.Peers[hex.EncodeToString(id[:])] = p.Addrs
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("bootstrap: marshal cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bootstrap: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("bootstrap: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bootstrap: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("bootstrap: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bootstrap: close temp: %w", err)
	}
	return os.Rename(tmpName, c.path)
}
