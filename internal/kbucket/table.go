// Package kbucket implements the Kademlia routing table used by the Swarm
// Driver: 256 distance buckets of up to CloseGroupSize peers each, queried
// by GetClosestPeers. Structure and bucket-index derivation are adapted from
// the teacher's core/kademlia.go, generalized from a 160-bit/20-byte
// keyspace to the spec's 256-bit PeerId keyspace.
package kbucket

import (
	"sync"

	"storacore/internal/kadid"
)

const numBuckets = 256

// Table is a minimal Kademlia routing table: peers are bucketed by the
// length of the common prefix shared with the local PeerID, and each
// bucket retains at most CloseGroupSize entries (oldest evicted first).
type Table struct {
	self    kadid.Key
	mu      sync.RWMutex
	buckets [numBuckets][]kadid.Key
}

// New creates a routing table rooted at self.
func New(self kadid.Key) *Table {
	return &Table{self: self}
}

// AddPeer inserts id into its bucket if not already present. When the
// bucket is full the least-recently-added entry is evicted to make room,
// matching the table's bias toward peers near the local key.
func (t *Table) AddPeer(id kadid.Key) {
	if id == t.self {
		return
	}
	idx := t.bucketIndex(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.buckets[idx] {
		if p == id {
			return
		}
	}
	if len(t.buckets[idx]) >= kadid.CloseGroupSize {
		t.buckets[idx] = t.buckets[idx][1:]
	}
	t.buckets[idx] = append(t.buckets[idx], id)
}

// RemovePeer deletes id from the table, if present.
func (t *Table) RemovePeer(id kadid.Key) {
	idx := t.bucketIndex(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.buckets[idx]
	for i, p := range list {
		if p == id {
			t.buckets[idx] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Contains reports whether id is present in the table.
func (t *Table) Contains(id kadid.Key) bool {
	idx := t.bucketIndex(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.buckets[idx] {
		if p == id {
			return true
		}
	}
	return false
}

// Closest returns up to n peers nearest target, sorted by increasing XOR
// distance. Buckets are scanned outward from target's own bucket index so
// partial results remain useful under the iterative-query timeout.
func (t *Table) Closest(target kadid.Key, n int) []kadid.Key {
	idx := t.bucketIndex(target)
	t.mu.RLock()
	candidates := make([]kadid.Key, 0, n*2)
	for radius := 0; radius < numBuckets && len(candidates) < n*4; radius++ {
		if i := idx - radius; i >= 0 {
			candidates = append(candidates, t.buckets[i]...)
		}
		if radius > 0 {
			if i := idx + radius; i < numBuckets {
				candidates = append(candidates, t.buckets[i]...)
			}
		}
	}
	t.mu.RUnlock()
	return kadid.ClosestN(target, candidates, n)
}

// InClosestN reports whether id is among the n peers of the table closest to
// target — used by the Replication Fetcher's spam-protection check (§4.C).
func (t *Table) InClosestN(target, id kadid.Key, n int) bool {
	for _, p := range t.Closest(target, n) {
		if p == id {
			return true
		}
	}
	return false
}

// SelfInClosestN reports whether the local key would itself rank among the
// n keys (drawn from this table plus self) closest to target — the
// "sort-peers-by-address test" the Replication Fetcher uses to decide
// whether an advertised key falls within its own close range (§4.C).
func (t *Table) SelfInClosestN(target kadid.Key, n int) bool {
	selfDist := kadid.Distance(target, t.self)
	t.mu.RLock()
	defer t.mu.RUnlock()
	closer := 0
	for _, bucket := range t.buckets {
		for _, p := range bucket {
			if kadid.Distance(target, p).Cmp(selfDist) < 0 {
				closer++
				if closer >= n {
					return false
				}
			}
		}
	}
	return true
}

// bucketIndex returns the index of the bucket id falls into: the position
// of the highest set bit in the XOR distance from self, i.e. the shared
// prefix length with self. Identical keys are clamped into the last bucket.
func (t *Table) bucketIndex(id kadid.Key) int {
	d := kadid.Xor(t.self, id)
	for i, b := range d {
		if b == 0 {
			continue
		}
		bit := 0
		for shift := 7; shift >= 0; shift-- {
			if b&(1<<uint(shift)) != 0 {
				bit = 7 - shift
				break
			}
		}
		idx := i*8 + bit
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		return idx
	}
	return numBuckets - 1
}

// Len returns the total number of tracked peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}
