package nodelogic

import (
	"sync"
	"sync/atomic"
	"time"

	"storacore/internal/kadid"
)

// quoteBook tracks quotes this node has issued, so that a later payment
// proof can be checked against "a quote we actually issued" rather than
// merely a well-formed signature — and so each quote can be consumed at
// most once, giving the nonce its monotonic, non-replayable meaning from
// §4.E step 2.
type quoteBook struct {
	nextNonce uint64

	mu     sync.Mutex
	issued map[kadid.Key]map[uint64]*Quote
}

func newQuoteBook() *quoteBook {
	return &quoteBook{issued: make(map[kadid.Key]map[uint64]*Quote)}
}

// allocNonce returns a fresh, process-wide monotonically increasing nonce.
func (b *quoteBook) allocNonce() uint64 {
	return atomic.AddUint64(&b.nextNonce, 1)
}

// record remembers q as issued and available for a single future redemption.
func (b *quoteBook) record(q *Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byNonce, ok := b.issued[q.Key]
	if !ok {
		byNonce = make(map[uint64]*Quote)
		b.issued[q.Key] = byNonce
	}
	byNonce[q.Nonce] = q
}

// redeem looks up the quote referenced by (key, nonce), removing it so it
// cannot be redeemed twice, and reports whether it was ever issued.
func (b *quoteBook) redeem(key kadid.Key, nonce uint64) (*Quote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byNonce, ok := b.issued[key]
	if !ok {
		return nil, false
	}
	q, ok := byNonce[nonce]
	if ok {
		delete(byNonce, nonce)
		if len(byNonce) == 0 {
			delete(b.issued, key)
		}
	}
	return q, ok
}

// gc drops expired, never-redeemed quotes so the book doesn't grow
// unbounded across a long-running node's lifetime.
func (b *quoteBook) gc(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, byNonce := range b.issued {
		for nonce, q := range byNonce {
			if now.After(q.ExpiresAt) {
				delete(byNonce, nonce)
			}
		}
		if len(byNonce) == 0 {
			delete(b.issued, key)
		}
	}
}
