package nodelogic

import (
	"math"
	"math/big"

	"storacore/internal/kadid"
)

// baseCost is the minimum quoted price for a key a node is maximally
// close to and has ample headroom for; distance and fullness only scale it
// upward, keeping the function monotonic in both as §4.E requires.
const baseCost uint64 = 1

// maxDistanceFactor caps how much the distance term can multiply the base
// cost, so a key at the far edge of the keyspace still returns a bounded
// quote rather than overflowing uint64 arithmetic.
const maxDistanceFactor = 1000.0

// QuoteCost computes the price a node charges to store key, as a monotonic
// function of current store fullness (bytes used / bytes cap) and the
// key's normalised XOR distance from self, per §4.E's quote-issuance rule.
// Fullness multiplies the cost by up to 10x as the store approaches
// capacity; distance multiplies it by up to maxDistanceFactor, so far-away
// keys cost considerably more than close ones, nudging uploads toward nodes
// that are already a natural custodian.
func QuoteCost(self, key kadid.Key, bytesUsed, bytesCap int64) uint64 {
	if bytesCap <= 0 {
		return baseCost
	}
	fullness := float64(bytesUsed) / float64(bytesCap)
	if fullness < 0 {
		fullness = 0
	}
	if fullness > 1 {
		fullness = 1
	}
	// fullnessFactor grows slowly at first and steeply as the store fills,
	// discouraging further writes once a node is near capacity.
	fullnessFactor := 1.0 + 9.0*math.Pow(fullness, 3)

	distanceFactor := 1.0 + (maxDistanceFactor-1.0)*normalizedDistance(self, key)

	cost := float64(baseCost) * fullnessFactor * distanceFactor
	if cost < float64(baseCost) {
		cost = float64(baseCost)
	}
	return uint64(math.Round(cost))
}

// maxKeyDistance is the XOR distance between all-zero and all-ones 256-bit
// keys, used to normalise a distance into [0, 1].
var maxKeyDistance = func() *big.Int {
	var ones kadid.Key
	for i := range ones {
		ones[i] = 0xff
	}
	var zero kadid.Key
	return kadid.Distance(zero, ones)
}()

func normalizedDistance(self, key kadid.Key) float64 {
	d := new(big.Float).SetInt(kadid.Distance(self, key))
	max := new(big.Float).SetInt(maxKeyDistance)
	ratio, _ := new(big.Float).Quo(d, max).Float64()
	return ratio
}
