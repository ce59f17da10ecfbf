package recordstore

import (
	"storacore/internal/kadid"
)

// validateChunk checks the spec's Chunk invariant: hash(value) must equal
// the key, using the same multihash/CID digest kadid.HashChunk derives the
// key with in the first place. A mismatch is Invalid; a matching re-put of
// identical content is idempotent and reported by the caller as Stored with
// no disk write needed when the existing content is already identical.
func validateChunk(key kadid.Key, value []byte) bool {
	return kadid.HashChunk(value).Hash == key
}
