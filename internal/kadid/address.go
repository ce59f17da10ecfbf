package kadid

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

var errKeyLength = errors.New("kadid: key must be 32 bytes")

// RecordKind enumerates the record types carried in a NetworkAddress and in
// the record store's type index.
type RecordKind uint8

const (
	KindChunk RecordKind = iota + 1
	KindRegister
	KindSpend
)

func (k RecordKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindRegister:
		return "register"
	case KindSpend:
		return "spend"
	default:
		return "unknown"
	}
}

// NetworkAddress is the tagged union over ChunkAddress / RegisterAddress /
// SpendAddress / PeerAddress described in the data model. Every variant
// projects to a single 256-bit Key used for routing and storage indexing.
type NetworkAddress interface {
	Key() Key
	Kind() RecordKind
	String() string
}

// ChunkAddress identifies an immutable, content-addressed chunk: its Key IS
// the hash of its value.
type ChunkAddress struct{ Hash Key }

func (a ChunkAddress) Key() Key         { return a.Hash }
func (a ChunkAddress) Kind() RecordKind { return KindChunk }
func (a ChunkAddress) String() string   { return fmt.Sprintf("chunk(%s)", a.Hash) }

// RegisterAddress identifies a CRDT register owned by a signing key. Two
// registers with the same Hash but different owners occupy distinct keys.
type RegisterAddress struct {
	Hash  Key
	Owner []byte // register owner's public key
}

func (a RegisterAddress) Key() Key {
	h := sha256.Sum256(append(append([]byte{}, a.Hash[:]...), a.Owner...))
	return Key(h)
}
func (a RegisterAddress) Kind() RecordKind { return KindRegister }
func (a RegisterAddress) String() string   { return fmt.Sprintf("register(%s)", a.Hash) }

// SpendAddress identifies a single-spend slot.
type SpendAddress struct{ Hash Key }

func (a SpendAddress) Key() Key         { return a.Hash }
func (a SpendAddress) Kind() RecordKind { return KindSpend }
func (a SpendAddress) String() string   { return fmt.Sprintf("spend(%s)", a.Hash) }

// PeerAddress wraps a PeerId for routing-table lookups (GetClosestPeers).
type PeerAddress struct{ Peer Key }

func (a PeerAddress) Key() Key         { return a.Peer }
func (a PeerAddress) Kind() RecordKind { return 0 }
func (a PeerAddress) String() string   { return fmt.Sprintf("peer(%s)", a.Peer) }

// HashChunk derives a ChunkAddress the same way the teacher's Storage.Pin
// derives a chunk's CID: a SHA2-256 multihash wrapped in a CIDv1/raw. The
// record key is the 32-byte digest extracted from that CID, so two chunks
// collide on Key exactly when they'd collide on CID.
func HashChunk(value []byte) ChunkAddress {
	sum, err := mh.Sum(value, mh.SHA2_256, -1)
	if err != nil {
		// mh.Sum only fails on an unsupported hash or a negative fixed
		// length; SHA2_256 with length -1 never exercises either path.
		panic("kadid: multihash sum of SHA2_256 failed: " + err.Error())
	}
	c := cid.NewCidV1(cid.Raw, sum)
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		panic("kadid: decode of freshly computed multihash failed: " + err.Error())
	}
	var key Key
	copy(key[:], decoded.Digest)
	return ChunkAddress{Hash: key}
}
