package kbucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/kadid"
)

func key(b byte) kadid.Key {
	var k kadid.Key
	k[0] = b
	return k
}

func TestAddPeerAndContains(t *testing.T) {
	self := key(0x00)
	tbl := New(self)

	a := key(0x01)
	tbl.AddPeer(a)
	assert.True(t, tbl.Contains(a))
	assert.Equal(t, 1, tbl.Len())

	// adding self is a no-op
	tbl.AddPeer(self)
	assert.Equal(t, 1, tbl.Len())

	// adding the same peer twice does not duplicate
	tbl.AddPeer(a)
	assert.Equal(t, 1, tbl.Len())
}

func TestRemovePeer(t *testing.T) {
	self := key(0x00)
	tbl := New(self)
	a := key(0x0f)
	tbl.AddPeer(a)
	require.True(t, tbl.Contains(a))

	tbl.RemovePeer(a)
	assert.False(t, tbl.Contains(a))
	assert.Equal(t, 0, tbl.Len())
}

func TestBucketEviction(t *testing.T) {
	self := key(0x00)
	tbl := New(self)

	// all of these have the top bit of byte 0 set, so they share no prefix
	// with self and land in the same bucket (index 0); fill that bucket past
	// capacity and confirm the oldest entry is evicted while Len stays bounded.
	var ids []kadid.Key
	for i := 0; i < kadid.CloseGroupSize+3; i++ {
		var k kadid.Key
		k[0] = 0x80
		k[31] = byte(i + 1)
		ids = append(ids, k)
		tbl.AddPeer(k)
	}
	assert.LessOrEqual(t, tbl.Len(), kadid.CloseGroupSize)
	assert.False(t, tbl.Contains(ids[0]))
}

func TestClosestOrdering(t *testing.T) {
	self := key(0x00)
	tbl := New(self)

	target := key(0x10)
	near := kadid.Key{}
	near[0] = 0x11 // xor distance to target is small (0x01)
	far := kadid.Key{}
	far[0] = 0xf0 // xor distance to target is large

	tbl.AddPeer(near)
	tbl.AddPeer(far)

	closest := tbl.Closest(target, 2)
	require.Len(t, closest, 2)
	assert.Equal(t, near, closest[0])
	assert.Equal(t, far, closest[1])
}

func TestInClosestN(t *testing.T) {
	self := key(0x00)
	tbl := New(self)
	target := key(0x10)

	near := kadid.Key{}
	near[0] = 0x11
	tbl.AddPeer(near)

	assert.True(t, tbl.InClosestN(target, near, 1))
	assert.False(t, tbl.InClosestN(target, key(0xaa), 1))
}

func TestSelfInClosestN(t *testing.T) {
	self := key(0x00)
	tbl := New(self)
	target := key(0x10)

	// self (xor distance 0x10) is closer to target than a lone far peer.
	far := key(0xf0)
	tbl.AddPeer(far)
	assert.True(t, tbl.SelfInClosestN(target, 1))

	// once enough closer peers are known, self falls out of the top-1.
	near := key(0x11)
	tbl.AddPeer(near)
	assert.False(t, tbl.SelfInClosestN(target, 1))
	assert.True(t, tbl.SelfInClosestN(target, 2))
}
