package recordstore

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/kadid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	var self kadid.Key
	self[0] = 0xff
	s, err := Open(t.TempDir(), self, 1000, 10*1024*1024)
	require.NoError(t, err)
	return s
}

func TestChunkPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	value := []byte("hello chunk")
	addr := kadid.HashChunk(value)

	rec := &Record{Key: addr.Key(), Value: value, Kind: kadid.KindChunk}

	res1, err := s.ValidateAndStore(rec)
	require.NoError(t, err)
	assert.Equal(t, Stored, res1.Outcome)

	res2, err := s.ValidateAndStore(rec)
	require.NoError(t, err)
	assert.Equal(t, Stored, res2.Outcome)

	got, err := s.Get(addr.Key())
	require.NoError(t, err)
	assert.Equal(t, value, got.Value)
}

func TestChunkHashMismatchIsInvalid(t *testing.T) {
	s := newTestStore(t)
	value := []byte("hello chunk")
	var wrongKey kadid.Key
	wrongKey[0] = 0x42

	rec := &Record{Key: wrongKey, Value: value, Kind: kadid.KindChunk}
	res, err := s.ValidateAndStore(rec)
	require.NoError(t, err)
	assert.Equal(t, Invalid, res.Outcome)
}

func signRegister(t *testing.T, priv ed25519.PrivateKey, entries [][]byte) *RegisterPayload {
	t.Helper()
	hash := registerSigningHash(entries)
	sig := ed25519.Sign(priv, hash[:])
	return &RegisterPayload{Entries: entries, Signature: sig}
}

func TestRegisterMergeIsCommutative(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var owner kadid.Key
	copy(owner[:], pub)

	addr := kadid.RegisterAddress{Hash: kadid.Key{0x01}, Owner: pub}

	r1 := signRegister(t, priv, [][]byte{[]byte("a")})
	r2 := signRegister(t, priv, [][]byte{[]byte("b")})

	data1, err := EncodeRegisterPayload(r1)
	require.NoError(t, err)
	data2, err := EncodeRegisterPayload(r2)
	require.NoError(t, err)

	s1 := newTestStore(t)
	res, err := s1.ValidateAndStore(&Record{Key: addr.Key(), Value: data1, Publisher: &owner, Kind: kadid.KindRegister})
	require.NoError(t, err)
	require.Equal(t, Stored, res.Outcome)
	res, err = s1.ValidateAndStore(&Record{Key: addr.Key(), Value: data2, Publisher: &owner, Kind: kadid.KindRegister})
	require.NoError(t, err)
	require.Equal(t, Stored, res.Outcome)

	s2 := newTestStore(t)
	res, err = s2.ValidateAndStore(&Record{Key: addr.Key(), Value: data2, Publisher: &owner, Kind: kadid.KindRegister})
	require.NoError(t, err)
	require.Equal(t, Stored, res.Outcome)
	res, err = s2.ValidateAndStore(&Record{Key: addr.Key(), Value: data1, Publisher: &owner, Kind: kadid.KindRegister})
	require.NoError(t, err)
	require.Equal(t, Stored, res.Outcome)

	got1, err := s1.Get(addr.Key())
	require.NoError(t, err)
	got2, err := s2.Get(addr.Key())
	require.NoError(t, err)

	p1, err := DecodeRegisterPayload(got1.Value)
	require.NoError(t, err)
	p2, err := DecodeRegisterPayload(got2.Value)
	require.NoError(t, err)
	assert.ElementsMatch(t, p1.Entries, p2.Entries)
}

func TestRegisterNoNewEntriesIsNoOp(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var owner kadid.Key
	copy(owner[:], pub)
	addr := kadid.RegisterAddress{Hash: kadid.Key{0x02}, Owner: pub}

	r1 := signRegister(t, priv, [][]byte{[]byte("x")})
	data1, err := EncodeRegisterPayload(r1)
	require.NoError(t, err)

	s := newTestStore(t)
	_, err = s.ValidateAndStore(&Record{Key: addr.Key(), Value: data1, Publisher: &owner, Kind: kadid.KindRegister})
	require.NoError(t, err)

	res, err := s.ValidateAndStore(&Record{Key: addr.Key(), Value: data1, Publisher: &owner, Kind: kadid.KindRegister})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)
}

func signSpend(priv ed25519.PrivateKey, pub ed25519.PublicKey, content []byte) *SpendPayload {
	return &SpendPayload{
		Content:    content,
		DerivedKey: pub,
		Signature:  ed25519.Sign(priv, content),
	}
}

func TestDoubleSpendDetectionAndDurability(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s := newTestStore(t)

	key := kadid.SpendAddress{Hash: kadid.Key{0x03}}.Key()

	a := signSpend(priv, pub, []byte("spend-a"))
	aData, err := EncodeSpendPayload(a)
	require.NoError(t, err)
	res, err := s.ValidateAndStore(&Record{Key: key, Value: aData, Kind: kadid.KindSpend})
	require.NoError(t, err)
	require.Equal(t, Stored, res.Outcome)

	b := signSpend(priv, pub, []byte("spend-b"))
	bData, err := EncodeSpendPayload(b)
	require.NoError(t, err)
	res, err = s.ValidateAndStore(&Record{Key: key, Value: bData, Kind: kadid.KindSpend})
	require.NoError(t, err)
	require.Equal(t, DoubleSpendDetected, res.Outcome)
	assert.Equal(t, []byte("spend-a"), res.A)
	assert.Equal(t, []byte("spend-b"), res.B)

	_, err = s.Get(key)
	require.Error(t, err)
	var dsErr *DoubleSpendError
	require.ErrorAs(t, err, &dsErr)

	resAgain, err := s.ValidateAndStore(&Record{Key: key, Value: aData, Kind: kadid.KindSpend})
	require.NoError(t, err)
	assert.Equal(t, AlreadyPoisoned, resAgain.Outcome)

	assert.NoFileExists(t, recordPath(s.root, key))
	assert.FileExists(t, doubleSpendPath(s.root, key)+".a")
	assert.FileExists(t, doubleSpendPath(s.root, key)+".b")
}

func TestEvictionBiasesTowardFarthestKey(t *testing.T) {
	var self kadid.Key // zero key: XOR distance equals the key's own magnitude
	s, err := Open(t.TempDir(), self, 2, 10*1024*1024)
	require.NoError(t, err)

	var near, mid, far kadid.Key
	near[0] = 0x01
	mid[0] = 0x80
	far[0] = 0xff

	_, err = s.Put(&Record{Key: near, Value: []byte("near"), Kind: kadid.KindChunk})
	require.NoError(t, err)
	_, err = s.Put(&Record{Key: mid, Value: []byte("mid"), Kind: kadid.KindChunk})
	require.NoError(t, err)
	_, err = s.Put(&Record{Key: far, Value: []byte("far"), Kind: kadid.KindChunk})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(s.Keys()), 2)
	assert.False(t, s.Contains(far))
	assert.True(t, s.Contains(near))
}
