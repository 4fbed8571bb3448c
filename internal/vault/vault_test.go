package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundtrip(t *testing.T) {
	v := New("test-master-key")
	require.True(t, v.Ready())

	blob, err := v.Seal([]byte("s3cret-password"))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "s3cret-password")

	plain, err := v.Unseal(blob)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-password", string(plain))
}

func TestSealProducesUniqueBlobs(t *testing.T) {
	v := New("test-master-key")
	a, err := v.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := v.Seal([]byte("same"))
	require.NoError(t, err)
	// nonce случайный — одинаковый plaintext даёт разные блобы
	assert.NotEqual(t, a, b)
}

func TestUnsealWithoutKey(t *testing.T) {
	v := New("")
	require.False(t, v.Ready())

	_, err := v.Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	_, err = v.Unseal([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestUnsealCorrupt(t *testing.T) {
	v := New("test-master-key")
	blob, err := v.Seal([]byte("payload"))
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		_, err := v.Unseal(blob[:4])
		assert.ErrorIs(t, err, ErrCorrupt)
	})
	t.Run("tampered ciphertext", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[len(bad)-1] ^= 0xFF
		_, err := v.Unseal(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
	t.Run("unknown version", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[0] = 99
		_, err := v.Unseal(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
	t.Run("wrong key", func(t *testing.T) {
		other := New("another-master-key")
		_, err := other.Unseal(blob)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestReseal(t *testing.T) {
	oldV := New("old-key")
	newV := New("new-key")

	blob, err := oldV.Seal([]byte("rotate-me"))
	require.NoError(t, err)

	reblob, err := oldV.Reseal(blob, newV)
	require.NoError(t, err)

	_, err = oldV.Unseal(reblob)
	assert.ErrorIs(t, err, ErrCorrupt)

	plain, err := newV.Unseal(reblob)
	require.NoError(t, err)
	assert.Equal(t, "rotate-me", string(plain))
}

func TestZero(t *testing.T) {
	b := []byte("secret")
	Zero(b)
	assert.Equal(t, make([]byte, 6), b)
}
