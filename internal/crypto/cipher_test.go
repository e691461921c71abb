package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"

	"github.com/pliu/cipherchat/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	a, _ := testKeys(t)

	for _, m := range []string{
		"",
		"hello",
		"héllo wörld ✓",
		strings.Repeat("x", MaxPlaintextSize),
	} {
		ct, err := Encrypt(m, a.PublicKey)
		require.NoError(t, err)
		assert.NotEqual(t, m, ct)

		pt, err := Decrypt(ct, a.PrivateKey)
		require.NoError(t, err)
		assert.Equal(t, m, pt)
	}
}

func TestEncryptIsProbabilistic(t *testing.T) {
	a, _ := testKeys(t)
	c1, err := Encrypt("hello", a.PublicKey)
	require.NoError(t, err)
	c2, err := Encrypt("hello", a.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestEncryptFailures(t *testing.T) {
	a, _ := testKeys(t)

	_, err := Encrypt(strings.Repeat("x", MaxPlaintextSize+1), a.PublicKey)
	assert.ErrorIs(t, err, apperr.ErrEncryption)
	assert.ErrorIs(t, err, ErrPlaintextTooLong)

	_, err = Encrypt("hello", "bogus")
	assert.ErrorIs(t, err, apperr.ErrEncryption)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestDecryptFailures(t *testing.T) {
	a, b := testKeys(t)
	ct, err := Encrypt("hello", a.PublicKey)
	require.NoError(t, err)

	_, err = Decrypt(ct, b.PrivateKey)
	assert.ErrorIs(t, err, apperr.ErrDecryption)

	raw, err := FromBase64(ct)
	require.NoError(t, err)
	raw[10] ^= 0xff
	_, err = Decrypt(ToBase64(raw), a.PrivateKey)
	assert.ErrorIs(t, err, apperr.ErrDecryption)

	_, err = Decrypt("%%%", a.PrivateKey)
	assert.ErrorIs(t, err, apperr.ErrDecryption)

	_, err = Decrypt(ct, "")
	assert.ErrorIs(t, err, apperr.ErrDecryption)
}

func TestSignVerify(t *testing.T) {
	a, b := testKeys(t)
	msg := "ciphertext-to-authenticate"

	sig, err := Sign(msg, a.PrivateKey)
	require.NoError(t, err)
	assert.True(t, Verify(msg, sig, a.PublicKey))

	// PSS draws a fresh salt per call.
	sig2, err := Sign(msg, a.PrivateKey)
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig2)
	assert.True(t, Verify(msg, sig2, a.PublicKey))

	t.Run("altered message", func(t *testing.T) {
		b := []byte(msg)
		b[0] ^= 0x01
		assert.False(t, Verify(string(b), sig, a.PublicKey))
	})
	t.Run("altered signature", func(t *testing.T) {
		raw, err := FromBase64(sig)
		require.NoError(t, err)
		raw[len(raw)/2] ^= 0x01
		assert.False(t, Verify(msg, ToBase64(raw), a.PublicKey))
	})
	t.Run("different public key", func(t *testing.T) {
		assert.False(t, Verify(msg, sig, b.PublicKey))
	})
	t.Run("malformed inputs", func(t *testing.T) {
		assert.False(t, Verify(msg, "!!", a.PublicKey))
		assert.False(t, Verify(msg, sig, "bogus"))
		assert.False(t, Verify(msg, "", a.PublicKey))
	})
}

func TestSignMalformedKey(t *testing.T) {
	_, err := Sign("m", "bogus")
	assert.ErrorIs(t, err, apperr.ErrSigning)
}

func TestPlaintextCeilingFollowsKeySize(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)
	big, err := exportKeyPair(priv)
	require.NoError(t, err)

	// 3072-bit key: 384 - 2*32 - 2 bytes.
	m := strings.Repeat("x", 318)
	ct, err := Encrypt(m, big.PublicKey)
	require.NoError(t, err)
	pt, err := Decrypt(ct, big.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, m, pt)

	_, err = Encrypt(m+"x", big.PublicKey)
	assert.ErrorIs(t, err, ErrPlaintextTooLong)
}
