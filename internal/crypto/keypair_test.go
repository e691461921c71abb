package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	a, b := testKeys(t)

	assert.True(t, ValidateKeyPair(a))
	assert.True(t, ValidateKeyPair(b))
	assert.NotEqual(t, a.PublicKey, b.PublicKey)

	pub, err := ParsePublicKey(a.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, RSAKeyBits, pub.N.BitLen())
}

func TestValidateKeyPairMismatch(t *testing.T) {
	a, b := testKeys(t)
	assert.False(t, ValidateKeyPair(&KeyPair{PublicKey: a.PublicKey, PrivateKey: b.PrivateKey}))
	assert.False(t, ValidateKeyPair(&KeyPair{}))
	assert.False(t, ValidateKeyPair(nil))
}

func TestParseMalformedKeys(t *testing.T) {
	a, _ := testKeys(t)

	_, err := ParsePublicKey("not base64!")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParsePublicKey(ToBase64([]byte("garbage")))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParsePublicKey(a.PrivateKey)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = ParsePrivateKey("")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
	_, err = ParsePrivateKey(a.PublicKey)
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestParseRejectsUndersizedKeys(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	small, err := exportKeyPair(priv)
	require.NoError(t, err)

	_, err = ParsePublicKey(small.PublicKey)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParsePrivateKey(small.PrivateKey)
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
	assert.False(t, ValidateKeyPair(small))
}
