package crypto

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIterations = 1000

func TestHashGeneratesHexSalt(t *testing.T) {
	h := NewHasher(testIterations)
	hash, salt, err := h.Hash("Passw0rd", "")
	require.NoError(t, err)

	raw, err := hex.DecodeString(salt)
	require.NoError(t, err)
	assert.Len(t, raw, SaltSize)

	parts := strings.Split(hash, "$")
	require.Len(t, parts, 3)
	assert.Equal(t, "pbkdf2-sha512", parts[0])
	assert.Equal(t, "1000", parts[1])
	raw, err = hex.DecodeString(parts[2])
	require.NoError(t, err)
	assert.Len(t, raw, HashSize)
}

func TestVerifyUsesStoredIterations(t *testing.T) {
	hash, salt, err := NewHasher(1000).Hash("Passw0rd", "")
	require.NoError(t, err)

	reconfigured := NewHasher(2000)
	ok, err := reconfigured.Verify("Passw0rd", hash, salt)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = reconfigured.Verify("Passw0rD", hash, salt)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, reconfigured.NeedsRehash(hash))
	assert.False(t, NewHasher(1000).NeedsRehash(hash))
}

func TestVerifyBareHexHash(t *testing.T) {
	h := NewHasher(testIterations)
	key, err := derive("Passw0rd", "salt", testIterations)
	require.NoError(t, err)
	bare := hex.EncodeToString(key)

	ok, err := h.Verify("Passw0rd", bare, "salt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, h.NeedsRehash(bare))
}

func TestHashDeterministic(t *testing.T) {
	h := NewHasher(testIterations)
	h1, s1, err := h.Hash("Passw0rd", "00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	h2, s2, err := h.Hash("Passw0rd", "00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, s1, s2)
}

func TestSaltingIsEffective(t *testing.T) {
	h := NewHasher(testIterations)
	h1, s1, err := h.Hash("Passw0rd", "")
	require.NoError(t, err)
	h2, s2, err := h.Hash("Passw0rd", "")
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, h1, h2)

	ok, err := h.Verify("Passw0rd", h1, s1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.Verify("Passw0rd", h2, s2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsSingleCharMutations(t *testing.T) {
	h := NewHasher(testIterations)
	password := "Passw0rd"
	hash, salt, err := h.Hash(password, "")
	require.NoError(t, err)

	for i := range password {
		b := []byte(password)
		b[i] ^= 0x01
		ok, err := h.Verify(string(b), hash, salt)
		require.NoError(t, err)
		assert.False(t, ok, "mutation at %d accepted", i)
	}

	for _, p := range []string{"", password + "x", password[:len(password)-1]} {
		ok, err := h.Verify(p, hash, salt)
		require.NoError(t, err)
		assert.False(t, ok, "%q accepted", p)
	}
}

func TestVerifyMalformedStoredHash(t *testing.T) {
	h := NewHasher(testIterations)
	for _, stored := range []string{
		"", "zz", "not-hex-at-all",
		"pbkdf2-sha512$abc$00",
		"pbkdf2-sha512$0$00",
		"pbkdf2-sha512$99999999999$00",
		"pbkdf2-sha512$1000",
	} {
		ok, err := h.Verify("Passw0rd", stored, "salt")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestDerivationErrorPropagates(t *testing.T) {
	h := &Hasher{iterations: -1}
	_, _, err := h.Hash("Passw0rd", "salt")
	assert.ErrorIs(t, err, ErrInvalidIterations)

	ok, err := h.Verify("Passw0rd", "00", "salt")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidIterations)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestSaltGenerationFailure(t *testing.T) {
	h := &Hasher{iterations: testIterations, rand: failingReader{}}
	_, _, err := h.Hash("Passw0rd", "")
	assert.Error(t, err)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("abcd", "abcd"))
	assert.False(t, SecureCompare("abcd", "abce"))
	assert.False(t, SecureCompare("abcd", "abc"))
	assert.True(t, SecureCompare("", ""))
}

func TestDefaultIterations(t *testing.T) {
	assert.Equal(t, DefaultIterations, NewHasher(0).Iterations())
}
