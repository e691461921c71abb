package crypto

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	keyA     *KeyPair
	keyB     *KeyPair
)

// testKeys returns two key pairs shared by the package's tests; RSA
// generation is too slow to repeat per test.
func testKeys(t *testing.T) (*KeyPair, *KeyPair) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		keyA, err = GenerateKeyPair()
		require.NoError(t, err)
		keyB, err = GenerateKeyPair()
		require.NoError(t, err)
	})
	require.NotNil(t, keyA)
	require.NotNil(t, keyB)
	return keyA, keyB
}
