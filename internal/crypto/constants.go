package crypto

const (
	// RSAKeyBits is the modulus size of generated key pairs.
	RSAKeyBits = 2048

	// MaxPlaintextSize is the OAEP payload ceiling for a RSAKeyBits key.
	// Larger recipient keys allow more; see maxPlaintext.
	MaxPlaintextSize = RSAKeyBits/8 - 2*32 - 2

	// PSSSaltLength is the salt length used for RSA-PSS signatures.
	PSSSaltLength = 32

	// DefaultIterations is the PBKDF2 round count used when none is configured.
	DefaultIterations = 100000

	// MaxIterations bounds the round count accepted from a stored hash.
	MaxIterations = 10000000

	hashScheme = "pbkdf2-sha512"

	// HashSize is the derived password hash length in bytes (512 bits).
	HashSize = 64

	// SaltSize is the number of random bytes in a generated salt.
	SaltSize = 16
)
