package crypto

import "errors"

var (
	// ErrInvalidIterations is returned when the hasher is configured with a
	// non-positive round count.
	ErrInvalidIterations = errors.New("invalid iteration count")

	// ErrInvalidPublicKey is returned when a public key cannot be decoded
	// or is not an RSA key.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey is returned when a private key cannot be decoded
	// or is not an RSA key.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrPlaintextTooLong is returned when a plaintext exceeds MaxPlaintextSize.
	ErrPlaintextTooLong = errors.New("plaintext exceeds maximum payload size")

	// ErrInvalidCiphertext is returned when a ciphertext is not valid base64.
	ErrInvalidCiphertext = errors.New("invalid ciphertext encoding")
)
