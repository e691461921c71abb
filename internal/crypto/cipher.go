package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/pliu/cipherchat/internal/apperr"
)

var pssOptions = &rsa.PSSOptions{SaltLength: PSSSaltLength, Hash: crypto.SHA256}

// Encrypt encrypts plaintext under the recipient's public key with RSA-OAEP
// (SHA-256) and returns the base64 ciphertext. All failures are reported as
// apperr.ErrEncryption.
func Encrypt(plaintext, recipientPublicKey string) (string, error) {
	pub, err := ParsePublicKey(recipientPublicKey)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrEncryption, err)
	}
	if limit := maxPlaintext(pub); len(plaintext) > limit {
		return "", apperr.Wrap(apperr.ErrEncryption,
			fmt.Errorf("%w: %d > %d bytes", ErrPlaintextTooLong, len(plaintext), limit))
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrEncryption, err)
	}
	return ToBase64(ct), nil
}

// maxPlaintext is the OAEP payload ceiling for pub with SHA-256:
// k - 2*hLen - 2.
func maxPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// Decrypt reverses Encrypt. Key mismatch, corruption and padding failures
// are all reported as apperr.ErrDecryption.
func Decrypt(ciphertext, privateKey string) (string, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrDecryption, err)
	}
	ct, err := FromBase64(ciphertext)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrDecryption, ErrInvalidCiphertext)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrDecryption, err)
	}
	return string(pt), nil
}

// Sign produces a base64 RSA-PSS signature over message. Each call draws a
// fresh salt, so signatures over the same message differ.
func Sign(message, privateKey string) (string, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrSigning, err)
	}
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrSigning, fmt.Errorf("sign: %w", err))
	}
	return ToBase64(sig), nil
}

// Verify checks signature over message against publicKey. Any mismatch or
// malformed input yields false.
func Verify(message, signature, publicKey string) bool {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := FromBase64(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions) == nil
}
