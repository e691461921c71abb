package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Hasher derives salted password hashes with PBKDF2-HMAC-SHA-512.
type Hasher struct {
	iterations int
	rand       io.Reader
}

// NewHasher returns a Hasher using the given round count. A zero count
// selects DefaultIterations.
func NewHasher(iterations int) *Hasher {
	if iterations == 0 {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations, rand: rand.Reader}
}

// Iterations returns the configured round count.
func (h *Hasher) Iterations() int { return h.iterations }

// GenerateSalt returns SaltSize random bytes, hex-encoded.
func (h *Hasher) GenerateSalt() (string, error) {
	buf := make([]byte, SaltSize)
	if _, err := io.ReadFull(h.rand, buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash derives the hash of password and returns it encoded as
// "pbkdf2-sha512$<iterations>$<hex>", so it can be verified after the
// configured round count changes. If salt is empty a fresh one is
// generated. The salt's text bytes are the PBKDF2 salt, so stored salts
// round-trip exactly.
func (h *Hasher) Hash(password, salt string) (hash, usedSalt string, err error) {
	if salt == "" {
		salt, err = h.GenerateSalt()
		if err != nil {
			return "", "", err
		}
	}
	key, err := derive(password, salt, h.iterations)
	if err != nil {
		return "", "", err
	}
	return encodeHash(h.iterations, key), salt, nil
}

// Verify recomputes the hash of password under storedSalt with the round
// count recorded in storedHash and compares in constant time. A bare hex
// hash carries no round count and is checked with the configured one. A
// malformed stored hash is a mismatch. The error is non-nil only when
// derivation itself failed.
func (h *Hasher) Verify(password, storedHash, storedSalt string) (bool, error) {
	iterations, digest, ok := decodeHash(storedHash)
	if !ok {
		return false, nil
	}
	if iterations == 0 {
		iterations = h.iterations
	}
	key, err := derive(password, storedSalt, iterations)
	if err != nil {
		return false, err
	}
	return SecureCompare(hex.EncodeToString(key), digest), nil
}

// NeedsRehash reports whether storedHash was derived with a round count
// other than the configured one.
func (h *Hasher) NeedsRehash(storedHash string) bool {
	iterations, _, ok := decodeHash(storedHash)
	return ok && iterations != h.iterations
}

func encodeHash(iterations int, key []byte) string {
	return hashScheme + "$" + strconv.Itoa(iterations) + "$" + hex.EncodeToString(key)
}

// decodeHash splits an encoded hash. A bare hex hash yields zero
// iterations.
func decodeHash(stored string) (iterations int, digest string, ok bool) {
	if !strings.HasPrefix(stored, hashScheme+"$") {
		return 0, stored, true
	}
	parts := strings.Split(stored, "$")
	if len(parts) != 3 {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 || n > MaxIterations {
		return 0, "", false
	}
	return n, parts[2], true
}

func derive(password, salt string, iterations int) ([]byte, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("pbkdf2: %w: %d", ErrInvalidIterations, iterations)
	}
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, HashSize, sha512.New), nil
}

// SecureCompare compares a and b without an early exit on the first
// differing byte. Unequal lengths return false immediately.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
