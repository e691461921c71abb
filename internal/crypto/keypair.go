package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
)

// KeyPair holds both halves of an RSA key pair in their portable encodings.
type KeyPair struct {
	// PublicKey is the base64 SubjectPublicKeyInfo DER encoding.
	PublicKey string
	// PrivateKey is the base64 PKCS #8 DER encoding.
	PrivateKey string
}

// KeyGenerator produces fresh key pairs. It persists nothing.
type KeyGenerator interface {
	Generate() (*KeyPair, error)
}

// RSAKeyGenerator generates RSAKeyBits-bit RSA key pairs.
type RSAKeyGenerator struct {
	// Rand defaults to crypto/rand when nil.
	Rand io.Reader
}

// Generate creates a new key pair.
func (g RSAKeyGenerator) Generate() (*KeyPair, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	priv, err := rsa.GenerateKey(r, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return exportKeyPair(priv)
}

// GenerateKeyPair creates a new key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return RSAKeyGenerator{}.Generate()
}

func exportKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("export public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("export private key: %w", err)
	}
	return &KeyPair{
		PublicKey:  ToBase64(pubDER),
		PrivateKey: ToBase64(privDER),
	}, nil
}

// ParsePublicKey decodes a base64 SubjectPublicKeyInfo RSA public key.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := FromBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	if bits := pub.N.BitLen(); bits < RSAKeyBits {
		return nil, fmt.Errorf("%w: %d-bit modulus, need %d", ErrInvalidPublicKey, bits, RSAKeyBits)
	}
	return pub, nil
}

// ParsePrivateKey decodes a base64 PKCS #8 RSA private key.
func ParsePrivateKey(s string) (*rsa.PrivateKey, error) {
	der, err := FromBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPrivateKey)
	}
	if bits := priv.N.BitLen(); bits < RSAKeyBits {
		return nil, fmt.Errorf("%w: %d-bit modulus, need %d", ErrInvalidPrivateKey, bits, RSAKeyBits)
	}
	return priv, nil
}

// ValidateKeyPair reports whether both halves decode and belong together.
func ValidateKeyPair(kp *KeyPair) bool {
	if kp == nil || kp.PublicKey == "" || kp.PrivateKey == "" {
		return false
	}
	pub, err := ParsePublicKey(kp.PublicKey)
	if err != nil {
		return false
	}
	priv, err := ParsePrivateKey(kp.PrivateKey)
	if err != nil {
		return false
	}
	return priv.PublicKey.Equal(pub)
}
