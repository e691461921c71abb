// Package fingerprint computes the value clients compare before trusting the
// server: the SHA-256 of the leaf certificate's DER encoding, hex encoded.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var ErrNoCertificate = errors.New("fingerprint: no CERTIFICATE block found")

// FromPEM fingerprints the first certificate in data.
func FromPEM(data []byte) (string, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return "", ErrNoCertificate
		}
		if block.Type == "CERTIFICATE" {
			return FromDER(block.Bytes), nil
		}
	}
}

func FromDER(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// FromFile reads a PEM certificate file and fingerprints it.
func FromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: read %s: %w", path, err)
	}
	return FromPEM(data)
}
