// Package crypto implements the cryptographic primitives of the messaging
// core: salted password hashing, RSA key pair generation, and message
// encryption and signing.
//
// Keys are exchanged as standard base64 of their DER encodings: SubjectPublicKeyInfo
// for public keys and PKCS #8 for private keys. Ciphertexts and signatures are
// standard base64 as well.
//
// Messages are encrypted with RSA-OAEP (SHA-256) directly under the
// recipient key, so a plaintext may not exceed the key's OAEP ceiling
// (MaxPlaintextSize bytes for a RSAKeyBits key). Keys smaller than
// RSAKeyBits are rejected.
package crypto
