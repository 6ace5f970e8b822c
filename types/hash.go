package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the expected size of a hash in bytes
const HashSize = 32

// SignatureSize is the expected size of an Ed25519 signature in bytes
const SignatureSize = 64

// PublicKeySize is the expected size of an Ed25519 public key in bytes
const PublicKeySize = 32

// Hash is a 32-byte digest.
type Hash []byte

// Signature is a 64-byte Ed25519 signature.
type Signature []byte

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey []byte

// NewHash creates a Hash from bytes, returning an error if the size is wrong.
// Use for untrusted input (network, files). The input is copied so callers
// cannot mutate the returned value.
func NewHash(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	h := make(Hash, HashSize)
	copy(h, data)
	return h, nil
}

// HashBytes computes the SHA-256 hash of data.
func HashBytes(data []byte) Hash {
	h := sha256.Sum256(data)
	return h[:]
}

// IsEmpty returns true if the hash is nil or all zeros.
func (h Hash) IsEmpty() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares two hashes.
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// NewSignature creates a Signature from bytes, returning an error if the
// size is wrong. The input is copied.
func NewSignature(data []byte) (Signature, error) {
	if len(data) != SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(data))
	}
	s := make(Signature, SignatureSize)
	copy(s, data)
	return s, nil
}

// Equal compares two signatures.
func (s Signature) Equal(other Signature) bool {
	return bytes.Equal(s, other)
}

// NewPublicKey creates a PublicKey from bytes, returning an error if the
// size is wrong. The input is copied.
func NewPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	p := make(PublicKey, PublicKeySize)
	copy(p, data)
	return p, nil
}

// Equal compares two public keys.
func (p PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(p, other)
}

// Address returns the 20-byte address derived from the public key
// (the leading bytes of its SHA-256 digest).
func (p PublicKey) Address() []byte {
	h := sha256.Sum256(p)
	return h[:20]
}
