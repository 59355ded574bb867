// Package crypto provides the cryptographic primitives ECSC is built on:
// canonical hashing, Ed25519 archive signing, and the X25519/ChaCha20-Poly1305
// primitives the encryption envelope composes.
package crypto

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// CanonicalHash computes the SHA-256 hash of data.
func CanonicalHash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// CanonicalJSON serializes a value to canonical JSON.
// Go's json.Marshal sorts map keys, which is what makes config_hash
// reproducible across encode/decode round-trips of the same logical config.
func CanonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// CanonicalHashJSON hashes the canonical JSON representation of a value.
func CanonicalHashJSON(v interface{}) ([]byte, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return CanonicalHash(data), nil
}
