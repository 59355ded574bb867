package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// ErrAuthenticationFailed is returned when an AEAD or sealed-box tag fails to
// verify; callers must never return partially-decrypted plaintext on this path.
var ErrAuthenticationFailed = errors.New("authentication failed")

// X25519KeyPair holds a Curve25519 key pair used for sealed-box encryption.
type X25519KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// GenerateX25519KeyPair generates a new X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 keypair: %w", err)
	}
	return &X25519KeyPair{PublicKey: *pub, PrivateKey: *priv}, nil
}

// DerivePublicKey recomputes the X25519 public key for a private key, useful
// when only the scalar was persisted.
func DerivePublicKey(privateKey [32]byte) ([32]byte, error) {
	var pub [32]byte
	out, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(pub[:], out)
	return pub, nil
}

// EncryptSealedBox performs anonymous sealed-box encryption: an ephemeral
// sender key pair is generated per message and its public half is prefixed to
// the ciphertext, so the recipient never learns who encrypted the message.
func EncryptSealedBox(plaintext []byte, recipientPublicKey [32]byte) ([]byte, error) {
	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := box.Seal(nil, plaintext, &nonce, &recipientPublicKey, ephemeralPriv)

	out := make([]byte, 0, 32+24+len(sealed))
	out = append(out, ephemeralPub[:]...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptSealedBox inverts EncryptSealedBox using the recipient's key pair.
func DecryptSealedBox(ciphertext []byte, recipient *X25519KeyPair) ([]byte, error) {
	if len(ciphertext) < 32+24 {
		return nil, fmt.Errorf("%w: sealed box too short", ErrAuthenticationFailed)
	}

	var ephemeralPub [32]byte
	copy(ephemeralPub[:], ciphertext[:32])
	var nonce [24]byte
	copy(nonce[:], ciphertext[32:56])
	sealed := ciphertext[56:]

	plaintext, ok := box.Open(nil, sealed, &nonce, &ephemeralPub, &recipient.PrivateKey)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// GenerateChaChaKey generates a new 32-byte ChaCha20-Poly1305 key.
func GenerateChaChaKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate chacha20poly1305 key: %w", err)
	}
	return key, nil
}

// EncryptChaCha20Poly1305 encrypts plaintext with key, authenticating aad.
// The returned bytes are nonce || ciphertext (the AEAD tag is part of
// ciphertext, per chacha20poly1305.Seal).
func EncryptChaCha20Poly1305(plaintext, key, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("construct aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// DecryptChaCha20Poly1305 inverts EncryptChaCha20Poly1305.
func DecryptChaCha20Poly1305(ciphertext, key, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("construct aead: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthenticationFailed)
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// HashToHex returns the lowercase hex-encoded SHA-256 hash of data.
func HashToHex(data []byte) string {
	return hex.EncodeToString(CanonicalHash(data))
}

// EncodeBase64 encodes data as standard base64.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard base64 text.
func DecodeBase64(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// GenerateID returns a 128-bit random identifier as 32 lowercase hex
// characters (a UUIDv4 with its dashes stripped, so device ids, backup ids,
// and cycle ids all share one generator).
func GenerateID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
