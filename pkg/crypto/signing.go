package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

// Errors returned by the signing primitives.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKeySize   = errors.New("invalid key size")
)

// SignatureRecord binds a signature to the key and data hash that produced it,
// so a verifier only needs the original bytes (or their hash) plus the record.
type SignatureRecord struct {
	KeyID     string    `json:"key_id"`
	Signature []byte    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
	DataHash  []byte    `json:"data_hash"`
}

// Ed25519Signer signs data with an Ed25519 private key.
type Ed25519Signer struct {
	keyID      string
	privateKey ed25519.PrivateKey
}

// NewEd25519Signer creates a signer bound to keyID.
func NewEd25519Signer(keyID string, privateKey ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, ed25519.PrivateKeySize, len(privateKey))
	}
	return &Ed25519Signer{keyID: keyID, privateKey: privateKey}, nil
}

// Sign returns the Ed25519 signature over data.
func (s *Ed25519Signer) Sign(ctx context.Context, data []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, data), nil
}

// KeyID returns the identifier of the signing key.
func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

// SignWithRecord signs data and returns a SignatureRecord over its hash.
func (s *Ed25519Signer) SignWithRecord(ctx context.Context, data []byte, now time.Time) (SignatureRecord, error) {
	hash := CanonicalHash(data)
	signature, err := s.Sign(ctx, hash)
	if err != nil {
		return SignatureRecord{}, err
	}
	return SignatureRecord{
		KeyID:     s.keyID,
		Signature: signature,
		SignedAt:  now,
		DataHash:  hash,
	}, nil
}

// Ed25519Verifier verifies signatures with an Ed25519 public key.
type Ed25519Verifier struct {
	keyID     string
	publicKey ed25519.PublicKey
}

// NewEd25519Verifier creates a verifier bound to keyID.
func NewEd25519Verifier(keyID string, publicKey ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, ed25519.PublicKeySize, len(publicKey))
	}
	return &Ed25519Verifier{keyID: keyID, publicKey: publicKey}, nil
}

// Verify checks sig against data.
func (v *Ed25519Verifier) Verify(ctx context.Context, data []byte, sig []byte) error {
	if !ed25519.Verify(v.publicKey, data, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyRecord verifies a SignatureRecord against the original data.
func (v *Ed25519Verifier) VerifyRecord(ctx context.Context, data []byte, record SignatureRecord) error {
	if record.KeyID != v.keyID {
		return fmt.Errorf("key ID mismatch: expected %s, got %s", v.keyID, record.KeyID)
	}
	hash := CanonicalHash(data)
	return v.Verify(ctx, hash, record.Signature)
}

// Ed25519KeyPair is a generated Ed25519 key pair for archive signing.
type Ed25519KeyPair struct {
	KeyID      string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	CreatedAt  time.Time
}

// GenerateEd25519KeyPair generates a new signing key pair for a device.
func GenerateEd25519KeyPair(keyID string, now time.Time) (*Ed25519KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Ed25519KeyPair{
		KeyID:      keyID,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		CreatedAt:  now,
	}, nil
}

// Signer returns a signer for this key pair.
func (kp *Ed25519KeyPair) Signer() (*Ed25519Signer, error) {
	return NewEd25519Signer(kp.KeyID, kp.PrivateKey)
}

// Verifier returns a verifier for this key pair.
func (kp *Ed25519KeyPair) Verifier() (*Ed25519Verifier, error) {
	return NewEd25519Verifier(kp.KeyID, kp.PublicKey)
}
