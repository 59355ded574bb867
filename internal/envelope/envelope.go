// Package envelope implements the layered encryption envelope: optional
// compression, optional device-key sealed box, workspace-key AEAD, and an
// outer integrity hash that lets a storage layer reject corruption without
// possessing any key.
package envelope

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// FormatVersion is the envelope format tag written into every envelope this
// package produces.
const FormatVersion = "1.0"

// largePayloadThreshold is the payload size above which Encrypt checks for
// context cancellation again after compression; below it, the work finishes
// faster than a cancellation check would help. Decrypt checks only on entry.
const largePayloadThreshold = 64 * 1024

// Options controls which optional layers Encrypt/Decrypt apply.
type Options struct {
	// CompressBeforeEncryption gzips the plaintext before any encryption
	// layer.
	CompressBeforeEncryption bool

	// DoubleEncryption additionally sealed-box-encrypts to a device public
	// key before the workspace-key AEAD layer.
	DoubleEncryption bool
}

// EncryptedEnvelope is the structured container binding ciphertext, AAD,
// integrity hash, and key version together.
type EncryptedEnvelope struct {
	Version       string    `json:"version"`
	KeyVersion    uint32    `json:"key_version"`
	Data          []byte    `json:"data"`
	IntegrityHash string    `json:"integrity_hash"`
	AAD           []byte    `json:"aad"`
	EncryptedAt   time.Time `json:"encrypted_at"`
}

type aadPayload struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Encrypt performs, in order: optional gzip, optional sealed-box to
// devicePublicKey, then ChaCha20-Poly1305 with workspaceKey and a freshly
// computed AAD. devicePublicKey may be nil when opts.DoubleEncryption is
// false.
func Encrypt(
	ctx context.Context,
	plaintext []byte,
	devicePublicKey *[32]byte,
	workspaceKey []byte,
	opts Options,
	keyVersion uint32,
	deviceID string,
	now time.Time,
) (*EncryptedEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := plaintext
	if opts.CompressBeforeEncryption {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		payload = compressed
	}

	if len(payload) > largePayloadThreshold {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if opts.DoubleEncryption {
		if devicePublicKey == nil {
			return nil, fmt.Errorf("double encryption requested without a device public key")
		}
		sealed, err := crypto.EncryptSealedBox(payload, *devicePublicKey)
		if err != nil {
			return nil, fmt.Errorf("seal to device key: %w", err)
		}
		payload = sealed
	}

	aad, err := json.Marshal(aadPayload{DeviceID: deviceID, Timestamp: now})
	if err != nil {
		return nil, fmt.Errorf("marshal aad: %w", err)
	}

	ciphertext, err := crypto.EncryptChaCha20Poly1305(payload, workspaceKey, aad)
	if err != nil {
		return nil, fmt.Errorf("encrypt with workspace key: %w", err)
	}

	return &EncryptedEnvelope{
		Version:       FormatVersion,
		KeyVersion:    keyVersion,
		Data:          ciphertext,
		IntegrityHash: crypto.HashToHex(ciphertext),
		AAD:           aad,
		EncryptedAt:   now,
	}, nil
}

// Decrypt inverts Encrypt, checking the integrity hash before the AEAD
// step. deviceKeyPair must be non-nil when the envelope was produced with
// opts.DoubleEncryption.
func Decrypt(
	ctx context.Context,
	env *EncryptedEnvelope,
	deviceKeyPair *crypto.X25519KeyPair,
	workspaceKey []byte,
	opts Options,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if crypto.HashToHex(env.Data) != env.IntegrityHash {
		return nil, fmt.Errorf("%w", syncerrors.ErrIntegrityCheckFailed)
	}

	payload, err := crypto.DecryptChaCha20Poly1305(env.Data, workspaceKey, env.AAD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerrors.ErrAuthenticationFailed, err)
	}

	if opts.DoubleEncryption {
		if deviceKeyPair == nil {
			return nil, fmt.Errorf("double encryption in use but no device key pair supplied")
		}
		unsealed, err := crypto.DecryptSealedBox(payload, deviceKeyPair)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", syncerrors.ErrAuthenticationFailed, err)
		}
		payload = unsealed
	}

	if opts.CompressBeforeEncryption {
		decompressed, err := gzipDecompress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", syncerrors.ErrDecompressionFailed, err)
		}
		payload = decompressed
	}

	return payload, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
