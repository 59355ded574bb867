// Package encstorage implements the encrypted ConfigStorage wrapper: it
// composes the envelope and key-rotation packages over a plain
// storage.ConfigStorage, rather than inheriting from it, so cyclic
// storage-wraps-storage designs never arise.
package encstorage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/storage"
	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// sentinelConfig is the shape an encrypted VersionedConfig's Config field
// takes: the real payload is opaque, but the clock/integrity metadata
// around it stays in cleartext so peers can compare causally without
// decrypting.
type sentinelConfig struct {
	Encrypted bool   `json:"encrypted"`
	Envelope  string `json:"envelope"`
}

// EncryptedStorage implements storage.ConfigStorage by encrypting the
// config payload before delegating to an inner, plaintext ConfigStorage.
type EncryptedStorage struct {
	inner           storage.ConfigStorage
	rotation        *envelope.KeyRotationManager
	opts            envelope.Options
	deviceID        string
	deviceKeyPair   *crypto.X25519KeyPair
	devicePublicKey *[32]byte
	clock           clock.Clock
}

// New constructs an EncryptedStorage. deviceKeyPair/devicePublicKey may be
// nil when opts.DoubleEncryption is false.
func New(
	inner storage.ConfigStorage,
	rotation *envelope.KeyRotationManager,
	opts envelope.Options,
	deviceID string,
	deviceKeyPair *crypto.X25519KeyPair,
	devicePublicKey *[32]byte,
	clk clock.Clock,
) *EncryptedStorage {
	return &EncryptedStorage{
		inner:           inner,
		rotation:        rotation,
		opts:            opts,
		deviceID:        deviceID,
		deviceKeyPair:   deviceKeyPair,
		devicePublicKey: devicePublicKey,
		clock:           clk,
	}
}

var _ storage.ConfigStorage = (*EncryptedStorage)(nil)

// SaveConfig encrypts cfg's Config payload and persists the sentinel form.
func (s *EncryptedStorage) SaveConfig(ctx context.Context, cfg *syncdoc.VersionedConfig) error {
	sentinel, err := s.seal(ctx, cfg)
	if err != nil {
		return err
	}
	return s.inner.SaveConfig(ctx, sentinel)
}

// LoadConfig loads the sentinel form and decrypts it back into the real
// VersionedConfig.
func (s *EncryptedStorage) LoadConfig(ctx context.Context) (*syncdoc.VersionedConfig, error) {
	sentinel, err := s.inner.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if sentinel == nil {
		return nil, nil
	}
	return s.unseal(ctx, sentinel)
}

// SaveSecrets encrypts data directly; no outer sentinel is used for the
// secrets blob.
func (s *EncryptedStorage) SaveSecrets(ctx context.Context, data []byte) error {
	key, err := s.rotation.CurrentKey()
	if err != nil {
		return fmt.Errorf("save secrets: %w", err)
	}
	env, err := envelope.Encrypt(ctx, data, s.devicePublicKey, key, s.opts, s.rotation.CurrentVersion(), s.deviceID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("encrypt secrets: %w", err)
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal secrets envelope: %w", err)
	}
	return s.inner.SaveSecrets(ctx, envBytes)
}

// LoadSecrets decrypts the secrets blob. It returns (nil, nil) if none has
// been saved yet.
func (s *EncryptedStorage) LoadSecrets(ctx context.Context) ([]byte, error) {
	envBytes, err := s.inner.LoadSecrets(ctx)
	if err != nil {
		return nil, err
	}
	if envBytes == nil {
		return nil, nil
	}

	var env envelope.EncryptedEnvelope
	if err := json.Unmarshal(envBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: secrets envelope is not valid JSON: %v", syncerrors.ErrIntegrityCheckFailed, err)
	}
	key, err := s.rotation.KeyFor(env.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	plaintext, err := envelope.Decrypt(ctx, &env, s.deviceKeyPair, key, s.opts)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}
	return plaintext, nil
}

// CreateBackup seals cfg the same way SaveConfig does and delegates to the
// inner storage, so backups carry the same envelope form as the live file.
func (s *EncryptedStorage) CreateBackup(ctx context.Context, cfg *syncdoc.VersionedConfig) (string, error) {
	sentinel, err := s.seal(ctx, cfg)
	if err != nil {
		return "", err
	}
	return s.inner.CreateBackup(ctx, sentinel)
}

// ListBackups delegates directly; backup metadata needs no decryption.
func (s *EncryptedStorage) ListBackups(ctx context.Context) ([]storage.BackupInfo, error) {
	return s.inner.ListBackups(ctx)
}

// RestoreBackup loads the sentinel backup and decrypts it.
func (s *EncryptedStorage) RestoreBackup(ctx context.Context, id string) (*syncdoc.VersionedConfig, error) {
	sentinel, err := s.inner.RestoreBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.unseal(ctx, sentinel)
}

// ReplaceBackup seals cfg the same way CreateBackup does and delegates to
// the inner storage, preserving id.
func (s *EncryptedStorage) ReplaceBackup(ctx context.Context, id string, cfg *syncdoc.VersionedConfig) error {
	sentinel, err := s.seal(ctx, cfg)
	if err != nil {
		return err
	}
	return s.inner.ReplaceBackup(ctx, id, sentinel)
}

// DeleteBackup delegates directly.
func (s *EncryptedStorage) DeleteBackup(ctx context.Context, id string) error {
	return s.inner.DeleteBackup(ctx, id)
}

// RepackAll re-encrypts the live secrets blob and every retained backup not
// already sealed under the rotation manager's current key generation. The
// live config itself is repacked by an ordinary SaveConfig call, which
// callers already make as part of applying a rotation. RepackAll does not
// decide when a retired key version becomes safe to prune; the caller marks
// that explicitly via KeyRotationManager.MarkRepacked once this, and any
// repack of remote transport artifacts, has succeeded.
func (s *EncryptedStorage) RepackAll(ctx context.Context) error {
	if err := s.repackSecrets(ctx); err != nil {
		return fmt.Errorf("repack secrets: %w", err)
	}
	if err := s.repackBackups(ctx); err != nil {
		return fmt.Errorf("repack backups: %w", err)
	}
	return nil
}

func (s *EncryptedStorage) repackSecrets(ctx context.Context) error {
	plaintext, err := s.LoadSecrets(ctx)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if plaintext == nil {
		return nil
	}
	return s.SaveSecrets(ctx, plaintext)
}

func (s *EncryptedStorage) repackBackups(ctx context.Context) error {
	backups, err := s.inner.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	current := s.rotation.CurrentVersion()
	for _, b := range backups {
		sentinel, err := s.inner.RestoreBackup(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("restore %s: %w", b.ID, err)
		}
		version, err := s.sentinelKeyVersion(sentinel)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", b.ID, err)
		}
		if version == current {
			continue
		}

		plain, err := s.unseal(ctx, sentinel)
		if err != nil {
			return fmt.Errorf("unseal %s: %w", b.ID, err)
		}
		resealed, err := s.seal(ctx, plain)
		if err != nil {
			return fmt.Errorf("reseal %s: %w", b.ID, err)
		}
		if err := s.inner.ReplaceBackup(ctx, b.ID, resealed); err != nil {
			return fmt.Errorf("replace %s: %w", b.ID, err)
		}
	}
	return nil
}

// sentinelKeyVersion reports the envelope key_version a sealed backup was
// last encrypted under, without fully decrypting it.
func (s *EncryptedStorage) sentinelKeyVersion(sentinel *syncdoc.VersionedConfig) (uint32, error) {
	var wrapper sentinelConfig
	if err := json.Unmarshal(sentinel.Config, &wrapper); err != nil || !wrapper.Encrypted {
		return 0, fmt.Errorf("%w: config is not in encrypted sentinel form", syncerrors.ErrIntegrityCheckFailed)
	}
	var env envelope.EncryptedEnvelope
	if err := json.Unmarshal([]byte(wrapper.Envelope), &env); err != nil {
		return 0, fmt.Errorf("%w: envelope is not valid JSON: %v", syncerrors.ErrIntegrityCheckFailed, err)
	}
	return env.KeyVersion, nil
}

// seal encrypts cfg.Config and returns a new VersionedConfig whose Config
// is the {encrypted, envelope} sentinel, preserving cfg's vector clock and
// mutator metadata in cleartext.
func (s *EncryptedStorage) seal(ctx context.Context, cfg *syncdoc.VersionedConfig) (*syncdoc.VersionedConfig, error) {
	key, err := s.rotation.CurrentKey()
	if err != nil {
		return nil, fmt.Errorf("seal config: %w", err)
	}

	env, err := envelope.Encrypt(ctx, cfg.Config, s.devicePublicKey, key, s.opts, s.rotation.CurrentVersion(), s.deviceID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("encrypt config: %w", err)
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal config envelope: %w", err)
	}

	sentinelBytes, err := json.Marshal(sentinelConfig{Encrypted: true, Envelope: string(envBytes)})
	if err != nil {
		return nil, fmt.Errorf("marshal sentinel: %w", err)
	}

	hash, canon, err := canonicalHash(sentinelBytes)
	if err != nil {
		return nil, err
	}

	out := cfg.Clone()
	out.Config = canon
	out.ConfigHash = hash
	return out, nil
}

// unseal recovers the real VersionedConfig from a sentinel-shaped one.
func (s *EncryptedStorage) unseal(ctx context.Context, sentinel *syncdoc.VersionedConfig) (*syncdoc.VersionedConfig, error) {
	var wrapper sentinelConfig
	if err := json.Unmarshal(sentinel.Config, &wrapper); err != nil || !wrapper.Encrypted {
		return nil, fmt.Errorf("%w: config is not in encrypted sentinel form", syncerrors.ErrIntegrityCheckFailed)
	}

	var env envelope.EncryptedEnvelope
	if err := json.Unmarshal([]byte(wrapper.Envelope), &env); err != nil {
		return nil, fmt.Errorf("%w: envelope is not valid JSON: %v", syncerrors.ErrIntegrityCheckFailed, err)
	}

	key, err := s.rotation.KeyFor(env.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("unseal config: %w", err)
	}
	plaintext, err := envelope.Decrypt(ctx, &env, s.deviceKeyPair, key, s.opts)
	if err != nil {
		return nil, fmt.Errorf("decrypt config: %w", err)
	}

	hash, _, err := canonicalHash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("unseal config: %w", err)
	}

	out := sentinel.Clone()
	out.Config = plaintext
	out.ConfigHash = hash
	return out, nil
}

func canonicalHash(raw []byte) (hash string, canonical []byte, err error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", nil, fmt.Errorf("canonicalize sentinel: %w", err)
	}
	canon, err := crypto.CanonicalJSON(v)
	if err != nil {
		return "", nil, fmt.Errorf("canonicalize sentinel: %w", err)
	}
	return crypto.HashToHex(canon), canon, nil
}
