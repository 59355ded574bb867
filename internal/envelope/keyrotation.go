package envelope

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// KeyEntry is one generation of workspace key. Retired entries are kept
// only long enough for a repack pass to re-encrypt everything under the
// current version.
type KeyEntry struct {
	Version   uint32    `json:"version"`
	Key       []byte    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// RotationInfo is the persisted state of a KeyRotationManager.
type RotationInfo struct {
	CurrentVersion uint32        `json:"current_version"`
	Keys           []KeyEntry    `json:"keys"`
	Interval       time.Duration `json:"rotation_interval"`
	LastRotatedAt  time.Time     `json:"last_rotated_at"`

	// RepackedVersions lists retired key versions every known on-disk
	// artifact has been confirmed re-encrypted away from, making them safe
	// to prune. A retired version absent from this list is never pruned,
	// however far past maxRetainedKeys the key history grows: losing it
	// would strand any artifact still encrypted under it.
	RepackedVersions []uint32 `json:"repacked_versions,omitempty"`
}

// DefaultMaxRetainedKeys bounds how many key generations, the current one
// included, a manager keeps; older generations are pruned only once they
// have been marked repacked (see MarkRepacked).
const DefaultMaxRetainedKeys = 3

// KeyRotationManager tracks the workspace key's version history and decides
// when a new generation is due.
type KeyRotationManager struct {
	mu              sync.Mutex
	info            RotationInfo
	maxRetainedKeys int
	clock           clock.Clock
}

// NewKeyRotationManager constructs a manager with no keys yet; call
// Initialize before first use.
func NewKeyRotationManager(interval time.Duration, maxRetainedKeys int, clk clock.Clock) *KeyRotationManager {
	if maxRetainedKeys <= 0 {
		maxRetainedKeys = DefaultMaxRetainedKeys
	}
	return &KeyRotationManager{
		info:            RotationInfo{Interval: interval},
		maxRetainedKeys: maxRetainedKeys,
		clock:           clk,
	}
}

// LoadKeyRotationManager restores a manager from previously persisted state.
func LoadKeyRotationManager(info RotationInfo, maxRetainedKeys int, clk clock.Clock) *KeyRotationManager {
	if maxRetainedKeys <= 0 {
		maxRetainedKeys = DefaultMaxRetainedKeys
	}
	return &KeyRotationManager{info: info, maxRetainedKeys: maxRetainedKeys, clock: clk}
}

// Initialize generates version 1 if the manager has no keys yet. It is a
// no-op when a key history already exists.
func (m *KeyRotationManager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.info.Keys) > 0 {
		return nil
	}

	key, err := crypto.GenerateChaChaKey()
	if err != nil {
		return fmt.Errorf("generate initial workspace key: %w", err)
	}

	now := m.clock.Now()
	m.info.CurrentVersion = 1
	m.info.Keys = []KeyEntry{{Version: 1, Key: key, CreatedAt: now}}
	m.info.LastRotatedAt = now
	return nil
}

// NeedsRotation reports whether Interval has elapsed since the last
// rotation. A zero Interval disables time-based rotation.
func (m *KeyRotationManager) NeedsRotation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.info.Interval <= 0 {
		return false
	}
	return m.clock.Now().Sub(m.info.LastRotatedAt) >= m.info.Interval
}

// Rotate generates a new key generation and makes it current. The version
// sequence is dense and monotonic: each rotation is CurrentVersion+1.
// Rotate does not prune retired generations itself — see MarkRepacked —
// since a key must never be discarded before every on-disk artifact
// referencing it has been re-encrypted under the new one.
func (m *KeyRotationManager) Rotate() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := crypto.GenerateChaChaKey()
	if err != nil {
		return 0, fmt.Errorf("generate rotated workspace key: %w", err)
	}

	now := m.clock.Now()
	newVersion := m.info.CurrentVersion + 1
	m.info.Keys = append(m.info.Keys, KeyEntry{Version: newVersion, Key: key, CreatedAt: now})
	m.info.CurrentVersion = newVersion
	m.info.LastRotatedAt = now

	return newVersion, nil
}

// MarkRepacked records that every on-disk artifact the caller knows about —
// local config, secrets, backups, and pushed transport artifacts — that
// referenced version has now been re-encrypted under a newer generation,
// then prunes retired, repacked generations beyond maxRetainedKeys.
func (m *KeyRotationManager) MarkRepacked(version uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !containsVersion(m.info.RepackedVersions, version) {
		m.info.RepackedVersions = append(m.info.RepackedVersions, version)
	}
	m.pruneLocked()
}

// pruneLocked removes the oldest retired key entries that have been marked
// repacked, stopping once the key history is back within maxRetainedKeys.
// A retired, unrepacked entry is never removed even if that means the
// history stays larger than maxRetainedKeys: see RepackedVersions. Callers
// must hold m.mu.
func (m *KeyRotationManager) pruneLocked() {
	excess := len(m.info.Keys) - m.maxRetainedKeys
	if excess <= 0 {
		return
	}

	kept := make([]KeyEntry, 0, len(m.info.Keys))
	removed := 0
	for _, k := range m.info.Keys {
		if removed < excess && k.Version != m.info.CurrentVersion && containsVersion(m.info.RepackedVersions, k.Version) {
			removed++
			continue
		}
		kept = append(kept, k)
	}
	m.info.Keys = kept
}

func containsVersion(versions []uint32, v uint32) bool {
	for _, x := range versions {
		if x == v {
			return true
		}
	}
	return false
}

// KeyFor returns the workspace key bytes for version, including retired
// generations still within the retention window.
func (m *KeyRotationManager) KeyFor(version uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range m.info.Keys {
		if k.Version == version {
			return k.Key, nil
		}
	}
	return nil, fmt.Errorf("workspace key version %d: %w", version, syncerrors.ErrUnknownKeyVersion)
}

// CurrentVersion returns the active key generation's version number.
func (m *KeyRotationManager) CurrentVersion() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info.CurrentVersion
}

// CurrentKey returns the active key generation's key bytes.
func (m *KeyRotationManager) CurrentKey() ([]byte, error) {
	return m.KeyFor(m.CurrentVersion())
}

// Snapshot returns a copy of the manager's persisted state suitable for
// serialization by a storage layer.
func (m *KeyRotationManager) Snapshot() RotationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.info
	out.Keys = append([]KeyEntry(nil), m.info.Keys...)
	out.RepackedVersions = append([]uint32(nil), m.info.RepackedVersions...)
	return out
}

// IsRetired reports whether version is older than the manager's current
// generation, meaning any envelope still referencing it is a repack
// candidate.
func (m *KeyRotationManager) IsRetired(version uint32) bool {
	return version != m.CurrentVersion()
}

// Repack re-encrypts env under the manager's current key generation if it
// is not already current, returning env unchanged otherwise. The caller
// supplies the same device key material and AAD inputs used when the
// envelope was first produced.
func Repack(
	ctx context.Context,
	env *EncryptedEnvelope,
	mgr *KeyRotationManager,
	deviceKeyPair *crypto.X25519KeyPair,
	devicePublicKey *[32]byte,
	opts Options,
	deviceID string,
) (*EncryptedEnvelope, error) {
	current := mgr.CurrentVersion()
	if env.KeyVersion == current {
		return env, nil
	}

	oldKey, err := mgr.KeyFor(env.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("repack: %w", err)
	}

	plaintext, err := Decrypt(ctx, env, deviceKeyPair, oldKey, opts)
	if err != nil {
		return nil, fmt.Errorf("repack: decrypt under key version %d: %w", env.KeyVersion, err)
	}

	newKey, err := mgr.CurrentKey()
	if err != nil {
		return nil, fmt.Errorf("repack: %w", err)
	}

	repacked, err := Encrypt(ctx, plaintext, devicePublicKey, newKey, opts, current, deviceID, mgr.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("repack: encrypt under key version %d: %w", current, err)
	}
	return repacked, nil
}
