// Package cloudfolder implements a SyncTransport that stores the
// synchronized configuration in a directory an external cloud client
// (iCloud, OneDrive, Dropbox, Google Drive) keeps in sync. Push writes
// config.json and metadata.json; Delete and Status also handle a
// secrets.bin in that folder, which Push does not write.
package cloudfolder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/internal/transport"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// CloudProvider identifies which cloud client's sync folder is in use.
type CloudProvider int

const (
	ICloud CloudProvider = iota
	OneDrive
	Dropbox
	GoogleDrive
)

// DisplayName returns the provider's human-readable name.
func (p CloudProvider) DisplayName() string {
	switch p {
	case ICloud:
		return "iCloud Drive"
	case OneDrive:
		return "OneDrive"
	case Dropbox:
		return "Dropbox"
	case GoogleDrive:
		return "Google Drive"
	default:
		return "Unknown"
	}
}

func (p CloudProvider) slug() string {
	return strings.ReplaceAll(strings.ToLower(p.DisplayName()), " ", "_")
}

// DefaultPath returns the provider's default sync folder on the current
// platform, or "" if the provider has no known default here.
func (p CloudProvider) DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch p {
	case ICloud:
		if runtime.GOOS != "darwin" {
			return ""
		}
		return filepath.Join(home, "Library/Mobile Documents/com~apple~CloudDocs/FlowDesk")
	case OneDrive:
		return filepath.Join(home, "OneDrive/FlowDesk")
	case Dropbox:
		return filepath.Join(home, "Dropbox/FlowDesk")
	case GoogleDrive:
		if runtime.GOOS == "linux" {
			return filepath.Join(home, "google-drive-ocamlfuse/FlowDesk")
		}
		return filepath.Join(home, "Google Drive/FlowDesk")
	default:
		return ""
	}
}

// DefaultMaxFileSize is the push size cap the original FlowDesk cloud
// transports used: 10 MiB.
const DefaultMaxFileSize = 10 * 1024 * 1024

const (
	configFileName   = "config.json"
	secretsFileName  = "secrets.bin"
	metadataFileName = "metadata.json"
)

// Transport is the cloud-folder SyncTransport implementation.
type Transport struct {
	mu       sync.Mutex
	fs       afero.Fs
	provider CloudProvider
	folder   string

	maxFileSize int64

	rotation        *envelope.KeyRotationManager
	opts            envelope.Options
	deviceID        string
	deviceKeyPair   *crypto.X25519KeyPair
	devicePublicKey *[32]byte
	clock           clock.Clock

	lastActivity *time.Time
	lastErr      string
}

// New constructs a cloud-folder transport rooted at folder. deviceKeyPair
// and devicePublicKey may be nil when opts.DoubleEncryption is false.
func New(
	fs afero.Fs,
	provider CloudProvider,
	folder string,
	maxFileSize int64,
	rotation *envelope.KeyRotationManager,
	opts envelope.Options,
	deviceID string,
	deviceKeyPair *crypto.X25519KeyPair,
	devicePublicKey *[32]byte,
	clk clock.Clock,
) *Transport {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Transport{
		fs:              fs,
		provider:        provider,
		folder:          folder,
		maxFileSize:     maxFileSize,
		rotation:        rotation,
		opts:            opts,
		deviceID:        deviceID,
		deviceKeyPair:   deviceKeyPair,
		devicePublicKey: devicePublicKey,
		clock:           clk,
	}
}

var _ transport.SyncTransport = (*Transport)(nil)

// ID implements transport.SyncTransport.
func (t *Transport) ID() string { return "cloud_" + t.provider.slug() }

// Name implements transport.SyncTransport.
func (t *Transport) Name() string { return t.provider.DisplayName() }

// IsAvailable implements transport.SyncTransport: the folder must exist
// and be a directory.
func (t *Transport) IsAvailable(ctx context.Context) bool {
	info, err := t.fs.Stat(t.folder)
	return err == nil && info.IsDir()
}

// Initialize implements transport.SyncTransport.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fs.MkdirAll(t.folder, 0o700); err != nil {
		return fmt.Errorf("%w: create cloud folder %s: %v", syncerrors.ErrStorageIO, t.folder, err)
	}
	now := t.clock.Now()
	t.lastActivity = &now
	t.lastErr = ""
	return nil
}

func (t *Transport) path(name string) string { return filepath.Join(t.folder, name) }

// Push implements transport.SyncTransport: it overwrites config.json and
// metadata.json with fresh envelopes; it writes no secrets.bin. A file over
// the size cap fails the push at once, without retrying. The file writes run under the package's standard
// retry/backoff policy (internal/transport.RetryTransportOp) so a
// transiently locked file (a cloud client mid-sync, a momentary permission
// glitch) doesn't fail the whole push; the caller's ctx deadline still
// bounds how long that retrying can run.
func (t *Transport) Push(ctx context.Context, cfg *syncdoc.VersionedConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	md := metadataFor(cfg)
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	err = transport.RetryTransportOp(ctx, func() error {
		if err := t.fs.MkdirAll(t.folder, 0o700); err != nil {
			return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
		}
		if err := t.writeEnveloped(ctx, configFileName, configJSON); err != nil {
			return err
		}
		return t.writeEnveloped(ctx, metadataFileName, mdJSON)
	})
	if err != nil {
		t.lastErr = err.Error()
		return err
	}

	now := t.clock.Now()
	t.lastActivity = &now
	t.lastErr = ""
	return nil
}

// Pull implements transport.SyncTransport. The read also runs under the
// standard retry/backoff policy, for the same reason as Push.
func (t *Transport) Pull(ctx context.Context) (*syncdoc.VersionedConfig, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var data []byte
	err := transport.RetryTransportOp(ctx, func() error {
		d, err := t.readEnveloped(ctx, configFileName)
		data = d
		return err
	})
	if err != nil {
		t.lastErr = err.Error()
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var cfg syncdoc.VersionedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config.json is not valid JSON: %v", syncerrors.ErrRemoteMalformed, err)
	}
	if err := cfg.VerifyIntegrity(); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerrors.ErrIntegrityCheckFailed, err)
	}

	now := t.clock.Now()
	t.lastActivity = &now
	return &cfg, nil
}

// List implements transport.SyncTransport: a cloud folder carries at most
// one document, so at most one ConfigMetadata is returned.
func (t *Transport) List(ctx context.Context) ([]transport.ConfigMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.readEnveloped(ctx, metadataFileName)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var md transport.ConfigMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%w: metadata.json is not valid JSON: %v", syncerrors.ErrRemoteMalformed, err)
	}
	return []transport.ConfigMetadata{md}, nil
}

// Delete implements transport.SyncTransport. configID is ignored: a cloud
// folder holds a single document, so deletion clears all three files.
func (t *Transport) Delete(ctx context.Context, configID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, name := range []string{configFileName, secretsFileName, metadataFileName} {
		path := t.path(name)
		exists, err := afero.Exists(t.fs, path)
		if err != nil {
			return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
		}
		if !exists {
			continue
		}
		if err := t.fs.Remove(path); err != nil {
			return fmt.Errorf("%w: remove %s: %v", syncerrors.ErrStorageIO, path, err)
		}
	}
	return nil
}

// Status implements transport.SyncTransport.
func (t *Transport) Status(ctx context.Context) (transport.TransportStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	configExists, _ := afero.Exists(t.fs, t.path(configFileName))
	secretsExists, _ := afero.Exists(t.fs, t.path(secretsFileName))
	metadataExists, _ := afero.Exists(t.fs, t.path(metadataFileName))

	return transport.TransportStatus{
		Connected:    t.IsAvailable(ctx),
		LastActivity: t.lastActivity,
		Error:        t.lastErr,
		Metadata: map[string]string{
			"provider":        t.provider.DisplayName(),
			"folder_path":     t.folder,
			"config_exists":   boolString(configExists),
			"secrets_exists":  boolString(secretsExists),
			"metadata_exists": boolString(metadataExists),
		},
	}, nil
}

func (t *Transport) writeEnveloped(ctx context.Context, name string, plaintext []byte) error {
	key, err := t.rotation.CurrentKey()
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	env, err := envelope.Encrypt(ctx, plaintext, t.devicePublicKey, key, t.opts, t.rotation.CurrentVersion(), t.deviceID, t.clock.Now())
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", name, err)
	}
	if int64(len(envBytes)) > t.maxFileSize {
		return backoff.Permanent(fmt.Errorf("%w: %s is %d bytes, limit %d", syncerrors.ErrFileTooLarge, name, len(envBytes), t.maxFileSize))
	}

	tmp := t.path(name) + ".tmp"
	if err := afero.WriteFile(t.fs, tmp, envBytes, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", syncerrors.ErrStorageIO, tmp, err)
	}
	if err := t.fs.Rename(tmp, t.path(name)); err != nil {
		return fmt.Errorf("%w: rename %s into place: %v", syncerrors.ErrStorageIO, name, err)
	}
	return nil
}

func (t *Transport) readEnveloped(ctx context.Context, name string) ([]byte, error) {
	path := t.path(name)
	exists, err := afero.Exists(t.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}
	if !exists {
		return nil, nil
	}

	envBytes, err := afero.ReadFile(t.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", syncerrors.ErrStorageIO, path, err)
	}

	var env envelope.EncryptedEnvelope
	if err := json.Unmarshal(envBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid envelope: %v", syncerrors.ErrRemoteMalformed, name, err)
	}

	key, err := t.rotation.KeyFor(env.KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	plaintext, err := envelope.Decrypt(ctx, &env, t.deviceKeyPair, key, t.opts)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plaintext, nil
}

func metadataFor(cfg *syncdoc.VersionedConfig) transport.ConfigMetadata {
	return transport.ConfigMetadata{
		ID:            cfg.ConfigHash,
		SchemaVersion: cfg.SchemaVersion,
		ModifiedBy:    cfg.ModifiedBy,
		ModifiedAt:    cfg.ModifiedAt,
		SizeBytes:     int64(len(cfg.Config)),
		Checksum:      cfg.ConfigHash,
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
