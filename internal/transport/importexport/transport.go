package importexport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/internal/transport"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

const archiveExt = ".workosync"

// Transport is the import/export SyncTransport: push writes a timestamped
// .workosync archive into the export location; pull always returns nil,
// since imports are explicit user actions rather than part of a sync cycle.
type Transport struct {
	mu             sync.Mutex
	fs             afero.Fs
	exportLocation string
	deviceID       string

	opts         ArchiveOptions
	workspaceKey []byte
	rotation     *envelope.KeyRotationManager
	signer       *crypto.Ed25519Signer

	clock        clock.Clock
	lastActivity *time.Time
}

// New constructs an import/export transport. signer may be nil to skip
// archive signing.
func New(
	fs afero.Fs,
	exportLocation string,
	deviceID string,
	opts ArchiveOptions,
	workspaceKey []byte,
	rotation *envelope.KeyRotationManager,
	signer *crypto.Ed25519Signer,
	clk clock.Clock,
) *Transport {
	return &Transport{
		fs:             fs,
		exportLocation: exportLocation,
		deviceID:       deviceID,
		opts:           opts,
		workspaceKey:   workspaceKey,
		rotation:       rotation,
		signer:         signer,
		clock:          clk,
	}
}

var _ transport.SyncTransport = (*Transport)(nil)

// ID implements transport.SyncTransport.
func (t *Transport) ID() string { return "import_export" }

// Name implements transport.SyncTransport.
func (t *Transport) Name() string { return "Import/Export" }

// IsAvailable implements transport.SyncTransport: always true, since this
// transport is purely file-based and has no remote dependency.
func (t *Transport) IsAvailable(ctx context.Context) bool { return true }

// Initialize implements transport.SyncTransport.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fs.MkdirAll(t.exportLocation, 0o700); err != nil {
		return fmt.Errorf("%w: create export location %s: %v", syncerrors.ErrStorageIO, t.exportLocation, err)
	}
	now := t.clock.Now()
	t.lastActivity = &now
	return nil
}

// Push implements transport.SyncTransport: it writes a new
// flowdesk_config_<timestamp>.workosync archive. The archive build is pure
// and runs once; only the directory creation and file write run under the
// package's standard retry/backoff policy.
func (t *Transport) Push(ctx context.Context, cfg *syncdoc.VersionedConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	body, _, err := CreateArchive(ctx, cfg, "Auto-export", t.deviceID, t.opts, t.workspaceKey, t.rotation, t.signer, now)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	filename := fmt.Sprintf("flowdesk_config_%s%s", now.Format("20060102_150405"), archiveExt)
	path := filepath.Join(t.exportLocation, filename)

	err = transport.RetryTransportOp(ctx, func() error {
		if err := t.fs.MkdirAll(t.exportLocation, 0o700); err != nil {
			return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
		}
		if err := afero.WriteFile(t.fs, path, body, 0o600); err != nil {
			return fmt.Errorf("%w: write archive %s: %v", syncerrors.ErrStorageIO, path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.lastActivity = &now
	return nil
}

// Pull implements transport.SyncTransport. Imports are explicit user
// actions handled outside the sync cycle, so Pull always returns (nil, nil).
func (t *Transport) Pull(ctx context.Context) (*syncdoc.VersionedConfig, error) {
	return nil, nil
}

// List implements transport.SyncTransport: it enumerates .workosync files
// in the export location.
func (t *Transport) List(ctx context.Context) ([]transport.ConfigMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(ctx)
}

func (t *Transport) listLocked(ctx context.Context) ([]transport.ConfigMetadata, error) {
	exists, err := afero.DirExists(t.fs, t.exportLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}
	if !exists {
		return nil, nil
	}

	entries, err := afero.ReadDir(t.fs, t.exportLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: list export location: %v", syncerrors.ErrStorageIO, err)
	}

	var out []transport.ConfigMetadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		out = append(out, transport.ConfigMetadata{
			ID:         strings.TrimSuffix(e.Name(), archiveExt),
			ModifiedBy: t.deviceID,
			ModifiedAt: e.ModTime(),
			SizeBytes:  e.Size(),
		})
	}
	return out, nil
}

// Delete implements transport.SyncTransport.
func (t *Transport) Delete(ctx context.Context, configID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := filepath.Join(t.exportLocation, configID+archiveExt)
	exists, err := afero.Exists(t.fs, path)
	if err != nil {
		return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}
	if !exists {
		return nil
	}
	if err := t.fs.Remove(path); err != nil {
		return fmt.Errorf("%w: delete archive %s: %v", syncerrors.ErrStorageIO, path, err)
	}
	return nil
}

// Status implements transport.SyncTransport.
func (t *Transport) Status(ctx context.Context) (transport.TransportStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	archives, err := t.listLocked(ctx)
	if err != nil {
		return transport.TransportStatus{}, err
	}

	return transport.TransportStatus{
		Connected:    true,
		LastActivity: t.lastActivity,
		Metadata: map[string]string{
			"export_location": t.exportLocation,
			"export_files":    fmt.Sprintf("%d", len(archives)),
			"encrypted":       fmt.Sprintf("%t", t.opts.Encrypt),
		},
	}, nil
}
