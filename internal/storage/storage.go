// Package storage defines the ConfigStorage capability: atomic local
// persistence of a versioned configuration document, a detached secrets
// blob, and a rotating set of pre-overwrite backups.
package storage

import (
	"context"
	"time"

	"github.com/flowdesk/syncd/internal/syncdoc"
)

// BackupInfo describes one retained backup without loading its contents.
type BackupInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfigStorage is the capability the sync orchestrator uses to persist
// state locally. Implementations must make save_config and create_backup
// atomic: a crash between the tmp write and the rename must never leave a
// truncated file in the live path.
type ConfigStorage interface {
	// SaveConfig atomically overwrites the live config with cfg.
	SaveConfig(ctx context.Context, cfg *syncdoc.VersionedConfig) error

	// LoadConfig returns the live config, or (nil, nil) if none has been
	// saved yet. It re-verifies integrity and returns an error on mismatch.
	LoadConfig(ctx context.Context) (*syncdoc.VersionedConfig, error)

	// SaveSecrets atomically overwrites the live secrets blob.
	SaveSecrets(ctx context.Context, data []byte) error

	// LoadSecrets returns the live secrets blob, or (nil, nil) if none
	// exists.
	LoadSecrets(ctx context.Context) ([]byte, error)

	// CreateBackup snapshots cfg under a new timestamped id and enforces
	// the configured backup rotation limit. It must complete before the
	// caller is allowed to overwrite the config it backs up.
	CreateBackup(ctx context.Context, cfg *syncdoc.VersionedConfig) (string, error)

	// ListBackups returns known backups, newest first.
	ListBackups(ctx context.Context) ([]BackupInfo, error)

	// RestoreBackup returns the exact VersionedConfig stored under id.
	RestoreBackup(ctx context.Context, id string) (*syncdoc.VersionedConfig, error)

	// ReplaceBackup overwrites the backup stored under id in place with
	// cfg, preserving id and the backup's position in rotation. Used by a
	// key-rotation repack pass to re-encrypt a retained backup without
	// disturbing backup order or count. Returns ErrBackupNotFound if id
	// does not exist.
	ReplaceBackup(ctx context.Context, id string, cfg *syncdoc.VersionedConfig) error

	// DeleteBackup removes the backup with id. Deleting an id that does
	// not exist returns ErrBackupNotFound.
	DeleteBackup(ctx context.Context, id string) error
}
