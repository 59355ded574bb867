// Package transport defines the SyncTransport capability and the reference
// transports that carry a VersionedConfig between devices.
package transport

import (
	"context"
	"time"

	"github.com/flowdesk/syncd/internal/syncdoc"
)

// ConfigMetadata describes a remote artifact without requiring the caller
// to pull and decrypt its full contents.
type ConfigMetadata struct {
	ID            string    `json:"id"`
	SchemaVersion string    `json:"schema_version"`
	ModifiedBy    string    `json:"modified_by"`
	ModifiedAt    time.Time `json:"modified_at"`
	SizeBytes     int64     `json:"size_bytes"`
	Checksum      string    `json:"checksum"`
}

// TransportStatus reports a transport's health for diagnostics and the UI
// layer above the core (out of this module's scope, but the data it would
// consume is produced here).
type TransportStatus struct {
	Connected    bool              `json:"connected"`
	LastActivity *time.Time        `json:"last_activity,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

// SyncTransport is a pluggable carrier for the synchronized configuration.
// Implementations never swallow errors: pull/push/list/delete failures are
// returned to the caller, which treats them as soft, per-transport failures
// and proceeds with the remaining transports.
type SyncTransport interface {
	// ID returns a stable identifier for this transport instance.
	ID() string

	// Name returns a human-readable label.
	Name() string

	// IsAvailable performs a cheap reachability/precondition check.
	IsAvailable(ctx context.Context) bool

	// Initialize performs one-time setup: directory creation, handshakes.
	Initialize(ctx context.Context) error

	// Push overwrites the remote copy with cfg. Push is last-writer-wins at
	// the transport level; causal correctness is the orchestrator's
	// responsibility.
	Push(ctx context.Context, cfg *syncdoc.VersionedConfig) error

	// Pull returns the remote copy, or (nil, nil) if the transport has no
	// remote copy yet.
	Pull(ctx context.Context) (*syncdoc.VersionedConfig, error)

	// List returns metadata for artifacts the transport knows about.
	List(ctx context.Context) ([]ConfigMetadata, error)

	// Delete removes the artifact identified by configID.
	Delete(ctx context.Context, configID string) error

	// Status reports connectivity and last-activity diagnostics.
	Status(ctx context.Context) (TransportStatus, error)
}
