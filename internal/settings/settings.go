// Package settings loads the daemon's own configuration: device identity,
// data directory, which transports to enable, and rotation policy. This is
// never the synchronized VersionedConfig payload, which stays opaque to the
// core; it is the scaffolding the daemon needs to start up.
package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/pkg/crypto"
)

// DefaultSettingsFileName is the conventional settings file name. cmd/syncd's
// -settings flag defaults to a file of this name in the working directory.
const DefaultSettingsFileName = "settings.json"

// DaemonSettings is the daemon's own configuration, distinct from the
// synchronized configuration document it carries.
type DaemonSettings struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DataDir    string `json:"data_dir"`

	// EnabledTransports names which transports to wire at startup:
	// "icloud", "onedrive", "dropbox", "google_drive", "import_export".
	EnabledTransports []string `json:"enabled_transports"`

	// CloudFolders overrides a cloud transport's sync folder path, keyed by
	// the same names used in EnabledTransports. A missing entry falls back
	// to the provider's platform default.
	CloudFolders map[string]string `json:"cloud_folders,omitempty"`

	// ExportLocation is the directory import_export writes archives into.
	ExportLocation string `json:"export_location,omitempty"`

	RotationIntervalDays int `json:"rotation_interval_days"`
	MaxBackups           int `json:"max_backups"`

	CompressBeforeEncryption bool `json:"compress_before_encryption"`
	DoubleEncryption         bool `json:"double_encryption"`

	// WorkspaceKeyBase64 is the base64-encoded 32-byte ChaCha20-Poly1305
	// workspace key. Never generated here: the envelope never invents one,
	// so an empty value is a configuration error at startup, not a default.
	WorkspaceKeyBase64 string `json:"workspace_key_base64"`
}

// envWorkspaceKey and envDeviceID are environment variables that override
// the corresponding file fields, so the workspace key need not sit in a
// cleartext settings file on disk.
const (
	envWorkspaceKey = "SYNCD_WORKSPACE_KEY"
	envDeviceID     = "SYNCD_DEVICE_ID"
)

// Load reads path as JSON into a DaemonSettings, then applies environment
// overrides. A missing file is an error: unlike the synchronized config,
// daemon settings have no sensible synthesized default.
func Load(path string) (*DaemonSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	var s DaemonSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *DaemonSettings) applyEnvOverrides() {
	if v := os.Getenv(envWorkspaceKey); v != "" {
		s.WorkspaceKeyBase64 = v
	}
	if v := os.Getenv(envDeviceID); v != "" {
		s.DeviceID = v
	}
}

// Validate checks the fields Load cannot sensibly default.
func (s *DaemonSettings) Validate() error {
	if s.DeviceID == "" {
		return fmt.Errorf("settings: device_id is required")
	}
	if s.DataDir == "" {
		return fmt.Errorf("settings: data_dir is required")
	}
	if s.WorkspaceKeyBase64 == "" {
		return fmt.Errorf("settings: workspace_key_base64 is required (set %s to avoid storing it on disk)", envWorkspaceKey)
	}
	if _, err := s.WorkspaceKey(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if s.MaxBackups <= 0 {
		s.MaxBackups = 10
	}
	return nil
}

// WorkspaceKey decodes WorkspaceKeyBase64 into raw key bytes.
func (s *DaemonSettings) WorkspaceKey() ([]byte, error) {
	key, err := crypto.DecodeBase64(s.WorkspaceKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode workspace_key_base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("workspace key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// EnvelopeOptions builds the envelope.Options this settings file describes.
func (s *DaemonSettings) EnvelopeOptions() envelope.Options {
	return envelope.Options{
		CompressBeforeEncryption: s.CompressBeforeEncryption,
		DoubleEncryption:         s.DoubleEncryption,
	}
}

// TransportEnabled reports whether name appears in EnabledTransports.
func (s *DaemonSettings) TransportEnabled(name string) bool {
	for _, t := range s.EnabledTransports {
		if t == name {
			return true
		}
	}
	return false
}
