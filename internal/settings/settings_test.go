package settings

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func writeSettingsFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultSettingsFileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings file: %v", err)
	}
	return path
}

func validKeyBase64() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestLoad_BasicSettings(t *testing.T) {
	body := `{
		"device_id": "device-a",
		"device_name": "Alice's Laptop",
		"data_dir": "/var/lib/syncd",
		"enabled_transports": ["icloud", "import_export"],
		"rotation_interval_days": 30,
		"max_backups": 5,
		"workspace_key_base64": "` + validKeyBase64() + `"
	}`
	path := writeSettingsFile(t, body)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.DeviceID != "device-a" {
		t.Errorf("expected device_id device-a, got %s", s.DeviceID)
	}
	if !s.TransportEnabled("icloud") {
		t.Error("expected icloud to be enabled")
	}
	if s.TransportEnabled("onedrive") {
		t.Error("did not expect onedrive to be enabled")
	}
	if s.MaxBackups != 5 {
		t.Errorf("expected max_backups 5, got %d", s.MaxBackups)
	}
}

func TestLoad_MissingWorkspaceKey_Fails(t *testing.T) {
	body := `{"device_id": "device-a", "data_dir": "/var/lib/syncd"}`
	path := writeSettingsFile(t, body)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing workspace_key_base64")
	}
}

func TestLoad_MissingFile_Fails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err == nil {
		t.Fatal("expected error for missing settings file")
	}
}

func TestLoad_DefaultsMaxBackupsWhenUnset(t *testing.T) {
	body := `{
		"device_id": "device-a",
		"data_dir": "/var/lib/syncd",
		"workspace_key_base64": "` + validKeyBase64() + `"
	}`
	path := writeSettingsFile(t, body)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.MaxBackups != 10 {
		t.Errorf("expected default max_backups 10, got %d", s.MaxBackups)
	}
}

func TestLoad_EnvOverridesWorkspaceKeyAndDeviceID(t *testing.T) {
	body := `{
		"device_id": "device-a",
		"data_dir": "/var/lib/syncd",
		"workspace_key_base64": "` + validKeyBase64() + `"
	}`
	path := writeSettingsFile(t, body)

	overrideKey := make([]byte, 32)
	for i := range overrideKey {
		overrideKey[i] = byte(31 - i)
	}
	overrideKeyBase64 := base64.StdEncoding.EncodeToString(overrideKey)

	t.Setenv(envWorkspaceKey, overrideKeyBase64)
	t.Setenv(envDeviceID, "device-b")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DeviceID != "device-b" {
		t.Errorf("expected env-overridden device_id device-b, got %s", s.DeviceID)
	}

	key, err := s.WorkspaceKey()
	if err != nil {
		t.Fatalf("WorkspaceKey: %v", err)
	}
	if string(key) != string(overrideKey) {
		t.Error("expected env-overridden workspace key to take effect")
	}
}

func TestLoad_InvalidWorkspaceKeyLength_Fails(t *testing.T) {
	body := `{
		"device_id": "device-a",
		"data_dir": "/var/lib/syncd",
		"workspace_key_base64": "dG9vc2hvcnQ="
	}`
	path := writeSettingsFile(t, body)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for short workspace key")
	}
}
