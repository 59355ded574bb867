package encstorage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/storage"
	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

func generateDeviceKeysForTest(t *testing.T) *crypto.X25519KeyPair {
	t.Helper()
	keys, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}
	return keys
}

func newTestEncryptedStorage(t *testing.T, opts envelope.Options) (*EncryptedStorage, clock.Clock) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	local, err := storage.NewLocalStorage(afero.NewMemMapFs(), "/base", 5, clk)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	rotation := envelope.NewKeyRotationManager(0, 0, clk)
	if err := rotation.Initialize(); err != nil {
		t.Fatalf("rotation.Initialize: %v", err)
	}

	es := New(local, rotation, opts, "device-a", nil, nil, clk)
	return es, clk
}

func TestEncryptedStorage_SaveLoadConfig_RoundTrip(t *testing.T) {
	ctx := context.Background()
	es, clk := newTestEncryptedStorage(t, envelope.Options{})

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", clk.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}

	if err := es.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := es.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a loaded config")
	}
	if string(loaded.Config) != string(cfg.Config) {
		t.Errorf("config mismatch: got %s want %s", loaded.Config, cfg.Config)
	}
	if loaded.ConfigHash != cfg.ConfigHash {
		t.Error("config_hash mismatch after round trip")
	}
	if !loaded.VectorClock.Equals(cfg.VectorClock) {
		t.Error("vector clock should survive the encrypt/decrypt round trip unchanged")
	}
}

func TestEncryptedStorage_SentinelShapeOnDisk(t *testing.T) {
	ctx := context.Background()
	es, clk := newTestEncryptedStorage(t, envelope.Options{})
	local := es.inner.(*storage.LocalStorage)

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", clk.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	if err := es.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	raw, err := local.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("inner LoadConfig: %v", err)
	}

	var wrapper sentinelConfig
	if err := json.Unmarshal(raw.Config, &wrapper); err != nil {
		t.Fatalf("on-disk config is not the sentinel shape: %v", err)
	}
	if !wrapper.Encrypted {
		t.Error("expected encrypted:true on disk")
	}
	if wrapper.Envelope == "" {
		t.Error("expected a non-empty envelope field on disk")
	}
	if !raw.VectorClock.Equals(cfg.VectorClock) {
		t.Error("outer vector clock must remain cleartext on disk")
	}
}

func TestEncryptedStorage_SaveLoadSecrets_RoundTrip(t *testing.T) {
	ctx := context.Background()
	es, _ := newTestEncryptedStorage(t, envelope.Options{})
	data := []byte("api-token-xyz")

	if err := es.SaveSecrets(ctx, data); err != nil {
		t.Fatalf("SaveSecrets: %v", err)
	}
	got, err := es.LoadSecrets(ctx)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("secrets mismatch: got %q want %q", got, data)
	}
}

func TestEncryptedStorage_CreateBackupRestoreBackup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	es, clk := newTestEncryptedStorage(t, envelope.Options{})

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", clk.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}

	id, err := es.CreateBackup(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	restored, err := es.RestoreBackup(ctx, id)
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if restored.ConfigHash != cfg.ConfigHash {
		t.Error("restored backup config_hash mismatch")
	}
}

func TestEncryptedStorage_RepackAll_ReencryptsSecretsAndBackupsUnderCurrentKey(t *testing.T) {
	ctx := context.Background()
	es, clk := newTestEncryptedStorage(t, envelope.Options{})

	if err := es.SaveSecrets(ctx, []byte("api-token-xyz")); err != nil {
		t.Fatalf("SaveSecrets: %v", err)
	}

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", clk.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	id, err := es.CreateBackup(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	if _, err := es.rotation.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	current := es.rotation.CurrentVersion()

	if err := es.RepackAll(ctx); err != nil {
		t.Fatalf("RepackAll: %v", err)
	}

	envBytes, err := es.inner.LoadSecrets(ctx)
	if err != nil {
		t.Fatalf("inner LoadSecrets: %v", err)
	}
	var secretsEnv envelope.EncryptedEnvelope
	if err := json.Unmarshal(envBytes, &secretsEnv); err != nil {
		t.Fatalf("secrets envelope not valid JSON: %v", err)
	}
	if secretsEnv.KeyVersion != current {
		t.Errorf("expected secrets repacked to key version %d, got %d", current, secretsEnv.KeyVersion)
	}

	sentinel, err := es.inner.RestoreBackup(ctx, id)
	if err != nil {
		t.Fatalf("inner RestoreBackup: %v", err)
	}
	version, err := es.sentinelKeyVersion(sentinel)
	if err != nil {
		t.Fatalf("sentinelKeyVersion: %v", err)
	}
	if version != current {
		t.Errorf("expected backup repacked to key version %d, got %d", current, version)
	}

	secrets, err := es.LoadSecrets(ctx)
	if err != nil {
		t.Fatalf("LoadSecrets after repack: %v", err)
	}
	if string(secrets) != "api-token-xyz" {
		t.Errorf("secrets content changed by repack: got %q", secrets)
	}

	restored, err := es.RestoreBackup(ctx, id)
	if err != nil {
		t.Fatalf("RestoreBackup after repack: %v", err)
	}
	if restored.ConfigHash != cfg.ConfigHash {
		t.Error("backup content changed by repack")
	}
}

func TestEncryptedStorage_RepackAll_NoopWhenAlreadyCurrent(t *testing.T) {
	ctx := context.Background()
	es, clk := newTestEncryptedStorage(t, envelope.Options{})

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", clk.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	id, err := es.CreateBackup(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	if err := es.RepackAll(ctx); err != nil {
		t.Fatalf("RepackAll: %v", err)
	}

	restored, err := es.RestoreBackup(ctx, id)
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if restored.ConfigHash != cfg.ConfigHash {
		t.Error("backup content changed by a no-op repack")
	}
}

func TestEncryptedStorage_WithDoubleEncryption(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	local, err := storage.NewLocalStorage(afero.NewMemMapFs(), "/base", 5, clk)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	rotation := envelope.NewKeyRotationManager(0, 0, clk)
	if err := rotation.Initialize(); err != nil {
		t.Fatalf("rotation.Initialize: %v", err)
	}

	deviceKeys := generateDeviceKeysForTest(t)
	opts := envelope.Options{DoubleEncryption: true}
	es := New(local, rotation, opts, "device-a", deviceKeys, &deviceKeys.PublicKey, clk)

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", clk.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	if err := es.SaveConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := es.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if string(loaded.Config) != string(cfg.Config) {
		t.Error("double-encrypted config did not round trip")
	}
}
