// Command syncd wires daemon settings to storage, transports, and the
// orchestrator, then runs either a single sync cycle or a ticking loop.
//
// Usage:
//
//	syncd -settings /path/to/settings.json
//	syncd -settings /path/to/settings.json -once
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/flowdesk/syncd/internal/encstorage"
	"github.com/flowdesk/syncd/internal/envelope"
	"github.com/flowdesk/syncd/internal/orchestrator"
	"github.com/flowdesk/syncd/internal/settings"
	"github.com/flowdesk/syncd/internal/storage"
	"github.com/flowdesk/syncd/internal/synclog"
	"github.com/flowdesk/syncd/internal/transport"
	"github.com/flowdesk/syncd/internal/transport/cloudfolder"
	"github.com/flowdesk/syncd/internal/transport/importexport"
	"github.com/flowdesk/syncd/pkg/clock"
)

// keysFileName holds the persisted key-rotation history, separate from the
// settings file: settings.json carries the operator-supplied initial
// workspace key, while keys.json carries whatever the rotation manager has
// since generated on top of it.
const keysFileName = "keys.json"

// tickInterval is how often the daemon runs a sync cycle in loop mode.
const tickInterval = 5 * time.Minute

var cloudProviderByName = map[string]cloudfolder.CloudProvider{
	"icloud":       cloudfolder.ICloud,
	"onedrive":     cloudfolder.OneDrive,
	"dropbox":      cloudfolder.Dropbox,
	"google_drive": cloudfolder.GoogleDrive,
}

func main() {
	settingsPath := flag.String("settings", "settings.json", "path to the daemon settings JSON file")
	once := flag.Bool("once", false, "run a single sync cycle and exit instead of looping")
	flag.Parse()

	if err := run(*settingsPath, *once); err != nil {
		fmt.Fprintln(os.Stderr, "syncd:", err)
		os.Exit(1)
	}
}

func run(settingsPath string, once bool) error {
	cfg, err := settings.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	logger, err := synclog.New()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	clk := clock.NewReal()
	fs := afero.NewOsFs()

	rotation, err := loadOrInitRotation(fs, cfg, clk)
	if err != nil {
		return fmt.Errorf("init key rotation: %w", err)
	}

	store, err := buildStorage(fs, cfg, rotation, clk, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	orch := orchestrator.New(cfg.DataDir, cfg.DeviceID, store, rotation, clk, logger)

	transports, err := buildTransports(fs, cfg, rotation, clk)
	if err != nil {
		return fmt.Errorf("init transports: %w", err)
	}
	for _, t := range transports {
		if err := t.Initialize(context.Background()); err != nil {
			logger.Warn("transport initialize failed", zap.String("transport_id", t.ID()), zap.Error(err))
			continue
		}
		orch.RegisterTransport(t)
	}

	if once {
		return runCycle(context.Background(), orch, fs, cfg, rotation, logger)
	}
	return runLoop(orch, fs, cfg, rotation, logger)
}

func runCycle(
	ctx context.Context,
	orch orchestrator.SyncOrchestrator,
	fs afero.Fs,
	cfg *settings.DaemonSettings,
	rotation *envelope.KeyRotationManager,
	logger *zap.Logger,
) error {
	result, err := orch.SyncCycle(ctx)
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}
	if result.Rotated {
		if err := persistRotation(fs, cfg, rotation); err != nil {
			logger.Warn("failed to persist rotated keys", zap.Error(err))
		}
	}
	return nil
}

func runLoop(
	orch orchestrator.SyncOrchestrator,
	fs afero.Fs,
	cfg *settings.DaemonSettings,
	rotation *envelope.KeyRotationManager,
	logger *zap.Logger,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		if err := runCycle(ctx, orch, fs, cfg, rotation, logger); err != nil {
			logger.Error("sync cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// buildStorage constructs the encrypted local config/secrets store.
func buildStorage(
	fs afero.Fs,
	cfg *settings.DaemonSettings,
	rotation *envelope.KeyRotationManager,
	clk clock.Clock,
	logger *zap.Logger,
) (storage.ConfigStorage, error) {
	local, err := storage.NewLocalStorage(fs, cfg.DataDir, cfg.MaxBackups, clk)
	if err != nil {
		return nil, err
	}
	local.SetLogger(logger)

	return encstorage.New(local, rotation, cfg.EnvelopeOptions(), cfg.DeviceID, nil, nil, clk), nil
}

// buildTransports constructs one transport per entry in cfg.EnabledTransports.
func buildTransports(
	fs afero.Fs,
	cfg *settings.DaemonSettings,
	rotation *envelope.KeyRotationManager,
	clk clock.Clock,
) ([]transport.SyncTransport, error) {
	var transports []transport.SyncTransport

	for _, name := range cfg.EnabledTransports {
		if name == "import_export" {
			location := cfg.ExportLocation
			if location == "" {
				location = filepath.Join(cfg.DataDir, "exports")
			}
			transports = append(transports, importexport.New(
				fs, location, cfg.DeviceID, importexport.ArchiveOptions{Encrypt: true},
				mustWorkspaceKey(cfg), rotation, nil, clk,
			))
			continue
		}

		provider, ok := cloudProviderByName[name]
		if !ok {
			return nil, fmt.Errorf("unknown transport %q", name)
		}
		folder := cfg.CloudFolders[name]
		if folder == "" {
			folder = provider.DefaultPath()
		}
		if folder == "" {
			return nil, fmt.Errorf("transport %q has no configured folder and no platform default", name)
		}
		transports = append(transports, cloudfolder.New(
			fs, provider, folder, cloudfolder.DefaultMaxFileSize,
			rotation, cfg.EnvelopeOptions(), cfg.DeviceID, nil, nil, clk,
		))
	}

	return transports, nil
}

func mustWorkspaceKey(cfg *settings.DaemonSettings) []byte {
	key, err := cfg.WorkspaceKey()
	if err != nil {
		// Validate already checked this during settings.Load; reaching here
		// means the settings object was constructed some other way.
		panic(err)
	}
	return key
}

// loadOrInitRotation restores key-rotation history from keysFileName under
// cfg.DataDir, or seeds a fresh history from the operator-supplied workspace
// key if no history exists yet.
func loadOrInitRotation(fs afero.Fs, cfg *settings.DaemonSettings, clk clock.Clock) (*envelope.KeyRotationManager, error) {
	path := filepath.Join(cfg.DataDir, keysFileName)
	interval := time.Duration(cfg.RotationIntervalDays) * 24 * time.Hour

	data, err := afero.ReadFile(fs, path)
	if err == nil {
		var info envelope.RotationInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		info.Interval = interval
		return envelope.LoadKeyRotationManager(info, envelope.DefaultMaxRetainedKeys, clk), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	workspaceKey, err := cfg.WorkspaceKey()
	if err != nil {
		return nil, err
	}
	info := envelope.RotationInfo{
		CurrentVersion: 1,
		Keys:           []envelope.KeyEntry{{Version: 1, Key: workspaceKey, CreatedAt: clk.Now()}},
		Interval:       interval,
		LastRotatedAt:  clk.Now(),
	}
	mgr := envelope.LoadKeyRotationManager(info, envelope.DefaultMaxRetainedKeys, clk)
	if err := persistRotation(fs, cfg, mgr); err != nil {
		return nil, err
	}
	return mgr, nil
}

func persistRotation(fs afero.Fs, cfg *settings.DaemonSettings, rotation *envelope.KeyRotationManager) error {
	data, err := json.Marshal(rotation.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal key rotation state: %w", err)
	}
	path := filepath.Join(cfg.DataDir, keysFileName)
	if err := fs.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return afero.WriteFile(fs, path, data, 0o600)
}
