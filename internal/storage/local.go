package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/syncerrors"
	"github.com/flowdesk/syncd/internal/synclog"
	"github.com/flowdesk/syncd/pkg/clock"
	"github.com/flowdesk/syncd/pkg/crypto"
)

const (
	configFileName  = "config.json"
	secretsFileName = "secrets.bin"
	backupsDirName  = "backups"

	dirPerm  os.FileMode = 0o700
	filePerm os.FileMode = 0o600
)

// DefaultMaxBackups bounds how many backups LocalStorage retains when the
// caller does not specify a limit.
const DefaultMaxBackups = 10

// LocalStorage is the filesystem-backed ConfigStorage implementation. It
// runs against an afero.Fs so tests can exercise the exact rename/rotation
// logic against an in-memory filesystem.
type LocalStorage struct {
	mu         sync.Mutex
	fs         afero.Fs
	baseDir    string
	maxBackups int
	clock      clock.Clock
	logger     *zap.Logger
}

// NewLocalStorage creates the base and backups directories (0700) under
// baseDir if they do not already exist.
func NewLocalStorage(fs afero.Fs, baseDir string, maxBackups int, clk clock.Clock) (*LocalStorage, error) {
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}
	s := &LocalStorage{fs: fs, baseDir: baseDir, maxBackups: maxBackups, clock: clk, logger: zap.NewNop()}

	if err := fs.MkdirAll(s.backupsDir(), dirPerm); err != nil {
		return nil, fmt.Errorf("%w: create storage directories: %v", syncerrors.ErrStorageIO, err)
	}
	return s, nil
}

// SetLogger injects a structured logger for quarantine and backup-rotation
// events. Defaults to a no-op logger, so this is optional.
func (s *LocalStorage) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
}

func (s *LocalStorage) configPath() string  { return filepath.Join(s.baseDir, configFileName) }
func (s *LocalStorage) secretsPath() string { return filepath.Join(s.baseDir, secretsFileName) }
func (s *LocalStorage) backupsDir() string  { return filepath.Join(s.baseDir, backupsDirName) }

// SaveConfig implements ConfigStorage.
func (s *LocalStorage) SaveConfig(ctx context.Context, cfg *syncdoc.VersionedConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return s.atomicWrite(s.configPath(), data)
}

// LoadConfig implements ConfigStorage. A missing file is not an error: it
// returns (nil, nil). An integrity mismatch quarantines the file (renames
// it out of the live path) and returns ErrIntegrityCheckFailed.
func (s *LocalStorage) LoadConfig(ctx context.Context) (*syncdoc.VersionedConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readIfExists(s.configPath())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var cfg syncdoc.VersionedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		if qerr := s.quarantine(s.configPath()); qerr != nil {
			return nil, fmt.Errorf("%w: unmarshal failed and quarantine also failed: %v", syncerrors.ErrIntegrityCheckFailed, qerr)
		}
		return nil, fmt.Errorf("%w: config is not valid JSON: %v", syncerrors.ErrIntegrityCheckFailed, err)
	}

	if err := cfg.VerifyIntegrity(); err != nil {
		if qerr := s.quarantine(s.configPath()); qerr != nil {
			return nil, fmt.Errorf("%w: quarantine also failed: %v", syncerrors.ErrIntegrityCheckFailed, qerr)
		}
		return nil, fmt.Errorf("%w: %v", syncerrors.ErrIntegrityCheckFailed, err)
	}

	return &cfg, nil
}

// SaveSecrets implements ConfigStorage. The caller is responsible for
// encrypting data before it reaches this layer if confidentiality is
// required; LocalStorage treats it as an opaque blob.
func (s *LocalStorage) SaveSecrets(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atomicWrite(s.secretsPath(), data)
}

// LoadSecrets implements ConfigStorage.
func (s *LocalStorage) LoadSecrets(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIfExists(s.secretsPath())
}

// CreateBackup implements ConfigStorage: it writes cfg under a new
// timestamped filename and prunes backups beyond maxBackups by mtime.
func (s *LocalStorage) CreateBackup(ctx context.Context, cfg *syncdoc.VersionedConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	id := backupID(s.clock.Now())
	path := filepath.Join(s.backupsDir(), id+".json")
	if err := s.atomicWrite(path, data); err != nil {
		return "", err
	}

	if err := s.pruneBackups(); err != nil {
		return "", err
	}
	return id, nil
}

// ListBackups implements ConfigStorage, newest first by mtime.
func (s *LocalStorage) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listBackupsLocked()
}

func (s *LocalStorage) listBackupsLocked() ([]BackupInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.backupsDir())
	if err != nil {
		return nil, fmt.Errorf("%w: list backups: %v", syncerrors.ErrStorageIO, err)
	}

	infos := make([]BackupInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimBackupExt(e.Name())
		infos = append(infos, BackupInfo{
			ID:        id,
			Path:      filepath.Join(s.backupsDir(), e.Name()),
			CreatedAt: e.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// RestoreBackup implements ConfigStorage.
func (s *LocalStorage) RestoreBackup(ctx context.Context, id string) (*syncdoc.VersionedConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.backupsDir(), id+".json")
	data, err := s.readIfExists(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", syncerrors.ErrBackupNotFound, id)
	}

	var cfg syncdoc.VersionedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: backup %s is not valid JSON: %v", syncerrors.ErrIntegrityCheckFailed, id, err)
	}
	return &cfg, nil
}

// ReplaceBackup implements ConfigStorage: it overwrites the backup file for
// id atomically, without touching rotation order or count.
func (s *LocalStorage) ReplaceBackup(ctx context.Context, id string, cfg *syncdoc.VersionedConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.backupsDir(), id+".json")
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", syncerrors.ErrBackupNotFound, id)
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	if err := s.atomicWrite(path, data); err != nil {
		return err
	}
	// Keep the original mtime: ListBackups and pruning order backups by it.
	if err := s.fs.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("%w: restore mtime of backup %s: %v", syncerrors.ErrStorageIO, id, err)
	}
	return nil
}

// DeleteBackup implements ConfigStorage. Deleting a missing id is reported
// as ErrBackupNotFound, not treated as a silent success.
func (s *LocalStorage) DeleteBackup(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.backupsDir(), id+".json")
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", syncerrors.ErrBackupNotFound, id)
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("%w: delete backup %s: %v", syncerrors.ErrStorageIO, id, err)
	}
	return nil
}

func (s *LocalStorage) pruneBackups() error {
	infos, err := s.listBackupsLocked()
	if err != nil {
		return err
	}
	if len(infos) <= s.maxBackups {
		return nil
	}
	for _, stale := range infos[s.maxBackups:] {
		if err := s.fs.Remove(stale.Path); err != nil {
			return fmt.Errorf("%w: prune backup %s: %v", syncerrors.ErrStorageIO, stale.ID, err)
		}
		s.logger.Debug("backup pruned", zap.String("backup_id", stale.ID))
	}
	return nil
}

// atomicWrite writes data to path.tmp, then renames over path, per the
// tmp-file-then-rename discipline POSIX rename() makes atomic.
func (s *LocalStorage) atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, filePerm); err != nil {
		return fmt.Errorf("%w: write %s: %v", syncerrors.ErrStorageIO, tmp, err)
	}
	_ = s.fs.Chmod(tmp, filePerm)
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename %s into place: %v", syncerrors.ErrStorageIO, path, err)
	}
	return nil
}

func (s *LocalStorage) readIfExists(path string) ([]byte, error) {
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerrors.ErrStorageIO, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", syncerrors.ErrStorageIO, path, err)
	}
	return data, nil
}

// quarantine renames a corrupt artifact out of the live path, preserving it
// for forensics without letting it load again.
func (s *LocalStorage) quarantine(path string) error {
	dest := fmt.Sprintf("%s.corrupt.%s", path, s.clock.Now().Format("20060102_150405"))
	if err := s.fs.Rename(path, dest); err != nil {
		return err
	}
	s.logger.Warn("artifact quarantined",
		zap.String("event", string(synclog.EventArtifactQuarantined)),
		zap.String("path", path), zap.String("quarantine_path", dest))
	return nil
}

func backupID(t time.Time) string {
	return fmt.Sprintf("config_backup_%s_%s_%03d_%s",
		t.Format("20060102"), t.Format("150405"), t.Nanosecond()/1e6, crypto.GenerateID()[:8])
}

func trimBackupExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
