package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/your-org/facereg/internal/models"
	"github.com/your-org/facereg/internal/observability"
)

// SchemaVersion is the only snapshot layout this build reads or writes.
const SchemaVersion = 1

var (
	ErrLockTimeout    = errors.New("registry lock timeout")
	ErrSchemaMismatch = errors.New("registry schema version mismatch")
)

// DefaultLockTimeout bounds the wait for the registry lock.
const DefaultLockTimeout = 10 * time.Second

const backupTimeFormat = "20060102T150405.000000000Z"

// Snapshot is the durable state of the identity registry.
type Snapshot struct {
	SchemaVersion int                         `json:"schema_version"`
	Identities    map[string]*models.Identity `json:"identities"`
	History       []models.Event              `json:"history"`
}

// BackupMirror copies backups somewhere off the local disk.
type BackupMirror interface {
	UploadBackup(ctx context.Context, name string, data []byte) error
}

// fileOps are the filesystem calls whose failure must leave the target intact.
type fileOps interface {
	Sync(f *os.File) error
	Rename(oldpath, newpath string) error
}

type osOps struct{}

func (osOps) Sync(f *os.File) error                { return f.Sync() }
func (osOps) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

// FileStore is the single writer of the registry file.
type FileStore struct {
	lockTimeout time.Duration
	mirror      BackupMirror
	ops         fileOps
	now         func() time.Time
}

type FileStoreOption func(*FileStore)

// WithLockTimeout bounds how long Save waits for the lock file.
func WithLockTimeout(d time.Duration) FileStoreOption {
	return func(s *FileStore) { s.lockTimeout = d }
}

// WithBackupMirror uploads every backup to m after a successful save.
func WithBackupMirror(m BackupMirror) FileStoreOption {
	return func(s *FileStore) { s.mirror = m }
}

func NewFileStore(opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		lockTimeout: DefaultLockTimeout,
		ops:         osOps{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes snap to path:
//  1. take an exclusive lock on path+".lock" (bounded wait);
//  2. copy the current file, if any, to backupDir/<name>.<UTC timestamp>;
//  3. write path+".tmp", flush and fsync it;
//  4. rename the temp file over path.
//
// The lock is released and the temp file removed on every exit path. A failure
// before the rename leaves the previous file untouched.
func (s *FileStore) Save(path, backupDir string, snap *Snapshot) (err error) {
	start := time.Now()
	defer func() {
		observability.SaveDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			observability.SaveFailures.Inc()
			slog.Error("registry save failed", "path", path, "error", err)
		}
	}()

	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = SchemaVersion
	}
	if snap.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: writing %d, build supports %d", ErrSchemaMismatch, snap.SchemaVersion, SchemaVersion)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	w, err := beginWrite(path, s.lockTimeout, s.ops)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	backupName, backupData, err := s.backup(path, backupDir)
	if err != nil {
		return err
	}
	if err := w.Commit(data); err != nil {
		return err
	}

	if backupName != "" && s.mirror != nil {
		go s.mirrorBackup(backupName, backupData)
	}
	slog.Debug("registry saved", "path", path, "identities", len(snap.Identities), "events", len(snap.History))
	return nil
}

func (s *FileStore) backup(path, backupDir string) (string, []byte, error) {
	if backupDir == "" {
		return "", nil, nil
	}
	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("open registry for backup: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return "", nil, fmt.Errorf("read registry for backup: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create backup directory: %w", err)
	}
	name := filepath.Base(path) + "." + s.now().UTC().Format(backupTimeFormat)
	if err := os.WriteFile(filepath.Join(backupDir, name), data, 0o644); err != nil {
		return "", nil, fmt.Errorf("write backup %s: %w", name, err)
	}
	return name, data, nil
}

func (s *FileStore) mirrorBackup(name string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.mirror.UploadBackup(ctx, name, data); err != nil {
		slog.Warn("mirror registry backup", "backup", name, "error", err)
	}
}

// Load reads the snapshot at path. It takes no lock: saves are atomic, so a
// reader always sees one complete snapshot.
func (s *FileStore) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var header struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if header.SchemaVersion == nil {
		return nil, fmt.Errorf("%w: file has no schema_version", ErrSchemaMismatch)
	}
	if *header.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: file has %d, build supports %d", ErrSchemaMismatch, *header.SchemaVersion, SchemaVersion)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if snap.Identities == nil {
		snap.Identities = make(map[string]*models.Identity)
	}
	return snap, nil
}

// scopedWrite owns the lock and the temp file for one save. Close always
// releases the lock and removes an uncommitted temp file.
type scopedWrite struct {
	target    string
	tmpPath   string
	lock      *fileLock
	ops       fileOps
	committed bool
}

func beginWrite(target string, timeout time.Duration, ops fileOps) (*scopedWrite, error) {
	lock, err := acquireLock(target+".lock", timeout)
	if err != nil {
		return nil, err
	}
	return &scopedWrite{
		target:  target,
		tmpPath: target + ".tmp",
		lock:    lock,
		ops:     ops,
	}, nil
}

func (w *scopedWrite) Commit(data []byte) error {
	f, err := os.OpenFile(w.tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := w.ops.Sync(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := w.ops.Rename(w.tmpPath, w.target); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	w.committed = true
	if err := syncDir(filepath.Dir(w.target), w.ops); err != nil {
		return fmt.Errorf("fsync registry directory: %w", err)
	}
	return nil
}

func (w *scopedWrite) Close() error {
	if !w.committed {
		_ = os.Remove(w.tmpPath)
	}
	if err := w.lock.Release(); err != nil {
		return fmt.Errorf("release registry lock: %w", err)
	}
	return nil
}
