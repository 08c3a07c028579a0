// Package backup snapshots files before mutation and restores them when an
// apply operation fails. The store keeps one directory per operation id,
// mirroring the relative paths of backed-up files, plus a JSON manifest.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/logging"
	"github.com/sdejongh/patchnorris/pkg/models"
)

// manifestName is the per-operation index file
const manifestName = "manifest.json"

// Manifest maps original paths to snapshot paths and hashes for one
// operation. It is rewritten after every snapshot so a crashed apply can
// still be rolled back by hand.
type Manifest struct {
	OperationID string                `json:"operation_id"`
	CreatedAt   time.Time             `json:"created_at"`
	Records     []models.BackupRecord `json:"records"`
}

// Manager owns the backup records of one apply operation
type Manager struct {
	storeRoot   string
	operationID string
	hasher      *checksum.Hasher
	logger      logging.Logger

	mu      sync.Mutex
	records []models.BackupRecord
}

// NewManager creates a backup manager for one operation. The store
// directory is created eagerly so permission problems surface before any
// target file is touched.
func NewManager(storeRoot, operationID string, hasher *checksum.Hasher, logger logging.Logger) (*Manager, error) {
	if operationID == "" {
		return nil, fmt.Errorf("operation id is required")
	}
	if hasher == nil {
		hasher = checksum.New(checksum.SHA256, 65536)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	opDir := filepath.Join(storeRoot, operationID)
	if err := os.MkdirAll(opDir, 0755); err != nil {
		return nil, &models.BackupError{Op: "init", Path: opDir, Err: err}
	}

	return &Manager{
		storeRoot:   storeRoot,
		operationID: operationID,
		hasher:      hasher,
		logger:      logger,
	}, nil
}

// OperationID returns the id the store is keyed by
func (m *Manager) OperationID() string {
	return m.operationID
}

// Dir returns the operation's snapshot directory
func (m *Manager) Dir() string {
	return filepath.Join(m.storeRoot, m.operationID)
}

// Records returns a copy of the records taken so far, in creation order
func (m *Manager) Records() []models.BackupRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BackupRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Snapshot copies the current state of originalPath into the store before
// it is mutated. relPath keys the snapshot location inside the store. A
// missing original is recorded too: restoring such a record removes the
// path again (the Add case).
func (m *Manager) Snapshot(ctx context.Context, originalPath, relPath string) (models.BackupRecord, error) {
	record := models.BackupRecord{
		OriginalPath: originalPath,
		SnapshotPath: filepath.Join(m.Dir(), "files", filepath.FromSlash(relPath)),
		CreatedAt:    time.Now(),
	}

	info, err := os.Stat(originalPath)
	switch {
	case os.IsNotExist(err):
		record.Existed = false
	case err != nil:
		return record, &models.BackupError{Op: "snapshot", Path: originalPath, Err: err}
	default:
		record.Existed = true
		hash, err := m.copySnapshot(ctx, originalPath, record.SnapshotPath, info)
		if err != nil {
			return record, &models.BackupError{Op: "snapshot", Path: originalPath, Err: err}
		}
		record.Hash = hash
	}

	m.mu.Lock()
	m.records = append(m.records, record)
	err = m.writeManifestLocked()
	m.mu.Unlock()
	if err != nil {
		return record, &models.BackupError{Op: "snapshot", Path: originalPath, Err: err}
	}

	m.logger.Debug(ctx, "snapshot taken", logging.Fields{
		"path":     originalPath,
		"snapshot": record.SnapshotPath,
		"existed":  record.Existed,
	})
	return record, nil
}

// copySnapshot streams src into dst, hashing the bytes on the way
func (m *Manager) copySnapshot(ctx context.Context, src, dst string, info os.FileInfo) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	// Hash the snapshot rather than the original: it is the bytes a
	// restore will write back.
	data, err := os.ReadFile(dst)
	if err != nil {
		return "", err
	}
	return m.hasher.Sum(data), nil
}

// RestoreAll replays the given records in reverse creation order,
// best-effort: individual failures are collected, not aborted on. The
// returned paths could not be restored and are fatal to the operation;
// the filesystem is inconsistent there until the operator intervenes.
func (m *Manager) RestoreAll(ctx context.Context, records []models.BackupRecord) []string {
	var unrestored []string

	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if err := m.restoreOne(record); err != nil {
			m.logger.Error(ctx, "restore failed", err, logging.Fields{
				"path": record.OriginalPath,
			})
			unrestored = append(unrestored, record.OriginalPath)
			continue
		}
		m.logger.Info(ctx, "restored from backup", logging.Fields{
			"path": record.OriginalPath,
		})
	}

	return unrestored
}

func (m *Manager) restoreOne(record models.BackupRecord) error {
	if !record.Existed {
		// The path did not exist before the operation; undo means remove
		if err := os.RemoveAll(record.OriginalPath); err != nil {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(record.OriginalPath), 0755); err != nil {
		return err
	}

	in, err := os.Open(record.SnapshotPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(record.OriginalPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Prune discards the operation's snapshots after a confirmed success
func (m *Manager) Prune() error {
	if err := os.RemoveAll(m.Dir()); err != nil {
		return &models.BackupError{Op: "prune", Path: m.Dir(), Err: err}
	}
	return nil
}

// writeManifestLocked persists the manifest; callers hold m.mu
func (m *Manager) writeManifestLocked() error {
	manifest := Manifest{
		OperationID: m.operationID,
		CreatedAt:   time.Now(),
		Records:     m.records,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.Dir(), manifestName), data, 0644)
}

// LoadManifest reads the manifest of a previous operation from the store,
// for manual inspection or out-of-band recovery
func LoadManifest(storeRoot, operationID string) (*Manifest, error) {
	path := filepath.Join(storeRoot, operationID, manifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.BackupError{Op: "load", Path: path, Err: err}
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &models.BackupError{Op: "load", Path: path, Err: err}
	}
	return &manifest, nil
}
