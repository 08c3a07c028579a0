// Package apply replays a parsed patch document against a target tree with
// backup/rollback safety. Entries are processed in document order; strict
// mode makes the whole invocation all-or-nothing, best-effort mode records
// per-entry failures and restores only their backups.
package apply

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sdejongh/patchnorris/pkg/backup"
	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/diff"
	"github.com/sdejongh/patchnorris/pkg/logging"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/storage"
)

// Applier applies one patch document to one target root. It does not
// retain the document after Apply returns.
type Applier struct {
	backend storage.Backend
	backups *backup.Manager
	hasher  *checksum.Hasher
	logger  logging.Logger
	opts    models.Options
}

// NewApplier creates an applier writing through backend, with snapshots
// going to backups (may be nil for dry runs)
func NewApplier(backend storage.Backend, backups *backup.Manager, hasher *checksum.Hasher, logger logging.Logger, opts models.Options) *Applier {
	if hasher == nil {
		hasher = checksum.New(checksum.SHA256, 65536)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Applier{
		backend: backend,
		backups: backups,
		hasher:  hasher,
		logger:  logger,
		opts:    opts,
	}
}

// Apply replays the document and returns the operation report. The report
// is always non-nil; the error is non-nil only when the operation did not
// run to a reportable conclusion (invalid document, cancellation) or when
// a rollback itself failed, which is surfaced as a BackupError distinct
// from the apply failure.
func (a *Applier) Apply(ctx context.Context, doc *models.PatchDocument) (*models.OperationReport, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch document: %w", err)
	}

	operationID := ""
	if a.backups != nil {
		operationID = a.backups.OperationID()
	}
	report := &models.OperationReport{
		OperationID: operationID,
		Kind:        models.OpApply,
		TargetRoot:  a.backend.Root(),
		DryRun:      a.opts.DryRun,
		StartTime:   time.Now(),
		Status:      models.StatusSuccess,
	}
	defer report.Finish()

	a.logger.Info(ctx, "starting apply", logging.Fields{
		"operation_id": operationID,
		"target":       a.backend.Root(),
		"entries":      len(doc.Entries),
		"mode":         string(a.opts.Mode),
		"dry_run":      a.opts.DryRun,
	})

	var allRecords []models.BackupRecord

	for i := range doc.Entries {
		select {
		case <-ctx.Done():
			report.Status = models.StatusCancelled
			return report, ctx.Err()
		default:
		}

		entry := &doc.Entries[i]
		start := time.Now()
		entryRecords, written, applyErr := a.applyEntry(ctx, i, entry)
		allRecords = append(allRecords, entryRecords...)
		report.Stats.FilesBackedUp += len(entryRecords)

		result := models.EntryResult{
			Path:      entry.Path(),
			Kind:      entry.Kind,
			Outcome:   models.OutcomeSuccess,
			HunkIndex: -1,
			Duration:  time.Since(start),
		}
		switch {
		case applyErr == nil:
			report.Stats.BytesWritten += written
		case applyErr == errAlreadyApplied:
			result.Outcome = models.OutcomeSkipped
			result.Reason = "already applied"
		default:
			result.Outcome = models.OutcomeFailed
			result.Reason = applyErr.Error()
			if hunkErr, ok := applyErr.(*models.HunkApplyError); ok {
				result.HunkIndex = hunkErr.HunkIdx
			}
		}
		report.Record(result)

		if result.Outcome != models.OutcomeFailed {
			continue
		}

		a.logger.Error(ctx, "entry failed", applyErr, logging.Fields{
			"path":  entry.Path(),
			"entry": i,
		})

		if a.opts.BestEffort {
			// Undo only this entry; the rest of the document continues
			if !a.opts.DryRun && len(entryRecords) > 0 {
				unrestored := a.backups.RestoreAll(ctx, entryRecords)
				report.Stats.FilesRestored += len(entryRecords) - len(unrestored)
				if len(unrestored) > 0 {
					report.Unrestored = append(report.Unrestored, unrestored...)
				}
			}
			continue
		}

		// Strict mode: halt and roll back everything done in this
		// invocation, newest snapshot first.
		report.Status = models.StatusAborted
		report.Error = applyErr.Error()
		if a.opts.DryRun || len(allRecords) == 0 {
			return report, nil
		}
		unrestored := a.backups.RestoreAll(ctx, allRecords)
		report.Stats.FilesRestored += len(allRecords) - len(unrestored)
		if len(unrestored) > 0 {
			report.Unrestored = unrestored
			backupErr := &models.BackupError{Op: "restore", Unrestored: unrestored}
			report.Error = backupErr.Error()
			return report, backupErr
		}
		return report, nil
	}

	if report.Stats.Failed > 0 {
		report.Status = models.StatusPartial
		if len(report.Unrestored) > 0 {
			return report, &models.BackupError{Op: "restore", Unrestored: report.Unrestored}
		}
		return report, nil
	}

	if !a.opts.DryRun && !a.opts.KeepBackups && a.backups != nil {
		if err := a.backups.Prune(); err != nil {
			a.logger.Warn(ctx, "failed to prune backups", logging.Fields{
				"error": err.Error(),
			})
		}
	}

	a.logger.Info(ctx, "apply complete", logging.Fields{
		"operation_id": operationID,
		"succeeded":    report.Stats.Succeeded,
		"skipped":      report.Stats.Skipped,
	})
	return report, nil
}

// errAlreadyApplied is the sentinel for re-apply detection: the target
// already carries the entry's declared new content
var errAlreadyApplied = fmt.Errorf("target already matches new content hash")

// applyEntry dispatches on the entry kind. Every kind is handled here;
// adding a kind without extending this switch is a compile-visible gap in
// review, not a silent fallthrough.
func (a *Applier) applyEntry(ctx context.Context, idx int, entry *models.FileDiffEntry) ([]models.BackupRecord, int64, error) {
	switch entry.Kind {
	case models.KindTextModify:
		return a.applyTextModify(ctx, idx, entry)
	case models.KindBinaryReplace:
		return a.applyBinaryReplace(ctx, entry)
	case models.KindAdd:
		return a.applyAdd(ctx, idx, entry)
	case models.KindDelete:
		return a.applyDelete(ctx, entry)
	case models.KindRename:
		return a.applyRename(ctx, idx, entry)
	default:
		return nil, 0, fmt.Errorf("unhandled entry kind %q", entry.Kind)
	}
}

// snapshot records the target's current state unless this is a dry run
func (a *Applier) snapshot(ctx context.Context, relPath string) ([]models.BackupRecord, error) {
	if a.opts.DryRun || a.backups == nil {
		return nil, nil
	}
	absPath := filepath.Join(a.backend.Root(), filepath.FromSlash(relPath))
	record, err := a.backups.Snapshot(ctx, absPath, relPath)
	if err != nil {
		return nil, err
	}
	return []models.BackupRecord{record}, nil
}

// snapshotEnds records both sides of an entry that moves content to a
// different path, so a rollback restores the source and removes the
// destination. Entries that stay in place get a single record.
func (a *Applier) snapshotEnds(ctx context.Context, oldPath, newPath string) ([]models.BackupRecord, error) {
	records, err := a.snapshot(ctx, oldPath)
	if err != nil {
		return nil, err
	}
	if newPath == oldPath || newPath == "" {
		return records, nil
	}
	destRecords, err := a.snapshot(ctx, newPath)
	if err != nil {
		return records, err
	}
	return append(records, destRecords...), nil
}

// currentHash fingerprints the target path, or returns "" when it does
// not exist
func (a *Applier) currentHash(ctx context.Context, relPath string) (string, error) {
	exists, err := a.backend.Exists(ctx, relPath)
	if err != nil {
		return "", &models.IOError{Op: "stat", Path: relPath, Err: err}
	}
	if !exists {
		return "", nil
	}
	hash, err := a.hasher.File(ctx, a.backend, relPath)
	if err != nil {
		return "", &models.IOError{Op: "hash", Path: relPath, Err: err}
	}
	return hash, nil
}

func (a *Applier) applyTextModify(ctx context.Context, idx int, entry *models.FileDiffEntry) ([]models.BackupRecord, int64, error) {
	current, err := a.currentHash(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, err
	}
	if entry.NewHash != "" && current == entry.NewHash {
		return nil, 0, errAlreadyApplied
	}

	hashMatches := entry.OldHash == "" || current == entry.OldHash
	if !hashMatches && a.opts.Mode == models.ModeStrict {
		return nil, 0, &models.HashMismatchError{Path: entry.OldPath, Expected: entry.OldHash, Actual: current}
	}
	// Fuzzy mode continues past a pre-image mismatch: the bounded search
	// below decides whether the hunks still fit the drifted content.

	oldData, err := a.backend.ReadFile(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, &models.IOError{Op: "read", Path: entry.OldPath, Err: err}
	}

	newData, err := a.replayHunks(diff.SplitLines(oldData), entry, idx)
	if err != nil {
		return nil, 0, err
	}
	// The result hash is only checked when the pre-image matched: a fuzzy
	// apply onto drifted content legitimately produces different bytes.
	if hashMatches && entry.NewHash != "" {
		if got := a.hasher.Sum(newData); got != entry.NewHash {
			return nil, 0, &models.HashMismatchError{Path: entry.Path(), Expected: entry.NewHash, Actual: got}
		}
	}

	records, err := a.snapshotEnds(ctx, entry.OldPath, entry.NewPath)
	if err != nil {
		return records, 0, err
	}
	if a.opts.DryRun {
		return records, 0, nil
	}

	perm := uint32(0)
	if info, err := a.backend.Stat(ctx, entry.OldPath); err == nil {
		perm = info.Permissions
	}
	if err := a.backend.WriteFile(ctx, entry.NewPath, newData, perm); err != nil {
		return records, 0, &models.IOError{Op: "write", Path: entry.NewPath, Err: err}
	}
	if entry.OldPath != entry.NewPath {
		if err := a.backend.Delete(ctx, entry.OldPath); err != nil {
			return records, int64(len(newData)), &models.IOError{Op: "remove", Path: entry.OldPath, Err: err}
		}
	}
	return records, int64(len(newData)), nil
}

// replayHunks rewrites the line sequence hunk by hunk. After each hunk the
// context and removed lines are validated against the recorded text, which
// guards against offset drift introduced by a previous hunk.
func (a *Applier) replayHunks(lines []string, entry *models.FileDiffEntry, entryIdx int) ([]byte, error) {
	maxOffset := 0
	if a.opts.Mode == models.ModeFuzzy {
		maxOffset = a.opts.MaxOffset
	}

	var result []string
	srcPos := 0
	drift := 0

	for h := range entry.Hunks {
		hunk := &entry.Hunks[h]

		// 0-based position where the hunk's old lines should start; pure
		// insertions anchor after their declared line instead
		expected := hunk.OldStart - 1 + drift
		if hunk.OldCount == 0 {
			expected = hunk.OldStart + drift
		}
		if expected < srcPos {
			expected = srcPos
		}

		matched := findHunkPosition(lines, hunk, expected, maxOffset)
		if matched < 0 || matched < srcPos {
			return nil, &models.HunkApplyError{
				Path:      entry.Path(),
				EntryIdx:  entryIdx,
				HunkIdx:   h,
				Line:      hunk.OldStart,
				Fuzzy:     maxOffset > 0,
				MaxOffset: maxOffset,
			}
		}
		drift += matched - expected

		result = append(result, lines[srcPos:matched]...)
		srcPos = matched

		for _, line := range hunk.Lines {
			switch line.Tag {
			case models.LineContext:
				result = append(result, lines[srcPos])
				srcPos++
			case models.LineRemoved:
				srcPos++
			case models.LineAdded:
				result = append(result, line.Text)
			}
		}
	}

	result = append(result, lines[srcPos:]...)
	return diff.JoinLines(result), nil
}

func (a *Applier) applyBinaryReplace(ctx context.Context, entry *models.FileDiffEntry) ([]models.BackupRecord, int64, error) {
	current, err := a.currentHash(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, err
	}
	if entry.NewHash != "" && current == entry.NewHash {
		return nil, 0, errAlreadyApplied
	}
	if entry.OldHash != "" && current != entry.OldHash {
		return nil, 0, &models.HashMismatchError{Path: entry.OldPath, Expected: entry.OldHash, Actual: current}
	}

	if entry.NewHash != "" {
		if got := a.hasher.Sum(entry.Content); got != entry.NewHash {
			return nil, 0, &models.HashMismatchError{Path: entry.Path(), Expected: entry.NewHash, Actual: got}
		}
	}

	records, err := a.snapshotEnds(ctx, entry.OldPath, entry.NewPath)
	if err != nil {
		return records, 0, err
	}
	if a.opts.DryRun {
		return records, 0, nil
	}

	if err := a.backend.WriteFile(ctx, entry.NewPath, entry.Content, 0); err != nil {
		return records, 0, &models.IOError{Op: "write", Path: entry.NewPath, Err: err}
	}
	if entry.OldPath != entry.NewPath {
		if err := a.backend.Delete(ctx, entry.OldPath); err != nil {
			return records, int64(len(entry.Content)), &models.IOError{Op: "remove", Path: entry.OldPath, Err: err}
		}
	}
	return records, int64(len(entry.Content)), nil
}

func (a *Applier) applyAdd(ctx context.Context, idx int, entry *models.FileDiffEntry) ([]models.BackupRecord, int64, error) {
	current, err := a.currentHash(ctx, entry.NewPath)
	if err != nil {
		return nil, 0, err
	}
	if current != "" {
		if entry.NewHash != "" && current == entry.NewHash {
			return nil, 0, errAlreadyApplied
		}
		return nil, 0, &models.HashMismatchError{Path: entry.NewPath, Expected: "(absent)", Actual: current}
	}

	var content []byte
	if len(entry.Hunks) > 0 {
		content, err = a.replayHunks(nil, entry, idx)
		if err != nil {
			return nil, 0, err
		}
	} else {
		content = entry.Content
	}
	if entry.NewHash != "" {
		if got := a.hasher.Sum(content); got != entry.NewHash {
			return nil, 0, &models.HashMismatchError{Path: entry.NewPath, Expected: entry.NewHash, Actual: got}
		}
	}

	// No prior state to copy; the record marks non-existence so a
	// rollback removes the created file again
	records, err := a.snapshot(ctx, entry.NewPath)
	if err != nil {
		return nil, 0, err
	}
	if a.opts.DryRun {
		return records, 0, nil
	}

	if err := a.backend.WriteFile(ctx, entry.NewPath, content, 0); err != nil {
		return records, 0, &models.IOError{Op: "write", Path: entry.NewPath, Err: err}
	}
	return records, int64(len(content)), nil
}

func (a *Applier) applyDelete(ctx context.Context, entry *models.FileDiffEntry) ([]models.BackupRecord, int64, error) {
	current, err := a.currentHash(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, err
	}
	if current == "" {
		return nil, 0, errAlreadyApplied
	}
	if entry.OldHash != "" && current != entry.OldHash {
		return nil, 0, &models.HashMismatchError{Path: entry.OldPath, Expected: entry.OldHash, Actual: current}
	}

	records, err := a.snapshot(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, err
	}
	if a.opts.DryRun {
		return records, 0, nil
	}

	if err := a.backend.Delete(ctx, entry.OldPath); err != nil {
		return records, 0, &models.IOError{Op: "remove", Path: entry.OldPath, Err: err}
	}
	return records, 0, nil
}

func (a *Applier) applyRename(ctx context.Context, idx int, entry *models.FileDiffEntry) ([]models.BackupRecord, int64, error) {
	newCurrent, err := a.currentHash(ctx, entry.NewPath)
	if err != nil {
		return nil, 0, err
	}
	oldCurrent, err := a.currentHash(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, err
	}
	if oldCurrent == "" && newCurrent != "" && entry.NewHash != "" && newCurrent == entry.NewHash {
		return nil, 0, errAlreadyApplied
	}
	if oldCurrent == "" {
		return nil, 0, &models.IOError{Op: "rename", Path: entry.OldPath, Err: fmt.Errorf("source does not exist")}
	}
	if entry.OldHash != "" && oldCurrent != entry.OldHash {
		return nil, 0, &models.HashMismatchError{Path: entry.OldPath, Expected: entry.OldHash, Actual: oldCurrent}
	}

	oldData, err := a.backend.ReadFile(ctx, entry.OldPath)
	if err != nil {
		return nil, 0, &models.IOError{Op: "read", Path: entry.OldPath, Err: err}
	}

	newData := oldData
	if len(entry.Hunks) > 0 {
		newData, err = a.replayHunks(diff.SplitLines(oldData), entry, idx)
		if err != nil {
			return nil, 0, err
		}
	}
	if entry.NewHash != "" {
		if got := a.hasher.Sum(newData); got != entry.NewHash {
			return nil, 0, &models.HashMismatchError{Path: entry.NewPath, Expected: entry.NewHash, Actual: got}
		}
	}

	records, err := a.snapshotEnds(ctx, entry.OldPath, entry.NewPath)
	if err != nil {
		return records, 0, err
	}
	if a.opts.DryRun {
		return records, 0, nil
	}

	if err := a.backend.Rename(ctx, entry.OldPath, entry.NewPath); err != nil {
		return records, 0, &models.IOError{Op: "rename", Path: entry.OldPath, Err: err}
	}
	if len(entry.Hunks) > 0 {
		if err := a.backend.WriteFile(ctx, entry.NewPath, newData, 0); err != nil {
			return records, 0, &models.IOError{Op: "write", Path: entry.NewPath, Err: err}
		}
		return records, int64(len(newData)), nil
	}
	return records, 0, nil
}
