package diff

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/logging"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/storage"
)

// Generator computes patch documents from file or directory pairs.
// It is a pure producer: it never mutates its inputs.
type Generator struct {
	hasher   *checksum.Hasher
	detector BinaryDetector
	logger   logging.Logger
	opts     models.Options
}

// NewGenerator creates a diff generator
func NewGenerator(hasher *checksum.Hasher, detector BinaryDetector, logger logging.Logger, opts models.Options) *Generator {
	if hasher == nil {
		hasher = checksum.New(checksum.SHA256, 65536)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Generator{
		hasher:   hasher,
		detector: detector,
		logger:   logger,
		opts:     opts,
	}
}

// Create computes a patch document between two paths. Both must exist and
// be of the same kind: two files produce a single-entry document, two
// directories produce a recursive tree diff.
func (g *Generator) Create(ctx context.Context, oldPath, newPath string, meta models.Metadata) (*models.PatchDocument, error) {
	oldInfo, err := os.Stat(oldPath)
	if err != nil {
		return nil, &models.IOError{Op: "stat", Path: oldPath, Err: err}
	}
	newInfo, err := os.Stat(newPath)
	if err != nil {
		return nil, &models.IOError{Op: "stat", Path: newPath, Err: err}
	}
	if oldInfo.IsDir() != newInfo.IsDir() {
		return nil, fmt.Errorf("cannot diff a file against a directory: %s vs %s", oldPath, newPath)
	}

	meta.Version = models.FormatVersion
	if meta.Created.IsZero() {
		meta.Created = time.Now().UTC()
	}
	doc := &models.PatchDocument{
		ID:   uuid.New().String(),
		Meta: meta,
	}

	if oldInfo.IsDir() {
		oldBackend, err := storage.NewLocal(oldPath)
		if err != nil {
			return nil, err
		}
		defer oldBackend.Close()
		newBackend, err := storage.NewLocal(newPath)
		if err != nil {
			return nil, err
		}
		defer newBackend.Close()

		entries, err := g.diffTrees(ctx, oldBackend, newBackend)
		if err != nil {
			return nil, err
		}
		doc.Entries = entries
	} else {
		entry, err := g.diffSingleFiles(ctx, oldPath, newPath)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			doc.Entries = append(doc.Entries, *entry)
		}
	}

	doc.SortEntries()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("generated document failed validation: %w", err)
	}

	g.logger.Info(ctx, "patch document created", logging.Fields{
		"document_id": doc.ID,
		"entries":     len(doc.Entries),
	})
	return doc, nil
}

// diffSingleFiles diffs two standalone files through backends rooted at
// their parent directories
func (g *Generator) diffSingleFiles(ctx context.Context, oldPath, newPath string) (*models.FileDiffEntry, error) {
	oldBackend, err := storage.NewLocal(filepath.Dir(oldPath))
	if err != nil {
		return nil, err
	}
	defer oldBackend.Close()
	newBackend, err := storage.NewLocal(filepath.Dir(newPath))
	if err != nil {
		return nil, err
	}
	defer newBackend.Close()

	return g.diffPair(ctx, oldBackend, newBackend, filepath.Base(oldPath), filepath.Base(newPath))
}

// diffPair compares one file on each side and returns a Modify or
// BinaryReplace entry, or nil when the contents are identical
func (g *Generator) diffPair(ctx context.Context, oldBackend, newBackend storage.Backend, oldRel, newRel string) (*models.FileDiffEntry, error) {
	oldData, err := oldBackend.ReadFile(ctx, oldRel)
	if err != nil {
		return nil, &models.IOError{Op: "read", Path: oldRel, Err: err}
	}
	newData, err := newBackend.ReadFile(ctx, newRel)
	if err != nil {
		return nil, &models.IOError{Op: "read", Path: newRel, Err: err}
	}

	oldHash := g.hasher.Sum(oldData)
	newHash := g.hasher.Sum(newData)
	if oldHash == newHash {
		if oldRel == newRel {
			return nil, nil
		}
		// Identical content under a different name is a pure rename
		return &models.FileDiffEntry{
			OldPath: oldRel,
			NewPath: newRel,
			Kind:    models.KindRename,
			OldHash: oldHash,
			NewHash: newHash,
		}, nil
	}

	entry := &models.FileDiffEntry{
		OldPath: oldRel,
		NewPath: newRel,
		OldHash: oldHash,
		NewHash: newHash,
	}

	if g.treatAsBinary(oldData) || g.treatAsBinary(newData) {
		entry.Kind = models.KindBinaryReplace
		entry.Content = newData
		return entry, nil
	}

	entry.Kind = models.KindTextModify
	script := Script(SplitLines(oldData), SplitLines(newData))
	entry.Hunks = BuildHunks(script, g.opts.ContextLines)
	return entry, nil
}

// treatAsBinary applies the content heuristic plus the size ceiling above
// which files are never line-diffed
func (g *Generator) treatAsBinary(data []byte) bool {
	if g.opts.MaxFileSize > 0 && int64(len(data)) > g.opts.MaxFileSize {
		return true
	}
	return g.detector.IsBinary(data)
}

// diffTrees compares two directory trees path by path
func (g *Generator) diffTrees(ctx context.Context, oldBackend, newBackend storage.Backend) ([]models.FileDiffEntry, error) {
	oldFiles, err := g.listFiles(ctx, oldBackend)
	if err != nil {
		return nil, err
	}
	newFiles, err := g.listFiles(ctx, newBackend)
	if err != nil {
		return nil, err
	}

	var entries []models.FileDiffEntry
	var deleted, added []string

	for path, oldInfo := range oldFiles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		newInfo, inNew := newFiles[path]
		if !inNew {
			deleted = append(deleted, path)
			continue
		}

		// Same size may still mean changed content; the hash decides.
		if oldInfo.Size == newInfo.Size {
			oldHash, err := g.hasher.File(ctx, oldBackend, path)
			if err != nil {
				return nil, &models.IOError{Op: "hash", Path: path, Err: err}
			}
			newHash, err := g.hasher.File(ctx, newBackend, path)
			if err != nil {
				return nil, &models.IOError{Op: "hash", Path: path, Err: err}
			}
			if oldHash == newHash {
				continue
			}
		}

		entry, err := g.diffPair(ctx, oldBackend, newBackend, path, path)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	for path := range newFiles {
		if _, inOld := oldFiles[path]; !inOld {
			added = append(added, path)
		}
	}

	renameEntries, deleted, added, err := g.detectRenames(ctx, oldBackend, newBackend, deleted, added)
	if err != nil {
		return nil, err
	}
	entries = append(entries, renameEntries...)

	for _, path := range deleted {
		entry, err := g.deleteEntry(ctx, oldBackend, path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	for _, path := range added {
		entry, err := g.addEntry(ctx, newBackend, path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}

// listFiles returns the non-directory files of a tree keyed by relative
// path, with excluded paths filtered out
func (g *Generator) listFiles(ctx context.Context, backend storage.Backend) (map[string]storage.FileInfo, error) {
	infos, err := backend.List(ctx, ".")
	if err != nil {
		return nil, &models.IOError{Op: "list", Path: backend.Root(), Err: err}
	}

	files := make(map[string]storage.FileInfo, len(infos))
	for _, info := range infos {
		if info.IsDir {
			continue
		}
		rel := filepath.ToSlash(info.RelativePath)
		if shouldExclude(rel, g.opts.Exclude) {
			continue
		}
		files[rel] = info
	}
	return files, nil
}

// renameFingerprint keys a rename candidate by size plus hash. Files above
// the partial-hash threshold use the partial hash, so mismatched candidates
// are rejected without reading either side fully; callers must confirm a
// partial match against full hashes before emitting a rename.
func (g *Generator) renameFingerprint(ctx context.Context, backend storage.Backend, path string) (key, hash string, partial bool, err error) {
	info, err := backend.Stat(ctx, path)
	if err != nil {
		return "", "", false, &models.IOError{Op: "stat", Path: path, Err: err}
	}
	partial = checksum.PartialThreshold(info.Size)
	if partial {
		hash, err = g.hasher.Partial(ctx, backend, path)
	} else {
		hash, err = g.hasher.File(ctx, backend, path)
	}
	if err != nil {
		return "", "", false, &models.IOError{Op: "hash", Path: path, Err: err}
	}
	return fmt.Sprintf("%d:%s", info.Size, hash), hash, partial, nil
}

// detectRenames pairs deleted and added paths with identical content.
// Only unambiguous one-to-one matches become Rename entries;
// multi-candidate matches stay independent Add+Delete pairs.
func (g *Generator) detectRenames(ctx context.Context, oldBackend, newBackend storage.Backend, deleted, added []string) ([]models.FileDiffEntry, []string, []string, error) {
	if len(deleted) == 0 || len(added) == 0 {
		return nil, deleted, added, nil
	}

	deletedByKey := make(map[string][]string)
	addedByKey := make(map[string][]string)
	hashOf := make(map[string]string)
	needsConfirm := make(map[string]bool)

	for _, path := range deleted {
		key, hash, partial, err := g.renameFingerprint(ctx, oldBackend, path)
		if err != nil {
			return nil, nil, nil, err
		}
		deletedByKey[key] = append(deletedByKey[key], path)
		hashOf[path] = hash
		needsConfirm[key] = partial
	}
	for _, path := range added {
		key, hash, partial, err := g.renameFingerprint(ctx, newBackend, path)
		if err != nil {
			return nil, nil, nil, err
		}
		addedByKey[key] = append(addedByKey[key], path)
		hashOf[path] = hash
		needsConfirm[key] = partial
	}

	var renames []models.FileDiffEntry
	renamedOld := make(map[string]bool)
	renamedNew := make(map[string]bool)

	for key, oldPaths := range deletedByKey {
		newPaths, ok := addedByKey[key]
		if !ok || len(oldPaths) != 1 || len(newPaths) != 1 {
			continue
		}
		oldPath, newPath := oldPaths[0], newPaths[0]

		oldHash, newHash := hashOf[oldPath], hashOf[newPath]
		if needsConfirm[key] {
			var err error
			if oldHash, err = g.hasher.File(ctx, oldBackend, oldPath); err != nil {
				return nil, nil, nil, &models.IOError{Op: "hash", Path: oldPath, Err: err}
			}
			if newHash, err = g.hasher.File(ctx, newBackend, newPath); err != nil {
				return nil, nil, nil, &models.IOError{Op: "hash", Path: newPath, Err: err}
			}
		}
		if oldHash != newHash {
			// Same size and leading bytes, different tails
			continue
		}

		renames = append(renames, models.FileDiffEntry{
			OldPath: oldPath,
			NewPath: newPath,
			Kind:    models.KindRename,
			OldHash: oldHash,
			NewHash: newHash,
		})
		renamedOld[oldPath] = true
		renamedNew[newPath] = true
		g.logger.Debug(ctx, "rename detected", logging.Fields{
			"from": oldPath,
			"to":   newPath,
		})
	}

	var remainingDeleted, remainingAdded []string
	for _, path := range deleted {
		if !renamedOld[path] {
			remainingDeleted = append(remainingDeleted, path)
		}
	}
	for _, path := range added {
		if !renamedNew[path] {
			remainingAdded = append(remainingAdded, path)
		}
	}
	return renames, remainingDeleted, remainingAdded, nil
}

// deleteEntry builds a Delete entry. Text files carry their removed lines
// as a hunk for review; binary files carry only the hash.
func (g *Generator) deleteEntry(ctx context.Context, backend storage.Backend, path string) (*models.FileDiffEntry, error) {
	data, err := backend.ReadFile(ctx, path)
	if err != nil {
		return nil, &models.IOError{Op: "read", Path: path, Err: err}
	}

	entry := &models.FileDiffEntry{
		OldPath: path,
		Kind:    models.KindDelete,
		OldHash: g.hasher.Sum(data),
	}
	if !g.treatAsBinary(data) {
		lines := SplitLines(data)
		if len(lines) > 0 {
			hunk := models.Hunk{OldStart: 1, OldCount: len(lines), NewStart: 0, NewCount: 0}
			for _, line := range lines {
				hunk.Lines = append(hunk.Lines, models.HunkLine{Tag: models.LineRemoved, Text: line})
			}
			entry.Hunks = []models.Hunk{hunk}
		}
	}
	return entry, nil
}

// addEntry builds an Add entry. Text files carry their lines as a hunk;
// binary files embed the full content.
func (g *Generator) addEntry(ctx context.Context, backend storage.Backend, path string) (*models.FileDiffEntry, error) {
	data, err := backend.ReadFile(ctx, path)
	if err != nil {
		return nil, &models.IOError{Op: "read", Path: path, Err: err}
	}

	entry := &models.FileDiffEntry{
		NewPath: path,
		Kind:    models.KindAdd,
		NewHash: g.hasher.Sum(data),
	}
	if g.treatAsBinary(data) {
		entry.Content = data
		return entry, nil
	}

	lines := SplitLines(data)
	if len(lines) > 0 {
		hunk := models.Hunk{OldStart: 0, OldCount: 0, NewStart: 1, NewCount: len(lines)}
		for _, line := range lines {
			hunk.Lines = append(hunk.Lines, models.HunkLine{Tag: models.LineAdded, Text: line})
		}
		entry.Hunks = []models.Hunk{hunk}
	}
	return entry, nil
}
