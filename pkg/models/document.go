package models

import (
	"fmt"
	"sort"
	"time"
)

// FormatVersion is the current patch document format version
const FormatVersion = 1

// EntryKind categorizes a file diff entry
type EntryKind string

const (
	// KindTextModify is a line-based modification of a text file
	KindTextModify EntryKind = "modify"
	// KindBinaryReplace is a whole-file byte replacement
	KindBinaryReplace EntryKind = "binary"
	// KindAdd creates a new file
	KindAdd EntryKind = "add"
	// KindDelete removes an existing file
	KindDelete EntryKind = "delete"
	// KindRename moves a file, optionally with hunks applied after the move
	KindRename EntryKind = "rename"
)

// LineTag categorizes a single hunk line
type LineTag byte

const (
	// LineContext is an unchanged line present on both sides
	LineContext LineTag = ' '
	// LineRemoved is a line present only in the old content
	LineRemoved LineTag = '-'
	// LineAdded is a line present only in the new content
	LineAdded LineTag = '+'
)

// HunkLine is one line of a hunk with its change tag
type HunkLine struct {
	Tag  LineTag
	Text string
}

// Hunk is a contiguous block of changed lines with surrounding context.
// Line numbers are 1-based, counts follow the unified diff convention.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []HunkLine
}

// Validate checks the hunk's internal line counts against its header
func (h *Hunk) Validate() error {
	oldLines, newLines := 0, 0
	for i, line := range h.Lines {
		switch line.Tag {
		case LineContext:
			oldLines++
			newLines++
		case LineRemoved:
			oldLines++
		case LineAdded:
			newLines++
		default:
			return fmt.Errorf("hunk line %d has unknown tag %q", i, line.Tag)
		}
	}
	if oldLines != h.OldCount {
		return fmt.Errorf("hunk header declares %d old lines but body has %d", h.OldCount, oldLines)
	}
	if newLines != h.NewCount {
		return fmt.Errorf("hunk header declares %d new lines but body has %d", h.NewCount, newLines)
	}
	return nil
}

// FileDiffEntry describes the change to a single file within a patch
type FileDiffEntry struct {
	// OldPath is the path before the change, relative to the tree root.
	// Empty for Add entries.
	OldPath string

	// NewPath is the path after the change. Empty for Delete entries.
	NewPath string

	// Kind selects how the entry is applied
	Kind EntryKind

	// OldHash is the expected content hash before applying ("" when absent,
	// e.g. for Add entries). Format: "sha256:<hex>".
	OldHash string

	// NewHash is the content hash after applying ("" for Delete entries)
	NewHash string

	// Hunks holds the line changes for text entries. Empty for
	// BinaryReplace, Add-of-binary and Delete entries.
	Hunks []Hunk

	// Content carries the full new file bytes for Add and BinaryReplace
	// entries (binary-safe; not used for text hunks)
	Content []byte
}

// Path returns the most relevant target path of the entry
func (e *FileDiffEntry) Path() string {
	if e.NewPath != "" {
		return e.NewPath
	}
	return e.OldPath
}

// Validate checks entry-level invariants: paths match the kind, both hashes
// when present differ unless the entry is a pure rename, and hunks are
// well-formed, ordered by old start and non-overlapping.
func (e *FileDiffEntry) Validate() error {
	switch e.Kind {
	case KindAdd:
		if e.NewPath == "" {
			return fmt.Errorf("add entry is missing new path")
		}
	case KindDelete:
		if e.OldPath == "" {
			return fmt.Errorf("delete entry is missing old path")
		}
	case KindTextModify, KindBinaryReplace:
		if e.OldPath == "" || e.NewPath == "" {
			return fmt.Errorf("%s entry requires both paths", e.Kind)
		}
	case KindRename:
		if e.OldPath == "" || e.NewPath == "" {
			return fmt.Errorf("rename entry requires both paths")
		}
		if e.OldPath == e.NewPath {
			return fmt.Errorf("rename entry has identical paths: %s", e.OldPath)
		}
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}

	pureRename := e.Kind == KindRename && len(e.Hunks) == 0
	if e.OldHash != "" && e.NewHash != "" && e.OldHash == e.NewHash && !pureRename {
		return fmt.Errorf("entry %s declares identical old and new hashes", e.Path())
	}

	if e.Kind == KindBinaryReplace && len(e.Hunks) > 0 {
		return fmt.Errorf("binary entry %s must not carry hunks", e.Path())
	}

	prevEnd := 0
	for i := range e.Hunks {
		h := &e.Hunks[i]
		if err := h.Validate(); err != nil {
			return fmt.Errorf("entry %s hunk %d: %w", e.Path(), i, err)
		}
		if h.OldStart <= prevEnd {
			return fmt.Errorf("entry %s hunk %d overlaps or precedes previous hunk", e.Path(), i)
		}
		prevEnd = h.OldStart + h.OldCount - 1
		if h.OldCount == 0 {
			// Pure insertion anchors after OldStart
			prevEnd = h.OldStart
		}
	}
	return nil
}

// Metadata is the document-level header of a patch
type Metadata struct {
	// Author of the patch; must be non-empty when set in a parsed document
	Author string

	// Created is the patch creation time
	Created time.Time

	// Description is a free-text summary
	Description string

	// Version is the document format version
	Version int
}

// PatchDocument is the in-memory representation of a patch: an ordered
// sequence of file diff entries plus document metadata
type PatchDocument struct {
	// ID identifies the document (assigned on creation, not serialized)
	ID string

	Meta    Metadata
	Entries []FileDiffEntry
}

// Validate checks document-level invariants and every entry
func (d *PatchDocument) Validate() error {
	if d.Meta.Version != 0 && d.Meta.Version != FormatVersion {
		return fmt.Errorf("unsupported format version %d", d.Meta.Version)
	}
	for i := range d.Entries {
		if err := d.Entries[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// SortEntries orders entries by target path for deterministic output
func (d *PatchDocument) SortEntries() {
	sort.SliceStable(d.Entries, func(i, j int) bool {
		return d.Entries[i].Path() < d.Entries[j].Path()
	})
}
