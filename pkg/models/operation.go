package models

import (
	"time"
)

// ApplyMode controls how strictly hunks must match the target
type ApplyMode string

const (
	// ModeStrict treats any mismatch as fatal for the operation
	ModeStrict ApplyMode = "strict"
	// ModeFuzzy searches a bounded window around the declared line
	// numbers when the exact position does not match
	ModeFuzzy ApplyMode = "fuzzy"
)

// Options holds the caller-supplied knobs recognized by the operation API
type Options struct {
	// ContextLines is the number of unchanged lines around each hunk
	ContextLines int

	// Mode selects strict or fuzzy hunk matching during apply
	Mode ApplyMode

	// MaxOffset bounds the fuzzy search window (lines either direction)
	MaxOffset int

	// DryRun validates without writing
	DryRun bool

	// BestEffort records entry failures and continues instead of halting
	BestEffort bool

	// Concurrency is the batch worker count (>= 1)
	Concurrency int

	// MaxFileSize is the largest file considered for text diffing; larger
	// files are treated as binary for safety (0 = default)
	MaxFileSize int64

	// Exclude holds glob patterns skipped during directory diffs
	Exclude []string

	// KeepBackups retains snapshots after a successful operation
	KeepBackups bool
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		ContextLines: 3,
		Mode:         ModeStrict,
		MaxOffset:    32,
		Concurrency:  5,
		MaxFileSize:  64 * 1024 * 1024,
	}
}

// Validate checks option values
func (o *Options) Validate() error {
	if o.ContextLines < 0 {
		return &ValidationError{Field: "ContextLines", Message: "must not be negative"}
	}
	if o.Mode != ModeStrict && o.Mode != ModeFuzzy {
		return &ValidationError{Field: "Mode", Message: "must be 'strict' or 'fuzzy'"}
	}
	if o.MaxOffset < 0 {
		return &ValidationError{Field: "MaxOffset", Message: "must not be negative"}
	}
	if o.Concurrency < 1 {
		return &ValidationError{Field: "Concurrency", Message: "must be at least 1"}
	}
	return nil
}

// BatchItem is one unit of work for the batch orchestrator
type BatchItem struct {
	// Kind selects the operation to run
	Kind OperationKind

	// OldPath and NewPath are the diff inputs for create items
	OldPath string
	NewPath string

	// PatchPath is the patch document location for apply items
	PatchPath string

	// TargetRoot is the directory an apply item mutates
	TargetRoot string

	// Output receives the serialized patch for create items
	Output string
}

// Validate checks that the item carries the inputs its kind requires
func (b *BatchItem) Validate() error {
	switch b.Kind {
	case OpCreate:
		if b.OldPath == "" || b.NewPath == "" {
			return &ValidationError{Field: "OldPath/NewPath", Message: "create items require both diff inputs"}
		}
		if b.Output == "" {
			return &ValidationError{Field: "Output", Message: "create items require an output path"}
		}
	case OpApply:
		if b.PatchPath == "" {
			return &ValidationError{Field: "PatchPath", Message: "apply items require a patch document"}
		}
		if b.TargetRoot == "" {
			return &ValidationError{Field: "TargetRoot", Message: "apply items require a target root"}
		}
	default:
		return &ValidationError{Field: "Kind", Message: "must be 'create' or 'apply'"}
	}
	return nil
}

// TargetPaths returns the filesystem paths the item touches, used by the
// orchestrator to serialize items sharing a target.
func (b *BatchItem) TargetPaths() []string {
	switch b.Kind {
	case OpCreate:
		return []string{b.Output}
	case OpApply:
		return []string{b.TargetRoot}
	}
	return nil
}

// BackupRecord tracks one snapshot taken before a mutating write
type BackupRecord struct {
	// OriginalPath is the absolute path of the backed-up file
	OriginalPath string `json:"original_path"`

	// SnapshotPath is where the copy lives inside the backup store
	SnapshotPath string `json:"snapshot_path"`

	// Hash is the content hash at snapshot time
	Hash string `json:"hash"`

	// Existed is false when the original path had no prior state (the
	// restore then removes the path instead of rewriting it)
	Existed bool `json:"existed"`

	CreatedAt time.Time `json:"created_at"`
}

// ValidationError represents an invalid field value
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
