package models

import (
	"fmt"
	"strings"
)

// FormatError reports a malformed patch document. It carries the offending
// line number and what the parser expected versus found.
type FormatError struct {
	Line     int
	Expected string
	Found    string
	Message  string
}

func (e *FormatError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("format error at line %d: expected %s, found %q", e.Line, e.Expected, e.Found)
	}
	return fmt.Sprintf("format error at line %d: %s", e.Line, e.Message)
}

// HashMismatchError reports target content that diverged from the
// expected pre-image
type HashMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch on %s: expected %s, found %s", e.Path, e.Expected, e.Actual)
}

// HunkApplyError reports a hunk whose context/removed lines were not found
// in the target, even after a fuzzy search when one was allowed
type HunkApplyError struct {
	Path      string
	EntryIdx  int
	HunkIdx   int
	Line      int
	Fuzzy     bool
	MaxOffset int
}

func (e *HunkApplyError) Error() string {
	if e.Fuzzy {
		return fmt.Sprintf("hunk %d of %s does not match target near line %d (searched ±%d lines)",
			e.HunkIdx, e.Path, e.Line, e.MaxOffset)
	}
	return fmt.Sprintf("hunk %d of %s does not match target at line %d", e.HunkIdx, e.Path, e.Line)
}

// IOError reports a read/write/permission failure on a concrete path
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// BackupError reports a snapshot or restore failure. A restore failure is
// always fatal: the paths in Unrestored may be left partially mutated.
type BackupError struct {
	Op         string
	Path       string
	Unrestored []string
	Err        error
}

func (e *BackupError) Error() string {
	if len(e.Unrestored) > 0 {
		return fmt.Sprintf("backup %s failed, %d path(s) not restored: %s",
			e.Op, len(e.Unrestored), strings.Join(e.Unrestored, ", "))
	}
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}
