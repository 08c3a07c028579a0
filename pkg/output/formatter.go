// Package output renders operation and batch reports for people and for
// automation. Formatters receive progress updates while an operation runs
// and the finished report when it completes.
package output

import (
	"fmt"
	"io"

	"github.com/sdejongh/patchnorris/pkg/models"
)

// Progress update types
const (
	EventEntryStart    = "entry_start"
	EventEntryComplete = "entry_complete"
	EventEntrySkipped  = "entry_skipped"
	EventEntryError    = "entry_error"
	EventItemStart     = "item_start"
	EventItemComplete  = "item_complete"
)

// ProgressUpdate represents one progress notification
type ProgressUpdate struct {
	Type  string
	Path  string
	Kind  models.EntryKind
	Index int
	Total int
	Error error
}

// Formatter defines the interface for output rendering.
// Implementations include human-readable, JSON, and progress-bar formatters.
type Formatter interface {
	// Start initializes the formatter for a new operation or batch
	Start(writer io.Writer, totalEntries int) error

	// Progress reports progress while the operation runs
	Progress(update ProgressUpdate) error

	// Complete renders the finished operation report
	Complete(report *models.OperationReport) error

	// CompleteBatch renders the finished batch report
	CompleteBatch(report *models.AggregateReport) error

	// Error reports a fatal error
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// New creates a formatter by name
func New(name string) (Formatter, error) {
	switch name {
	case "human", "":
		return NewHumanFormatter(), nil
	case "json":
		return NewJSONFormatter(), nil
	case "progress":
		return NewProgressFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (supported: human, json, progress)", name)
	}
}
