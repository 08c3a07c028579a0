package output

import (
	"fmt"
	"io"
	"time"

	"github.com/sdejongh/patchnorris/pkg/models"
)

// HumanFormatter renders line-per-entry output with a plain-text summary
type HumanFormatter struct {
	writer       io.Writer
	totalEntries int
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// Start initializes the formatter
func (f *HumanFormatter) Start(writer io.Writer, totalEntries int) error {
	f.writer = writer
	f.totalEntries = totalEntries
	return nil
}

// Progress reports progress line by line
func (f *HumanFormatter) Progress(update ProgressUpdate) error {
	if f.writer == nil {
		return nil
	}

	switch update.Type {
	case EventEntryComplete:
		fmt.Fprintf(f.writer, "[%d/%d] ✓ %s (%s)\n",
			update.Index+1, f.totalEntries, update.Path, update.Kind)
	case EventEntrySkipped:
		fmt.Fprintf(f.writer, "[%d/%d] - %s (already applied)\n",
			update.Index+1, f.totalEntries, update.Path)
	case EventEntryError:
		fmt.Fprintf(f.writer, "[%d/%d] ✗ %s: %v\n",
			update.Index+1, f.totalEntries, update.Path, update.Error)
	case EventItemStart:
		fmt.Fprintf(f.writer, "[%d/%d] Starting %s...\n",
			update.Index+1, update.Total, update.Path)
	}
	return nil
}

// Complete displays the operation summary
func (f *HumanFormatter) Complete(report *models.OperationReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}

	fmt.Fprintf(f.writer, "\n")
	verb := "Apply"
	if report.Kind == models.OpCreate {
		verb = "Create"
	}
	fmt.Fprintf(f.writer, "%s completed in %s\n", verb, report.Duration.Round(time.Millisecond))
	if report.DryRun {
		fmt.Fprintf(f.writer, "(dry run: no files were modified)\n")
	}
	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Summary:\n")
	fmt.Fprintf(f.writer, "  Entries:        %d\n", report.Stats.Entries)
	fmt.Fprintf(f.writer, "  Succeeded:      %d\n", report.Stats.Succeeded)
	fmt.Fprintf(f.writer, "  Skipped:        %d\n", report.Stats.Skipped)
	fmt.Fprintf(f.writer, "  Failed:         %d\n", report.Stats.Failed)
	if report.Stats.FilesBackedUp > 0 {
		fmt.Fprintf(f.writer, "  Backed up:      %d\n", report.Stats.FilesBackedUp)
	}
	if report.Stats.FilesRestored > 0 {
		fmt.Fprintf(f.writer, "  Restored:       %d\n", report.Stats.FilesRestored)
	}
	if report.Stats.BytesWritten > 0 {
		fmt.Fprintf(f.writer, "  Data written:   %s\n", formatBytes(report.Stats.BytesWritten))
	}
	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Status: %s\n", report.Status)

	if report.Error != "" {
		fmt.Fprintf(f.writer, "Error: %s\n", report.Error)
	}
	f.printFailures(report)
	if len(report.Unrestored) > 0 {
		fmt.Fprintf(f.writer, "\nWARNING: the following paths could not be restored and need manual attention:\n")
		for _, path := range report.Unrestored {
			fmt.Fprintf(f.writer, "  %s\n", path)
		}
	}
	return nil
}

// CompleteBatch displays the batch summary
func (f *HumanFormatter) CompleteBatch(report *models.AggregateReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}

	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Batch completed in %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Items:\n")
	for i, op := range report.Reports {
		fmt.Fprintf(f.writer, "  [%d] %-6s %-9s entries=%d succeeded=%d skipped=%d failed=%d\n",
			i+1, op.Kind, op.Status,
			op.Stats.Entries, op.Stats.Succeeded, op.Stats.Skipped, op.Stats.Failed)
		if op.Error != "" {
			fmt.Fprintf(f.writer, "      error: %s\n", op.Error)
		}
	}
	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Status: %s\n", report.Status)
	return nil
}

// printFailures lists failed entries with their reasons
func (f *HumanFormatter) printFailures(report *models.OperationReport) {
	var failed []models.EntryResult
	for _, res := range report.Results {
		if res.Outcome == models.OutcomeFailed {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return
	}
	fmt.Fprintf(f.writer, "\nFailures:\n")
	for _, res := range failed {
		fmt.Fprintf(f.writer, "  %s: %s\n", res.Path, res.Reason)
	}
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	if f.writer != nil {
		fmt.Fprintf(f.writer, "Error: %v\n", err)
	}
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

// formatBytes formats bytes in human-readable form
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
