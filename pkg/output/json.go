package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/sdejongh/patchnorris/pkg/models"
)

// JSONFormatter emits the final report as a single JSON document for
// automation and scripting. Progress updates are not streamed so the
// output stays parseable.
type JSONFormatter struct {
	writer io.Writer
}

// JSONOperationReport is the exported shape of one operation. Entry
// results keep the path/kind/outcome/reason contract from EntryResult.
type JSONOperationReport struct {
	OperationID string               `json:"operation_id,omitempty"`
	Kind        string               `json:"kind"`
	TargetRoot  string               `json:"target_root,omitempty"`
	DryRun      bool                 `json:"dry_run,omitempty"`
	Status      string               `json:"status"`
	Duration    string               `json:"duration"`
	DurationMs  int64                `json:"duration_ms"`
	Stats       models.Statistics    `json:"stats"`
	Results     []models.EntryResult `json:"results,omitempty"`
	Error       string               `json:"error,omitempty"`
	Unrestored  []string             `json:"unrestored,omitempty"`
}

// JSONBatchReport is the exported shape of one batch invocation
type JSONBatchReport struct {
	BatchID    string                `json:"batch_id"`
	Status     string                `json:"status"`
	Duration   string                `json:"duration"`
	DurationMs int64                 `json:"duration_ms"`
	Items      []JSONOperationReport `json:"items"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Start initializes the formatter
func (f *JSONFormatter) Start(writer io.Writer, totalEntries int) error {
	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	return nil
}

// Progress is a no-op for the JSON formatter
func (f *JSONFormatter) Progress(update ProgressUpdate) error {
	return nil
}

// Complete writes the operation report as indented JSON
func (f *JSONFormatter) Complete(report *models.OperationReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exportOperation(report))
}

// CompleteBatch writes the batch report as indented JSON
func (f *JSONFormatter) CompleteBatch(report *models.AggregateReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}

	out := JSONBatchReport{
		BatchID:    report.BatchID,
		Status:     string(report.Status),
		Duration:   report.Duration.Round(time.Millisecond).String(),
		DurationMs: report.Duration.Milliseconds(),
	}
	for _, op := range report.Reports {
		out.Items = append(out.Items, exportOperation(op))
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func exportOperation(report *models.OperationReport) JSONOperationReport {
	return JSONOperationReport{
		OperationID: report.OperationID,
		Kind:        string(report.Kind),
		TargetRoot:  report.TargetRoot,
		DryRun:      report.DryRun,
		Status:      string(report.Status),
		Duration:    report.Duration.Round(time.Millisecond).String(),
		DurationMs:  report.Duration.Milliseconds(),
		Stats:       report.Stats,
		Results:     report.Results,
		Error:       report.Error,
		Unrestored:  report.Unrestored,
	}
}

// Error writes an error object so automation sees failures on the same
// stream
func (f *JSONFormatter) Error(err error) error {
	if f.writer == nil {
		return nil
	}
	return json.NewEncoder(f.writer).Encode(map[string]string{"error": err.Error()})
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}
