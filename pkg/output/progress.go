package output

import (
	"io"
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/sdejongh/patchnorris/pkg/models"
)

// ProgressFormatter renders a live progress bar while entries apply, then
// falls back to the human summary. Meant for interactive terminals; the
// CLI picks the plain human formatter when stdout is not a TTY.
type ProgressFormatter struct {
	mu      sync.Mutex
	writer  io.Writer
	bar     *pb.ProgressBar
	summary *HumanFormatter
}

// NewProgressFormatter creates a progress-bar formatter
func NewProgressFormatter() *ProgressFormatter {
	return &ProgressFormatter{summary: NewHumanFormatter()}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// Start initializes the bar sized to the entry count
func (f *ProgressFormatter) Start(writer io.Writer, totalEntries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.summary.Start(writer, totalEntries)

	if totalEntries <= 0 {
		return nil
	}

	bar := pb.New(totalEntries).SetWriter(writer)
	if file, ok := writer.(*os.File); ok {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			bar.SetWidth(width)
		}
	}
	f.bar = bar.Start()
	return nil
}

// Progress advances the bar on every finished entry
func (f *ProgressFormatter) Progress(update ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bar == nil {
		return nil
	}
	switch update.Type {
	case EventEntryComplete, EventEntrySkipped, EventEntryError:
		f.bar.Increment()
	}
	return nil
}

// Complete finishes the bar and prints the human summary
func (f *ProgressFormatter) Complete(report *models.OperationReport) error {
	f.finishBar()
	return f.summary.Complete(report)
}

// CompleteBatch finishes the bar and prints the batch summary
func (f *ProgressFormatter) CompleteBatch(report *models.AggregateReport) error {
	f.finishBar()
	return f.summary.CompleteBatch(report)
}

func (f *ProgressFormatter) finishBar() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bar != nil {
		f.bar.Finish()
		f.bar = nil
	}
}

// Error finishes the bar before reporting so the message is not drawn
// over
func (f *ProgressFormatter) Error(err error) error {
	f.finishBar()
	return f.summary.Error(err)
}

// Name returns the formatter name
func (f *ProgressFormatter) Name() string {
	return "progress"
}
