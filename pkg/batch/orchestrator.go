// Package batch runs multiple create/apply operations as one invocation.
// Items are dispatched to a bounded worker pool; items whose target paths
// overlap are serialized through path-keyed locks so no two workers ever
// race on the same filesystem path.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdejongh/patchnorris/pkg/apply"
	"github.com/sdejongh/patchnorris/pkg/backup"
	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/diff"
	"github.com/sdejongh/patchnorris/pkg/events"
	"github.com/sdejongh/patchnorris/pkg/logging"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/patch"
	"github.com/sdejongh/patchnorris/pkg/storage"
)

// completedApply remembers what an apply item did so an explicit
// full-batch rollback can undo it later
type completedApply struct {
	manager    *backup.Manager
	records    []models.BackupRecord
	finishedAt time.Time
}

// Orchestrator dispatches batch items and folds their reports into one
// aggregate. A single Orchestrator runs one batch at a time.
type Orchestrator struct {
	backupRoot string
	hasher     *checksum.Hasher
	logger     logging.Logger
	hooks      *events.Registry
	opts       models.Options

	mu        sync.Mutex
	completed []completedApply
}

// NewOrchestrator creates a batch orchestrator. backupRoot is the backup
// store directory shared by all apply items.
func NewOrchestrator(backupRoot string, hasher *checksum.Hasher, logger logging.Logger, hooks *events.Registry, opts models.Options) *Orchestrator {
	if hasher == nil {
		hasher = checksum.New(checksum.SHA256, 65536)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Orchestrator{
		backupRoot: backupRoot,
		hasher:     hasher,
		logger:     logger,
		hooks:      hooks,
		opts:       opts,
	}
}

// Run executes all items and returns the aggregate report. Item failures
// never abort the batch: each item's outcome lands in its own report and
// the aggregate carries the worst-case status. An empty batch is a
// successful no-op. Cancellation is honored between items; in-flight
// items run to completion.
func (o *Orchestrator) Run(ctx context.Context, items []models.BatchItem) (*models.AggregateReport, error) {
	aggregate := &models.AggregateReport{
		BatchID:   uuid.New().String(),
		StartTime: time.Now(),
		Status:    models.StatusSuccess,
	}

	if len(items) == 0 {
		aggregate.EndTime = time.Now()
		aggregate.Duration = aggregate.EndTime.Sub(aggregate.StartTime)
		return aggregate, nil
	}

	o.logger.Info(ctx, "starting batch", logging.Fields{
		"batch_id": aggregate.BatchID,
		"items":    len(items),
		"workers":  o.opts.Concurrency,
	})

	concurrency := o.opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	semaphore := make(chan struct{}, concurrency)
	locks := newPathLocks()

	var wg sync.WaitGroup
	reports := make([]*models.OperationReport, len(items))
	cancelled := false

	for i := range items {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		semaphore <- struct{}{}
		wg.Add(1)

		go func(index int, item models.BatchItem) {
			defer wg.Done()
			defer func() { <-semaphore }()

			release := locks.acquire(item.TargetPaths())
			defer release()

			o.hooks.EmitStarted(events.OperationStarted{
				BatchID: aggregate.BatchID,
				Index:   index,
				Item:    item,
			})

			report, err := o.runItem(ctx, &item)
			reports[index] = report

			o.hooks.EmitCompleted(events.OperationCompleted{
				BatchID: aggregate.BatchID,
				Index:   index,
				Item:    item,
				Report:  report,
				Err:     err,
			})
		}(i, items[i])
	}

	wg.Wait()

	for _, report := range reports {
		if report != nil {
			aggregate.Combine(report)
		}
	}
	if cancelled && aggregate.Status != models.StatusAborted {
		aggregate.Status = models.StatusCancelled
	}

	aggregate.EndTime = time.Now()
	aggregate.Duration = aggregate.EndTime.Sub(aggregate.StartTime)

	o.logger.Info(ctx, "batch finished", logging.Fields{
		"batch_id": aggregate.BatchID,
		"status":   string(aggregate.Status),
	})

	if cancelled {
		return aggregate, ctx.Err()
	}
	return aggregate, nil
}

// runItem executes one batch item and always returns a report, even for
// items rejected before an operation could run
func (o *Orchestrator) runItem(ctx context.Context, item *models.BatchItem) (*models.OperationReport, error) {
	if err := item.Validate(); err != nil {
		return o.failedReport(item.Kind, err), err
	}

	switch item.Kind {
	case models.OpCreate:
		return o.runCreate(ctx, item)
	case models.OpApply:
		return o.runApply(ctx, item)
	default:
		err := fmt.Errorf("unhandled batch item kind %q", item.Kind)
		return o.failedReport(item.Kind, err), err
	}
}

// failedReport wraps an item-level error in a minimal report so the
// aggregate still accounts for the item
func (o *Orchestrator) failedReport(kind models.OperationKind, err error) *models.OperationReport {
	now := time.Now()
	return &models.OperationReport{
		Kind:      kind,
		StartTime: now,
		EndTime:   now,
		Status:    models.StatusFailed,
		Error:     err.Error(),
	}
}

// runCreate computes a patch document and writes it to the item's output
// path
func (o *Orchestrator) runCreate(ctx context.Context, item *models.BatchItem) (*models.OperationReport, error) {
	report := &models.OperationReport{
		Kind:      models.OpCreate,
		StartTime: time.Now(),
		Status:    models.StatusSuccess,
	}
	defer report.Finish()

	generator := diff.NewGenerator(o.hasher, diff.BinaryDetector{}, o.logger, o.opts)
	doc, err := generator.Create(ctx, item.OldPath, item.NewPath, models.Metadata{})
	if err != nil {
		report.Status = models.StatusFailed
		report.Error = err.Error()
		return report, err
	}
	report.OperationID = doc.ID

	data, err := patch.Marshal(doc)
	if err != nil {
		report.Status = models.StatusFailed
		report.Error = err.Error()
		return report, err
	}

	if !o.opts.DryRun {
		if err := os.MkdirAll(filepath.Dir(item.Output), 0755); err != nil {
			report.Status = models.StatusFailed
			report.Error = err.Error()
			return report, &models.IOError{Op: "mkdir", Path: item.Output, Err: err}
		}
		if err := os.WriteFile(item.Output, data, 0644); err != nil {
			report.Status = models.StatusFailed
			report.Error = err.Error()
			return report, &models.IOError{Op: "write", Path: item.Output, Err: err}
		}
	}

	for i := range doc.Entries {
		report.Record(models.EntryResult{
			Path:      doc.Entries[i].Path(),
			Kind:      doc.Entries[i].Kind,
			Outcome:   models.OutcomeSuccess,
			HunkIndex: -1,
		})
	}
	report.Stats.BytesWritten = int64(len(data))
	return report, nil
}

// runApply parses the item's patch document and replays it onto the
// target root
func (o *Orchestrator) runApply(ctx context.Context, item *models.BatchItem) (*models.OperationReport, error) {
	data, err := os.ReadFile(item.PatchPath)
	if err != nil {
		ioErr := &models.IOError{Op: "read", Path: item.PatchPath, Err: err}
		return o.failedReport(models.OpApply, ioErr), ioErr
	}
	doc, err := patch.Parse(data)
	if err != nil {
		return o.failedReport(models.OpApply, err), err
	}

	backend, err := storage.NewLocal(item.TargetRoot)
	if err != nil {
		return o.failedReport(models.OpApply, err), err
	}
	defer backend.Close()

	var manager *backup.Manager
	if !o.opts.DryRun {
		manager, err = backup.NewManager(o.backupRoot, uuid.New().String(), o.hasher, o.logger)
		if err != nil {
			return o.failedReport(models.OpApply, err), err
		}
	}

	applier := apply.NewApplier(backend, manager, o.hasher, o.logger, o.opts)
	report, err := applier.Apply(ctx, doc)
	if report == nil {
		return o.failedReport(models.OpApply, err), err
	}

	if manager != nil && report.Status != models.StatusAborted {
		if records := manager.Records(); len(records) > 0 {
			o.mu.Lock()
			o.completed = append(o.completed, completedApply{
				manager:    manager,
				records:    records,
				finishedAt: time.Now(),
			})
			o.mu.Unlock()
		}
	}
	return report, err
}

// Rollback undoes every apply item the last Run completed, newest first,
// restoring all recorded backups. It is an explicit caller request, never
// implicit on cancellation, and requires the batch to have run with
// KeepBackups so the snapshots still exist. The returned paths could not
// be restored.
func (o *Orchestrator) Rollback(ctx context.Context) []string {
	o.mu.Lock()
	completed := o.completed
	o.completed = nil
	o.mu.Unlock()

	var unrestored []string
	for i := len(completed) - 1; i >= 0; i-- {
		unrestored = append(unrestored, completed[i].manager.RestoreAll(ctx, completed[i].records)...)
	}
	return unrestored
}
