package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sdejongh/patchnorris/internal/platform"
	"github.com/sdejongh/patchnorris/pkg/batch"
	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/events"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/output"
	"github.com/sdejongh/patchnorris/pkg/ratelimit"
)

// BatchFlags holds batch command flags
type BatchFlags struct {
	File              string
	Parallel          int
	DryRun            bool
	BestEffort        bool
	Mode              string
	BackupDir         string
	RollbackOnFailure bool
	Bandwidth         string
}

var batchFlags BatchFlags

// batchFile is the YAML shape of a batch description
type batchFile struct {
	Items []batchFileItem `yaml:"items"`
}

type batchFileItem struct {
	Kind   string `yaml:"kind"` // "create" or "apply"
	Old    string `yaml:"old"`
	New    string `yaml:"new"`
	Patch  string `yaml:"patch"`
	Target string `yaml:"target"`
	Output string `yaml:"output"`
}

// NewBatchCommand creates the batch command
func NewBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run multiple create/apply operations from a batch file",
		Long: `Execute the operations listed in a YAML batch file. Items run on a
bounded worker pool; items sharing a target path are serialized. One item
failing never aborts the others.`,
		RunE: runBatch,
	}

	cmd.Flags().StringVarP(&batchFlags.File, "file", "f", "", "batch description file (required)")
	cmd.MarkFlagRequired("file")

	cmd.Flags().IntVarP(&batchFlags.Parallel, "parallel", "p", 0, "number of parallel workers (default: 5)")
	cmd.Flags().BoolVar(&batchFlags.DryRun, "dry-run", false, "validate without writing")
	cmd.Flags().BoolVar(&batchFlags.BestEffort, "best-effort", false, "continue past entry failures inside each apply")
	cmd.Flags().StringVarP(&batchFlags.Mode, "mode", "m", "", "hunk matching mode: strict, fuzzy")
	cmd.Flags().StringVar(&batchFlags.BackupDir, "backup-dir", "", "backup store directory")
	cmd.Flags().BoolVar(&batchFlags.RollbackOnFailure, "rollback-on-failure", false, "restore every completed apply if the batch does not succeed")
	cmd.Flags().StringVar(&batchFlags.Bandwidth, "bandwidth", "", "disk read limit (e.g. \"10M\", \"1G\")")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	items, err := loadBatchFile(batchFlags.File)
	if err != nil {
		return err
	}

	opts := cfg.Options()
	if batchFlags.Parallel > 0 {
		opts.Concurrency = batchFlags.Parallel
	}
	if batchFlags.Mode != "" {
		opts.Mode = models.ApplyMode(batchFlags.Mode)
	}
	opts.DryRun = batchFlags.DryRun
	opts.BestEffort = batchFlags.BestEffort
	if batchFlags.RollbackOnFailure {
		// Snapshots must survive each item's success for a later
		// whole-batch rollback to have something to restore
		opts.KeepBackups = true
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	logger, err := createLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	formatter, writer, err := makeFormatter(cfg)
	if err != nil {
		return err
	}
	formatter.Start(writer, len(items))

	hasher := checksum.New(checksum.SHA256, cfg.Performance.BufferSize)
	bandwidth := cfg.Performance.BandwidthLimit
	if batchFlags.Bandwidth != "" {
		bandwidth, err = parseBandwidth(batchFlags.Bandwidth)
		if err != nil {
			return err
		}
	}
	if limiter := ratelimit.NewLimiter(bandwidth); limiter != nil {
		hasher.SetReaderWrapper(ratelimit.Wrapper(ctx, limiter))
	}

	store := batchFlags.BackupDir
	if store == "" {
		store, err = backupDir(cfg)
		if err != nil {
			return err
		}
	} else {
		store = platform.ExpandUser(store)
	}

	hooks := events.NewRegistry()
	hooks.OnStarted(func(e events.OperationStarted) {
		formatter.Progress(output.ProgressUpdate{
			Type:  output.EventItemStart,
			Path:  itemLabel(&e.Item),
			Index: e.Index,
			Total: len(items),
		})
	})
	hooks.OnCompleted(func(e events.OperationCompleted) {
		formatter.Progress(output.ProgressUpdate{
			Type:  output.EventItemComplete,
			Path:  itemLabel(&e.Item),
			Index: e.Index,
			Total: len(items),
			Error: e.Err,
		})
	})

	orchestrator := batch.NewOrchestrator(store, hasher, logger, hooks, opts)
	aggregate, runErr := orchestrator.Run(ctx, items)

	if batchFlags.RollbackOnFailure && aggregate.Status != models.StatusSuccess {
		if unrestored := orchestrator.Rollback(ctx); len(unrestored) > 0 {
			for _, path := range unrestored {
				logger.Error(ctx, "rollback could not restore path", nil, map[string]interface{}{"path": path})
			}
		}
	}

	formatter.CompleteBatch(aggregate)
	if runErr != nil {
		logger.Error(ctx, "batch did not complete", runErr, nil)
	}

	os.Exit(aggregate.Status.ExitCode())
	return nil
}

// loadBatchFile parses the YAML batch description into batch items
func loadBatchFile(path string) ([]models.BatchItem, error) {
	data, err := os.ReadFile(platform.ExpandUser(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	items := make([]models.BatchItem, 0, len(file.Items))
	for _, raw := range file.Items {
		items = append(items, models.BatchItem{
			Kind:       models.OperationKind(raw.Kind),
			OldPath:    platform.ExpandUser(raw.Old),
			NewPath:    platform.ExpandUser(raw.New),
			PatchPath:  platform.ExpandUser(raw.Patch),
			TargetRoot: platform.ExpandUser(raw.Target),
			Output:     platform.ExpandUser(raw.Output),
		})
	}
	return items, nil
}

// itemLabel names an item for display
func itemLabel(item *models.BatchItem) string {
	if item.Kind == models.OpCreate {
		return item.Output
	}
	return item.TargetRoot
}
