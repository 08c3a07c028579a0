package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sdejongh/patchnorris/internal/platform"
	"github.com/sdejongh/patchnorris/pkg/apply"
	"github.com/sdejongh/patchnorris/pkg/backup"
	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/output"
	"github.com/sdejongh/patchnorris/pkg/patch"
	"github.com/sdejongh/patchnorris/pkg/ratelimit"
	"github.com/sdejongh/patchnorris/pkg/storage"
)

// ApplyFlags holds apply command flags
type ApplyFlags struct {
	Patch       string
	Target      string
	Mode        string
	MaxOffset   int
	DryRun      bool
	BestEffort  bool
	BackupDir   string
	KeepBackups bool
	Bandwidth   string
}

var applyFlags ApplyFlags

// NewApplyCommand creates the apply command
func NewApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a patch document to a target directory",
		Long: `Replay a patch document onto a target tree. Every file is backed up
before modification; a strict-mode failure rolls the whole operation back.`,
		RunE: runApply,
	}

	cmd.Flags().StringVarP(&applyFlags.Patch, "patch", "p", "", "patch document to apply (required)")
	cmd.Flags().StringVarP(&applyFlags.Target, "target", "t", "", "target directory (required)")
	cmd.MarkFlagRequired("patch")
	cmd.MarkFlagRequired("target")

	cmd.Flags().StringVarP(&applyFlags.Mode, "mode", "m", "", "hunk matching mode: strict, fuzzy")
	cmd.Flags().IntVar(&applyFlags.MaxOffset, "max-offset", -1, "fuzzy search window in lines (default: 32)")
	cmd.Flags().BoolVar(&applyFlags.DryRun, "dry-run", false, "validate without writing")
	cmd.Flags().BoolVar(&applyFlags.BestEffort, "best-effort", false, "continue past entry failures instead of halting")
	cmd.Flags().StringVar(&applyFlags.BackupDir, "backup-dir", "", "backup store directory")
	cmd.Flags().BoolVar(&applyFlags.KeepBackups, "keep-backups", false, "retain snapshots after success")
	cmd.Flags().StringVar(&applyFlags.Bandwidth, "bandwidth", "", "disk read limit (e.g. \"10M\", \"1G\")")

	return cmd
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := cfg.Options()
	if applyFlags.Mode != "" {
		opts.Mode = models.ApplyMode(applyFlags.Mode)
	}
	if applyFlags.MaxOffset >= 0 {
		opts.MaxOffset = applyFlags.MaxOffset
	}
	opts.DryRun = applyFlags.DryRun
	opts.BestEffort = applyFlags.BestEffort
	if applyFlags.KeepBackups {
		opts.KeepBackups = true
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(applyFlags.Patch)
	if err != nil {
		return fmt.Errorf("failed to read patch file: %w", err)
	}
	doc, err := patch.Parse(data)
	if err != nil {
		return fmt.Errorf("invalid patch document: %w", err)
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
	formatter.Start(writer, len(doc.Entries))

	backend, err := storage.NewLocal(applyFlags.Target)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	defer backend.Close()

	hasher := checksum.New(checksum.SHA256, cfg.Performance.BufferSize)
	bandwidth := cfg.Performance.BandwidthLimit
	if applyFlags.Bandwidth != "" {
		bandwidth, err = parseBandwidth(applyFlags.Bandwidth)
		if err != nil {
			return err
		}
	}
	if limiter := ratelimit.NewLimiter(bandwidth); limiter != nil {
		hasher.SetReaderWrapper(ratelimit.Wrapper(ctx, limiter))
	}

	var manager *backup.Manager
	if !opts.DryRun {
		store := applyFlags.BackupDir
		if store == "" {
			store, err = backupDir(cfg)
			if err != nil {
				return err
			}
		} else {
			store = platform.ExpandUser(store)
		}
		manager, err = backup.NewManager(store, uuid.New().String(), hasher, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
	}

	applier := apply.NewApplier(backend, manager, hasher, logger, opts)
	report, err := applier.Apply(ctx, doc)
	if report == nil {
		formatter.Error(err)
		return err
	}

	emitEntryProgress(formatter, report)
	formatter.Complete(report)
	if err != nil {
		logger.Error(ctx, "apply failed", err, nil)
	}

	os.Exit(report.Status.ExitCode())
	return nil
}

// emitEntryProgress replays per-entry results into the formatter so the
// line-per-entry formatters show what happened to each file
func emitEntryProgress(formatter output.Formatter, report *models.OperationReport) {
	total := report.Stats.Entries
	for i, res := range report.Results {
		update := output.ProgressUpdate{
			Path:  res.Path,
			Kind:  res.Kind,
			Index: i,
			Total: total,
		}
		switch res.Outcome {
		case models.OutcomeSuccess:
			update.Type = output.EventEntryComplete
		case models.OutcomeSkipped:
			update.Type = output.EventEntrySkipped
		case models.OutcomeFailed:
			update.Type = output.EventEntryError
			update.Error = fmt.Errorf("%s", res.Reason)
		}
		formatter.Progress(update)
	}
}
