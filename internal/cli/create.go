package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/diff"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/patch"
	"github.com/sdejongh/patchnorris/pkg/ratelimit"
)

// CreateFlags holds create command flags
type CreateFlags struct {
	Old         string
	New         string
	Output      string
	Context     int
	Author      string
	Description string
	Exclude     []string
	MaxFileSize int64
	Bandwidth   string
}

var createFlags CreateFlags

// NewCreateCommand creates the create command
func NewCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a patch document from two files or directories",
		Long: `Compute the differences between an old and a new version of a file or
directory tree and write them as a patch document.`,
		RunE: runCreate,
	}

	cmd.Flags().StringVarP(&createFlags.Old, "old", "a", "", "old file or directory (required)")
	cmd.Flags().StringVarP(&createFlags.New, "new", "b", "", "new file or directory (required)")
	cmd.MarkFlagRequired("old")
	cmd.MarkFlagRequired("new")

	cmd.Flags().StringVarP(&createFlags.Output, "output", "o", "", "patch file to write (default: stdout)")
	cmd.Flags().IntVarP(&createFlags.Context, "context", "c", -1, "context lines around each hunk (default: 3)")
	cmd.Flags().StringVar(&createFlags.Author, "author", "", "author recorded in the patch metadata")
	cmd.Flags().StringVar(&createFlags.Description, "description", "", "description recorded in the patch metadata")
	cmd.Flags().StringSliceVar(&createFlags.Exclude, "exclude", nil, "glob patterns to exclude from directory diffs")
	cmd.Flags().Int64Var(&createFlags.MaxFileSize, "max-file-size", 0, "largest file line-diffed as text, in bytes (larger files become binary entries)")
	cmd.Flags().StringVar(&createFlags.Bandwidth, "bandwidth", "", "disk read limit (e.g. \"10M\", \"1G\")")

	return cmd
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := cfg.Options()
	if createFlags.Context >= 0 {
		opts.ContextLines = createFlags.Context
	}
	if len(createFlags.Exclude) > 0 {
		opts.Exclude = createFlags.Exclude
	}
	if createFlags.MaxFileSize > 0 {
		opts.MaxFileSize = createFlags.MaxFileSize
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	logger, err := createLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	hasher := checksum.New(checksum.SHA256, cfg.Performance.BufferSize)
	bandwidth := cfg.Performance.BandwidthLimit
	if createFlags.Bandwidth != "" {
		bandwidth, err = parseBandwidth(createFlags.Bandwidth)
		if err != nil {
			return err
		}
	}
	if limiter := ratelimit.NewLimiter(bandwidth); limiter != nil {
		hasher.SetReaderWrapper(ratelimit.Wrapper(ctx, limiter))
	}

	detector := diff.BinaryDetector{
		SampleWindow:  cfg.Diff.SampleWindow,
		NonTextRatio:  cfg.Diff.NonTextRatio,
		MaxLineLength: cfg.Diff.MaxLineLength,
	}

	generator := diff.NewGenerator(hasher, detector, logger, opts)
	doc, err := generator.Create(ctx, createFlags.Old, createFlags.New, models.Metadata{
		Author:      createFlags.Author,
		Description: createFlags.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to create patch: %w", err)
	}

	if createFlags.Output == "" {
		return patch.Write(os.Stdout, doc)
	}

	data, err := patch.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(createFlags.Output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(createFlags.Output, data, 0644); err != nil {
		return fmt.Errorf("failed to write patch file: %w", err)
	}

	if !globalFlags.Quiet {
		fmt.Fprintf(os.Stderr, "Patch written to %s (%d entries)\n", createFlags.Output, len(doc.Entries))
	}
	return nil
}
