package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/patch"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <patch-file>",
		Short: "Check a patch document for format errors",
		Long: `Parse a patch document and report whether it is well-formed. Nothing is
applied; the target filesystem is never touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read patch file: %w", err)
			}

			doc, err := patch.Parse(data)
			if err != nil {
				var formatErr *models.FormatError
				if errors.As(err, &formatErr) {
					fmt.Fprintf(os.Stderr, "%s: %s\n", args[0], formatErr.Error())
					os.Exit(2)
				}
				return err
			}

			if !globalFlags.Quiet {
				fmt.Printf("%s: valid patch document\n", args[0])
				fmt.Printf("  Entries: %d\n", len(doc.Entries))
				if doc.Meta.Author != "" {
					fmt.Printf("  Author:  %s\n", doc.Meta.Author)
				}
				if !doc.Meta.Created.IsZero() {
					fmt.Printf("  Created: %s\n", doc.Meta.Created.Format(time.RFC3339))
				}
				for i := range doc.Entries {
					entry := &doc.Entries[i]
					fmt.Printf("  [%d] %-6s %s (%d hunks)\n", i+1, entry.Kind, entry.Path(), len(entry.Hunks))
				}
			}
			return nil
		},
	}
}
