package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// build information, injected through SetBuildInfo at startup
var buildVersion, buildCommit, buildDate = "dev", "none", "unknown"

// SetBuildInfo records the ldflags-provided build identifiers
func SetBuildInfo(version, commit, date string) {
	buildVersion, buildCommit, buildDate = version, commit, date
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, buildVersion)
				return
			}
			fmt.Fprintf(out, "patchnorris %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
			fmt.Fprintf(out, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")

	return cmd
}
