// Package cli wires the cobra commands to the engine packages
package cli

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand. Verbose and Quiet are
// mutually exclusive; cobra enforces that at parse time.
var globalFlags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
}

// AddGlobalFlags registers the persistent flags on the root command
func AddGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&globalFlags.ConfigFile, "config", "",
		"config file (default is $HOME/.config/patchnorris/config.yaml)")
	flags.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "suppress non-error output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}
