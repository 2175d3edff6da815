// Package cmd wires the vdiskctl cobra command tree: device management
// (create/list/rm), the long-running server (serve), the live status
// viewer, and config get/set — grounded on the teacher's root command
// (flag layout, PersistentPreRunE, env var fallbacks) and its
// per-command file-per-subcommand layout.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
	"github.com/dsmmcken/vdisk/internal/output"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	noColorFlag bool
	ConfigDir   string
)

// NewRootCmd builds the full vdiskctl command tree.
func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addCreateCommand(cmd)
	addListCommand(cmd)
	addRmCommand(cmd)
	addServeCommand(cmd)
	addStatusCommand(cmd)
	addConfigCommands(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vdiskctl",
		Short:         "Manage virtual block devices",
		Long:          "vdiskctl — create, list and serve virtual block devices backed by a file, memory, or a remote proxy endpoint.",
		Version:       fmt.Sprintf("vdiskctl v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)
			config.SetConfigDir(ConfigDir)
			return nil
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.BoolVar(&noColorFlag, "no-color", false, "Disable ANSI colors")
	pflags.StringVar(&ConfigDir, "config-dir", "", "Override config directory (default: ~/.vdisk)")

	if v := os.Getenv("VDISK_HOME"); v != "" && ConfigDir == "" {
		ConfigDir = v
	}
	if os.Getenv("NO_COLOR") != "" {
		noColorFlag = true
	}
	if os.Getenv("VDISK_JSON") == "1" {
		jsonFlag = true
	}

	return rootCmd
}

// Execute runs the vdiskctl command tree against os.Args.
func Execute() error {
	cmd := NewRootCmd()
	return cmd.Execute()
}
