package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
	"github.com/dsmmcken/vdisk/internal/output"
)

func addListCommand(parent *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List devices recorded in config.toml",
		RunE:  runList,
	}
	parent.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), cfg.Devices)
	}

	if len(cfg.Devices) == 0 {
		if !output.IsQuiet() {
			fmt.Fprintln(cmd.OutOrStdout(), "no devices configured")
		}
		return nil
	}
	for _, d := range cfg.Devices {
		backend := d.Filename
		if d.ProxyAddress != "" {
			backend = "proxy:" + d.ProxyAddress
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-30s %12d bytes  flags=0x%04x\n", backend, d.SizeBytes, d.Flags)
	}
	return nil
}
