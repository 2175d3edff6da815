package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
	"github.com/dsmmcken/vdisk/internal/engine"
	"github.com/dsmmcken/vdisk/internal/output"
)

func addRmCommand(parent *cobra.Command) {
	rmCmd := &cobra.Command{
		Use:   "rm <filename>",
		Short: "Remove a device from config.toml",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
	parent.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	filename := args[0]
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	kept := cfg.Devices[:0]
	found := false
	for _, d := range cfg.Devices {
		if d.Filename == filename {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		if output.IsJSON() {
			return output.PrintError(cmd.ErrOrStderr(), engine.KindNotFound, "no such device: "+filename)
		}
		return fmt.Errorf("no such device: %s", filename)
	}
	cfg.Devices = kept

	if err := config.Save(cfg); err != nil {
		return err
	}
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), map[string]any{"removed": filename})
	}
	if !output.IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", filename)
	}
	return nil
}
