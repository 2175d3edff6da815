package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
)

func addConfigCommands(parent *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set top-level configuration values",
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Set(args[0], args[1])
		},
	}

	configCmd.AddCommand(getCmd, setCmd)
	parent.AddCommand(configCmd)
}
