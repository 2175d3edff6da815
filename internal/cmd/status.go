package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
	"github.com/dsmmcken/vdisk/internal/engine"
	"github.com/dsmmcken/vdisk/internal/tui"
)

func addStatusCommand(parent *cobra.Command) {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a live view of the configured devices",
		RunE:  runStatus,
	}
	parent.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	reg := engine.NewRegistry()
	for _, dc := range cfg.Devices {
		req := engine.CreateRequest{
			Filename:     dc.Filename,
			SizeBytes:    dc.SizeBytes,
			ImageOffset:  dc.ImageOffset,
			Flags:        engine.Flags(dc.Flags),
			DriveLetter:  dc.DriveLetter,
			ProxyAddress: dc.ProxyAddress,
		}
		if dc.ProxyAddress != "" {
			req.ConnectString = dc.Filename
		}
		if _, err := engine.Create(ctx, reg, req); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to create %s: %v\n", dc.Filename, err)
		}
	}
	defer func() {
		for _, dev := range reg.List() {
			dev.Stop()
			dev.Backend.Close()
		}
	}()

	app := tui.NewApp(func() []tui.DeviceRow { return tui.RowsFromRegistry(reg) })
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
