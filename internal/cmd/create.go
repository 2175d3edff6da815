package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
	"github.com/dsmmcken/vdisk/internal/engine"
	"github.com/dsmmcken/vdisk/internal/output"
)

var (
	createSize        uint64
	createImageOffset uint64
	createReadOnly    bool
	createRemovable   bool
	createSparse      bool
	createByteSwap    bool
	createDriveLetter string
	createProxyAddr   string
)

func addCreateCommand(parent *cobra.Command) {
	createCmd := &cobra.Command{
		Use:   "create <filename>",
		Short: "Define a new device and persist it to config.toml",
		Long: `Define a new virtual disk device.

The device isn't instantiated here: "vdiskctl create" validates the
parameters by briefly opening the backend, then records the device in
config.toml so "vdiskctl serve" creates it at startup.`,
		Args: cobra.ExactArgs(1),
		RunE: runCreate,
	}
	createCmd.Flags().Uint64Var(&createSize, "size", 0, "Size in bytes (required for memory-only devices)")
	createCmd.Flags().Uint64Var(&createImageOffset, "image-offset", 0, "Byte offset of the image within the backend")
	createCmd.Flags().BoolVar(&createReadOnly, "read-only", false, "Mark the device read-only")
	createCmd.Flags().BoolVar(&createRemovable, "removable", false, "Mark the device removable")
	createCmd.Flags().BoolVar(&createSparse, "sparse", false, "Use sparse-file semantics where supported")
	createCmd.Flags().BoolVar(&createByteSwap, "byte-swap", false, "Swap 16-bit words on read/write (buffered file mode only)")
	createCmd.Flags().StringVar(&createDriveLetter, "drive-letter", "", "Optional drive-letter hint")
	createCmd.Flags().StringVar(&createProxyAddr, "proxy-address", "", "Remote proxy endpoint (host:port) instead of a local backend")
	parent.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	filename := args[0]

	flags := engine.Flags(0)
	if createReadOnly {
		flags |= engine.FlagReadOnly
	}
	if createRemovable {
		flags |= engine.FlagRemovable
	}
	if createSparse {
		flags |= engine.FlagSparse
	}
	if createByteSwap {
		flags |= engine.FlagByteSwap | engine.FileBuffered
	}

	req := engine.CreateRequest{
		Filename:    filename,
		SizeBytes:   createSize,
		ImageOffset: createImageOffset,
		Flags:       flags,
		DriveLetter: createDriveLetter,
	}
	if createProxyAddr != "" {
		req.ProxyAddress = createProxyAddr
		req.ConnectString = filename
	}

	reg := engine.NewRegistry()
	dev, err := engine.Create(context.Background(), reg, req)
	if err != nil {
		kind := kindOf(err)
		if output.IsJSON() {
			output.PrintError(cmd.ErrOrStderr(), kind, err.Error())
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
		os.Exit(output.ExitCodeForKind(kind))
		return nil
	}
	dev.Stop()
	dev.Backend.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Devices = append(cfg.Devices, config.DeviceConfig{
		Filename:     filename,
		SizeBytes:    createSize,
		ImageOffset:  createImageOffset,
		Flags:        uint32(flags),
		DriveLetter:  createDriveLetter,
		ProxyAddress: createProxyAddr,
	})
	if err := config.Save(cfg); err != nil {
		return err
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), map[string]any{"created": filename})
	}
	if !output.IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", filename)
	}
	return nil
}

func kindOf(err error) engine.Kind {
	var e *engine.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return engine.KindIoDeviceError
}
