package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dsmmcken/vdisk/internal/config"
	"github.com/dsmmcken/vdisk/internal/engine"
	"github.com/dsmmcken/vdisk/internal/proxy"
)

var serveListenAddr string

func addServeCommand(parent *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Instantiate configured devices and serve them over the proxy protocol",
		Long: `Load config.toml, create every configured device, and keep them
registered and alive until interrupted. Devices become reachable by
remote proxy clients that CONNECT using the device's filename.`,
		RunE: runServe,
	}
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "127.0.0.1:17823", "Byte-stream proxy listen address")
	parent.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := engine.NewRegistry()
	devicesByName := make(map[string]*deviceAdapter)

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
		dev, err := engine.Create(ctx, reg, req)
		if err != nil {
			log.WithError(err).WithField("device", dc.Filename).Error("failed to create device")
			continue
		}
		log.WithFields(logrus.Fields{"id": dev.ID, "device": dc.Filename}).Info("device registered")
		devicesByName[dc.Filename] = &deviceAdapter{dev: dev}
	}

	srv, err := proxy.Listen(serveListenAddr, func(name string) (proxy.DeviceOps, bool) {
		d, ok := devicesByName[name]
		return d, ok
	})
	if err != nil {
		return fmt.Errorf("starting proxy listener: %w", err)
	}
	defer srv.Close()
	log.WithField("addr", srv.Addr()).Info("serving")

	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.WithError(err).Error("proxy server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	for _, dev := range reg.List() {
		dev.Stop()
		dev.Backend.Close()
	}
	return nil
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// deviceAdapter satisfies proxy.DeviceOps by running every request
// through the device's own dispatch path (queue or parallel), so a
// remote proxy client sees exactly the same cache/byte-swap/ordering
// behaviour a local caller would (spec.md §4.5).
type deviceAdapter struct {
	dev *engine.Device
}

func (a *deviceAdapter) Size() uint64              { return a.dev.Backend.Size() }
func (a *deviceAdapter) RequiredAlignment() uint64  { return a.dev.Backend.RequiredAlignment() }

func (a *deviceAdapter) ReadAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	return a.run(ctx, engine.OpRead, offset, uint64(len(p)), p, nil)
}

func (a *deviceAdapter) WriteAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	return a.run(ctx, engine.OpWrite, offset, uint64(len(p)), p, nil)
}

func (a *deviceAdapter) Unmap(ctx context.Context, offset, length uint64) error {
	_, err := a.run(ctx, engine.OpUnmap, offset, length, nil, []engine.Range{{Offset: offset, Length: length}})
	return err
}

func (a *deviceAdapter) ZeroFill(ctx context.Context, offset, length uint64) error {
	_, err := a.run(ctx, engine.OpZero, offset, length, nil, []engine.Range{{Offset: offset, Length: length}})
	return err
}

// SCSI and Shared bypass the queued/parallel data-path dispatch used by
// run(): both are control-plane pass-throughs (an opaque CDB, or
// reservation-table bookkeeping) rather than reads or writes against the
// backend's byte range, so there's no cache or byte-swap behaviour for
// them to inherit (spec.md §4.2, §6 "SCSI", "SHARED").
func (a *deviceAdapter) SCSI(ctx context.Context, cdb [16]byte, reqData []byte, maxRespLength uint64) ([]byte, error) {
	return a.dev.SCSI(ctx, cdb, reqData, maxRespLength)
}

func (a *deviceAdapter) Shared(ctx context.Context, req proxy.SharedRequest) (proxy.SharedResponse, error) {
	return a.dev.Shared(ctx, req)
}

func (a *deviceAdapter) run(ctx context.Context, op engine.Op, offset, length uint64, buf []byte, ranges []engine.Range) (int, error) {
	done := make(chan struct{})
	var n int
	var err error
	req := &engine.Request{
		Ctx:    ctx,
		Op:     op,
		Offset: offset,
		Length: length,
		Buffer: buf,
		Ranges: ranges,
		Complete: func(completedN int, completedErr error) {
			n, err = completedN, completedErr
			close(done)
		},
	}
	a.dev.Submit(req)
	<-done
	return n, err
}
