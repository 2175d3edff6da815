package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dsmmcken/vdisk/internal/proxy"
)

// memDeviceOps is a minimal in-memory proxy.DeviceOps used to exercise
// openProxyBackend end to end without a real remote disk.
type memDeviceOps struct {
	mu   sync.Mutex
	data []byte
}

func (m *memDeviceOps) Size() uint64             { return uint64(len(m.data)) }
func (m *memDeviceOps) RequiredAlignment() uint64 { return 512 }

func (m *memDeviceOps) ReadAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(p, m.data[offset:]), nil
}

func (m *memDeviceOps) WriteAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(m.data[offset:], p), nil
}

func (m *memDeviceOps) Unmap(ctx context.Context, offset, length uint64) error {
	return m.ZeroFill(ctx, offset, length)
}

func (m *memDeviceOps) ZeroFill(ctx context.Context, offset, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := offset; i < offset+length; i++ {
		m.data[i] = 0
	}
	return nil
}

// scsiDeviceOps augments memDeviceOps with a SCSI pass-through that
// echoes the request data back, letting the test assert that
// proxyBackend.SCSI round-trips through the wire protocol unchanged.
type scsiDeviceOps struct {
	*memDeviceOps
}

func (m scsiDeviceOps) SCSI(ctx context.Context, cdb [16]byte, reqData []byte, maxRespLength uint64) ([]byte, error) {
	return reqData, nil
}

func TestProxyBackendSCSIRoundTrip(t *testing.T) {
	dev := scsiDeviceOps{memDeviceOps: &memDeviceOps{data: make([]byte, 4096)}}
	srv, err := proxy.Listen("127.0.0.1:0", func(connectString string) (proxy.DeviceOps, bool) {
		if connectString != "remote-disk" {
			return nil, false
		}
		return dev, true
	})
	if err != nil {
		t.Fatalf("proxy.Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	defer func() { cancel(); srv.Close() }()

	b, err := openProxyBackend(context.Background(), srv.Addr(), proxy.TransportByteStream, "remote-disk")
	if err != nil {
		t.Fatalf("openProxyBackend: %v", err)
	}
	defer b.Close()

	reqData := []byte("inquiry cdb data")
	resp, err := b.SCSI(context.Background(), [16]byte{0x12}, reqData, uint64(len(reqData)))
	if err != nil {
		t.Fatalf("SCSI: %v", err)
	}
	if string(resp) != string(reqData) {
		t.Errorf("SCSI response = %q, want %q", resp, reqData)
	}
}

func TestProxyBackendReadWriteRoundTrip(t *testing.T) {
	dev := &memDeviceOps{data: make([]byte, 4096)}
	srv, err := proxy.Listen("127.0.0.1:0", func(connectString string) (proxy.DeviceOps, bool) {
		if connectString != "remote-disk" {
			return nil, false
		}
		return dev, true
	})
	if err != nil {
		t.Fatalf("proxy.Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	defer func() { cancel(); srv.Close() }()

	b, err := openProxyBackend(context.Background(), srv.Addr(), proxy.TransportByteStream, "remote-disk")
	if err != nil {
		t.Fatalf("openProxyBackend: %v", err)
	}
	defer b.Close()

	if b.Size() != 4096 {
		t.Errorf("Size() = %d, want 4096", b.Size())
	}

	want := []byte("proxied payload")
	if _, err := b.WriteAt(context.Background(), 10, want); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, len(want))
	if _, err := b.ReadAt(context.Background(), 10, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestProxyBackendDialRefusedForUnknownHandle(t *testing.T) {
	dev := &memDeviceOps{data: make([]byte, 1024)}
	srv, err := proxy.Listen("127.0.0.1:0", func(connectString string) (proxy.DeviceOps, bool) {
		if connectString != "remote-disk" {
			return nil, false
		}
		return dev, true
	})
	if err != nil {
		t.Fatalf("proxy.Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	defer func() { cancel(); srv.Close() }()

	_, err = openProxyBackend(context.Background(), srv.Addr(), proxy.TransportByteStream, "no-such-disk")
	if err == nil {
		t.Fatal("expected an error dialing an unknown connect string")
	}
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("got %v, want KindConnectionRefused", err)
	}
}
