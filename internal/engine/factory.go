package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/vdisk/internal/proxy"
)

// minDeviceSize is the size floor for a new device: Create rejects any
// device whose total size is not above it with KindInvalidParameter
// (spec.md §4.4 step 9).
const minDeviceSize = 65536

// CreateRequest describes a device to create (spec.md §4.4, §6
// "Configuration"). The backend is chosen from the populated fields:
// ProxyAddress selects the proxy backend; otherwise a non-empty
// AllocName selects the alloc-driver backend and Filename a file
// backend; with none of them, a non-zero SizeBytes selects memory.
type CreateRequest struct {
	Filename    string
	AllocName   string // non-empty selects the alloc-driver subtype
	PreloadFrom string // memory backend: optional seed image

	ProxyAddress   string
	ProxyTransport proxy.Transport
	ConnectString  string

	SizeBytes   uint64
	ImageOffset uint64
	Flags       Flags
	DriveLetter string

	// Principal, if non-nil, is the uid/gid the backend should be opened
	// as (spec.md §4.4 step 5 "principal impersonation"). Nil means "run
	// as the calling process's own credentials".
	Principal *Principal
}

// Principal is the uid/gid pair a backend open is impersonated as.
type Principal struct {
	UID uint32
	GID uint32
}

// Create runs the device-creation sequence described in spec.md §4.4 and
// registers the resulting Device in reg. On any failure, resources
// acquired by earlier steps are released in reverse order.
func Create(ctx context.Context, reg *Registry, req CreateRequest) (*Device, error) {
	// Step 1: backend-type resolution.
	backendType, err := resolveBackendType(req)
	if err != nil {
		return nil, err
	}

	// Step 2: validation.
	if err := validateCreateRequest(req, backendType); err != nil {
		return nil, err
	}

	// Step 3: device-number allocation happens at registration (step 12);
	// nothing is reserved up front, and Create enforces no maximum device
	// count.

	// Step 4: path resolution.
	path := req.Filename
	if backendType == BackendTypeFile && req.AllocName != "" {
		path = allocDriverDir + "/" + req.AllocName
	}

	// Step 5: principal impersonation.
	var restoreIDs func()
	if req.Principal != nil {
		restoreIDs, err = impersonate(*req.Principal)
		if err != nil {
			return nil, newErr(KindAccessDenied, "impersonate principal", err)
		}
	}
	release := []func(){}
	if restoreIDs != nil {
		release = append(release, restoreIDs)
	}
	fail := func(kind Kind, op string, cause error) (*Device, error) {
		for i := len(release) - 1; i >= 0; i-- {
			release[i]()
		}
		return nil, newErr(kind, op, cause)
	}

	// Step 6: backend open + handshake.
	var backend Backend
	var bootSector []byte
	switch backendType {
	case BackendTypeFile:
		if req.AllocName != "" {
			b, err := openAllocBackend(req.AllocName, req.Flags, req.SizeBytes)
			if err != nil {
				return fail(KindIoDeviceError, "open alloc backend", err)
			}
			backend = b
		} else {
			b, err := openFileBackend(path, req.Flags, req.SizeBytes)
			if err != nil {
				return fail(KindIoDeviceError, "open file backend", err)
			}
			backend = b
			bootSector = readBootSectorBestEffort(b)
		}
	case BackendTypeVM:
		b, err := openMemoryBackend(sizeOrDefault(req.SizeBytes), req.PreloadFrom)
		if err != nil {
			return fail(KindIoDeviceError, "open memory backend", err)
		}
		backend = b
	case BackendTypeProxy:
		b, err := openProxyBackend(ctx, req.ProxyAddress, req.ProxyTransport, req.ConnectString)
		if err != nil {
			return fail(KindConnectionRefused, "open proxy backend", err)
		}
		backend = b
	default:
		return fail(KindInvalidParameter, "resolve backend type", nil)
	}
	release = append(release, func() { backend.Close() })

	// Step 7: size discovery.
	totalSize := backend.Size()
	if totalSize == 0 {
		totalSize = req.SizeBytes
	}

	// Step 8: BPB inference (bootSector is nil for non-file backends and
	// for images too small to hold one; inferGeometry handles that).
	geometry := Geometry{Class: req.Flags.DeviceClass()}
	flags := req.Flags

	// Step 9: size floor.
	if totalSize <= minDeviceSize {
		return fail(KindInvalidParameter, "device size must exceed 65536 bytes", nil)
	}

	// Step 10: geometry defaults.
	geometry, flags = inferGeometry(geometry, bootSector, totalSize, req.Filename, flags)
	geometry.Cylinders = totalSize / (uint64(geometry.TracksPerCyl) * uint64(geometry.SectorsPerTrk) * uint64(geometry.BytesPerSector))
	if geometry.Cylinders == 0 {
		geometry.Cylinders = 1
	}

	// Step 11 (+12): device construction, registration, worker-spawn.
	dev := &Device{
		Backend:     backend,
		Geometry:    geometry,
		ImageOffset: req.ImageOffset,
		Flags:       flags,
	}
	if req.DriveLetter != "" {
		dev.SetDriveLetter(req.DriveLetter)
	}
	if flags.SharedImage() {
		dev.reservation = newReservationState(uuid.New())
	}
	if !flags.IsParallelFileMode() {
		if p, ok := backend.(Parallel); !ok || !p.IsParallel() {
			dev.startWorker()
		}
	}

	reg.Insert(dev)
	return dev, nil
}

func resolveBackendType(req CreateRequest) (Flags, error) {
	switch {
	case req.ProxyAddress != "":
		return BackendTypeProxy, nil
	case req.Filename != "" || req.AllocName != "":
		return BackendTypeFile, nil
	case req.SizeBytes > 0:
		return BackendTypeVM, nil
	default:
		return 0, newErr(KindInvalidParameter, "resolve backend type", nil)
	}
}

func validateCreateRequest(req CreateRequest, backendType Flags) error {
	if backendType == BackendTypeVM && req.SizeBytes == 0 {
		return newErr(KindInvalidParameter, "memory backend requires size_bytes", nil)
	}
	if backendType == BackendTypeProxy && req.ConnectString == "" {
		return newErr(KindInvalidParameter, "proxy backend requires a connect string", nil)
	}
	if req.Flags.ByteSwap() && (backendType != BackendTypeFile || req.Flags.Subtype() != FileBuffered) {
		return newErr(KindInvalidParameter, "byte-swap is only valid in buffered file mode", nil)
	}
	return nil
}

func sizeOrDefault(size uint64) uint64 {
	if size == 0 {
		return minDeviceSize
	}
	return size
}

// readBootSectorBestEffort reads the first 512 bytes for BPB inference;
// a read failure just means geometry inference falls back to defaults.
func readBootSectorBestEffort(b *fileBackend) []byte {
	buf := make([]byte, 512)
	n, err := b.f.ReadAt(buf, 0)
	if err != nil || n < 512 {
		return nil
	}
	return buf
}

// impersonate switches the calling OS thread's effective uid/gid to p
// for the duration of a backend open, returning a restore function
// (spec.md §4.4 step 5). Like the teacher's own privilege-drop helpers,
// this must run with the goroutine locked to its OS thread.
func impersonate(p Principal) (func(), error) {
	origUID := unix.Getuid()
	origGID := unix.Getgid()
	if err := unix.Setregid(-1, int(p.GID)); err != nil {
		return nil, fmt.Errorf("setting gid: %w", err)
	}
	if err := unix.Setreuid(-1, int(p.UID)); err != nil {
		unix.Setregid(-1, origGID)
		return nil, fmt.Errorf("setting uid: %w", err)
	}
	return func() {
		unix.Setreuid(-1, origUID)
		unix.Setregid(-1, origGID)
	}, nil
}
