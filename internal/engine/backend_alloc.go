package engine

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

// allocDriverDir is where named alloc-driver handles are rooted
// (spec.md §4.1 "Alloc-driver": "a named handle under the driver's own
// device path").
const allocDriverDir = "/dev/vdisk-alloc"

// allocBackend is a named handle opened directly against the driver's
// device path rather than an arbitrary filesystem path. Unlike
// fileBackend it uses raw pread/pwrite and reports itself parallel-capable:
// every request can run concurrently from the caller's own goroutine
// without a dedicated worker (spec.md §4.1, §4.5 "Parallel-I/O path").
type allocBackend struct {
	fd   int
	size uint64
	ro   bool
}

// openAllocBackend opens (creating if necessary) the named handle for
// name under allocDriverDir.
func openAllocBackend(name string, flags Flags, size uint64) (*allocBackend, error) {
	ro := flags.ReadOnly()
	if err := os.MkdirAll(allocDriverDir, 0o755); err != nil {
		return nil, newErr(KindInsufficientResources, "create alloc-driver dir", err)
	}
	path := allocDriverDir + "/" + name

	flagsOS := os.O_RDWR
	if ro {
		flagsOS = os.O_RDONLY
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, newErr(KindIoDeviceError, "stat alloc-driver handle", err)
		}
		if ro {
			return nil, newErr(KindNotFound, "alloc-driver handle", err)
		}
		flagsOS |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flagsOS, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return nil, newErr(KindAccessDenied, "open alloc-driver handle", err)
		}
		return nil, newErr(KindIoDeviceError, "open alloc-driver handle", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr(KindIoDeviceError, "stat alloc-driver handle", err)
	}
	actualSize := uint64(st.Size())
	if actualSize == 0 && size > 0 && !ro {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, newErr(KindInsufficientResources, "truncate alloc-driver handle", err)
		}
		actualSize = size
	}

	fd := int(f.Fd())
	// Detach the *os.File without closing fd: this backend manages the fd
	// directly via unix.Pread/Pwrite so it can be shared across goroutines
	// without the runtime's per-os.File I/O serialization getting in the way.
	dupFd, err := unix.Dup(fd)
	f.Close()
	if err != nil {
		return nil, newErr(KindIoDeviceError, "dup alloc-driver handle", err)
	}

	return &allocBackend{fd: dupFd, size: actualSize, ro: ro}, nil
}

func (b *allocBackend) ReadAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	if ctx.Err() != nil {
		return 0, newErr(KindCancelled, "alloc-driver read", ctx.Err())
	}
	n, err := unix.Pread(b.fd, p, int64(offset))
	if err != nil {
		return n, newErr(KindIoDeviceError, "alloc-driver read", err)
	}
	return n, nil
}

func (b *allocBackend) WriteAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	if b.ro {
		return 0, newErr(KindAccessDenied, "alloc-driver write", nil)
	}
	if ctx.Err() != nil {
		return 0, newErr(KindCancelled, "alloc-driver write", ctx.Err())
	}
	n, err := unix.Pwrite(b.fd, p, int64(offset))
	if err != nil {
		return n, newErr(KindIoDeviceError, "alloc-driver write", err)
	}
	return n, nil
}

func (b *allocBackend) Flush(ctx context.Context) error {
	if b.ro {
		return nil
	}
	if err := unix.Fsync(b.fd); err != nil {
		return newErr(KindIoDeviceError, "alloc-driver flush", err)
	}
	return nil
}

func (b *allocBackend) Unmap(ctx context.Context, ranges []Range) error {
	if b.ro {
		return newErr(KindAccessDenied, "alloc-driver unmap", nil)
	}
	for _, r := range ranges {
		if err := unix.Fallocate(b.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(r.Offset), int64(r.Length)); err != nil {
			return errUnsupported
		}
	}
	return nil
}

func (b *allocBackend) ZeroFill(ctx context.Context, ranges []Range) error {
	if b.ro {
		return newErr(KindAccessDenied, "alloc-driver zero-fill", nil)
	}
	for _, r := range ranges {
		if err := unix.Fallocate(b.fd, unix.FALLOC_FL_ZERO_RANGE, int64(r.Offset), int64(r.Length)); err != nil {
			return errUnsupported
		}
	}
	return nil
}

func (b *allocBackend) Size() uint64 { return b.size }

func (b *allocBackend) RequiredAlignment() uint64 { return 1 }

// IsParallel reports true: alloc-driver handles support concurrent
// pread/pwrite from any goroutine (spec.md §4.1, §4.5).
func (b *allocBackend) IsParallel() bool { return true }

func (b *allocBackend) Close() error {
	if err := unix.Close(b.fd); err != nil {
		return newErr(KindIoDeviceError, "close alloc-driver handle", err)
	}
	return nil
}
