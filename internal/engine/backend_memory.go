package engine

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

// memoryBackend stores a device's image in an anonymous mmap region,
// optionally preloaded from an image file at open time (spec.md §4.1
// "Memory (VM)"). It is never itself persisted; Flush is a no-op.
type memoryBackend struct {
	region []byte
}

// openMemoryBackend allocates a private anonymous mapping of size bytes
// and, if preloadFrom is non-empty, copies that file's contents in.
func openMemoryBackend(size uint64, preloadFrom string) (*memoryBackend, error) {
	if size == 0 {
		return nil, newErr(KindInvalidParameter, "memory backend size", nil)
	}
	region, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, newErr(KindInsufficientResources, "mmap memory backend", err)
	}
	if err := unix.Madvise(region, unix.MADV_WILLNEED); err != nil {
		// Best-effort readahead hint; absence of kernel support is fine.
		_ = err
	}

	if preloadFrom != "" {
		f, err := os.Open(preloadFrom)
		if err != nil {
			unix.Munmap(region)
			return nil, newErr(KindNotFound, "open preload image", err)
		}
		defer f.Close()
		n, err := f.Read(region)
		if err != nil && n == 0 {
			unix.Munmap(region)
			return nil, newErr(KindIoDeviceError, "preload image", err)
		}
	}

	return &memoryBackend{region: region}, nil
}

func (b *memoryBackend) ReadAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	if ctx.Err() != nil {
		return 0, newErr(KindCancelled, "memory read", ctx.Err())
	}
	if offset >= uint64(len(b.region)) {
		return 0, nil
	}
	n := copy(p, b.region[offset:])
	return n, nil
}

func (b *memoryBackend) WriteAt(ctx context.Context, offset uint64, p []byte) (int, error) {
	if ctx.Err() != nil {
		return 0, newErr(KindCancelled, "memory write", ctx.Err())
	}
	if offset+uint64(len(p)) > uint64(len(b.region)) {
		return 0, newErr(KindInvalidParameter, "memory write out of range", nil)
	}
	n := copy(b.region[offset:], p)
	return n, nil
}

func (b *memoryBackend) Flush(ctx context.Context) error { return nil }

func (b *memoryBackend) Unmap(ctx context.Context, ranges []Range) error {
	return b.ZeroFill(ctx, ranges)
}

func (b *memoryBackend) ZeroFill(ctx context.Context, ranges []Range) error {
	for _, r := range ranges {
		if r.Offset+r.Length > uint64(len(b.region)) {
			return newErr(KindInvalidParameter, "memory zero-fill out of range", nil)
		}
		clear(b.region[r.Offset : r.Offset+r.Length])
	}
	return nil
}

func (b *memoryBackend) Size() uint64 { return uint64(len(b.region)) }

func (b *memoryBackend) RequiredAlignment() uint64 { return 1 }

func (b *memoryBackend) Close() error {
	if b.region == nil {
		return nil
	}
	err := unix.Munmap(b.region)
	b.region = nil
	if err != nil {
		return newErr(KindIoDeviceError, "munmap memory backend", err)
	}
	return nil
}
