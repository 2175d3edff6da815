package engine

import "context"

// Range is a byte extent used by Unmap and ZeroFill (spec.md §4.1).
type Range struct {
	Offset uint64
	Length uint64
}

// Backend is the capability set every storage provider implements
// (spec.md §4.1). Read may short-read only at end-of-backend; Write must
// be full-write-or-fail. Unmap and ZeroFill are optional: a backend that
// doesn't support them returns errUnsupported and the dispatch engine
// emulates (spec.md §4.5 "Zero-fill and unmap").
type Backend interface {
	ReadAt(ctx context.Context, offset uint64, p []byte) (int, error)
	WriteAt(ctx context.Context, offset uint64, p []byte) (int, error)
	Flush(ctx context.Context) error
	Unmap(ctx context.Context, ranges []Range) error
	ZeroFill(ctx context.Context, ranges []Range) error
	Size() uint64
	RequiredAlignment() uint64
	Close() error
}

// Parallel is implemented by backends capable of running concurrent
// requests from arbitrary goroutines without a dedicated worker
// (spec.md §4.1 "Alloc-driver", §4.5 "Parallel-I/O path").
type Parallel interface {
	Backend
	IsParallel() bool
}

// ScsiPassthrough is implemented by a Backend that can forward an opaque
// SCSI command descriptor block to whatever actually understands it
// (spec.md §4.2, §6 "SCSI"). Only the proxy backend implements it today,
// forwarding to the remote endpoint; local backends have no SCSI target
// behind them.
type ScsiPassthrough interface {
	Backend
	SCSI(ctx context.Context, cdb [16]byte, reqData []byte, maxRespLength uint64) ([]byte, error)
}

// errUnsupported is returned by a backend's Unmap/ZeroFill when it has no
// native support for the operation; the dispatch engine falls back to
// emulation rather than surfacing it to the caller (spec.md §4.5).
var errUnsupported = newErr(KindInvalidParameter, "backend capability", nil)

// IsUnsupported reports whether err is the backend's "no native support"
// sentinel for an optional capability.
func IsUnsupported(err error) bool {
	return err == errUnsupported
}
