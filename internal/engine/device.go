package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Op is the kind of operation carried by a Request (spec.md §3).
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFlush
	OpUnmap
	OpZero
	OpInfo
	OpControl
)

// Request is the upstream-delivered tuple described in spec.md §3. Complete
// is invoked exactly once, from the worker goroutine for queued-I/O devices
// or from the caller's own goroutine for parallel-I/O devices; a request
// cancelled by device teardown may also complete in Submit's caller.
type Request struct {
	Ctx      context.Context
	Op       Op
	Offset   uint64
	Length   uint64
	Buffer   []byte
	Ranges   []Range
	Complete func(n int, err error)
}

// cacheEntry is the single-entry read cache from spec.md §3/§4.5.
type cacheEntry struct {
	valid  bool
	offset uint64
	length uint64
	data   []byte
}

// Device is a registered virtual disk (spec.md §3). Exactly one of
// requestQueue (queued-I/O) or the backend's own parallel capability
// (parallel-I/O) governs how requests are dispatched — see dispatch.go.
type Device struct {
	ID          int
	Backend     Backend
	Geometry    Geometry
	ImageOffset uint64
	Flags       Flags

	dirty       atomic.Bool
	changeCount atomic.Uint32
	driveLetter atomic.Value // string, empty if unset

	cacheMu sync.Mutex
	cache   cacheEntry

	noFileLevelTrim atomic.Bool // sticky bit from spec.md §4.5 "Zero-fill and unmap"

	reservation *reservationState // non-nil only for FlagSharedImage devices

	requestQueue chan *Request // nil for parallel-I/O devices
	workerDone   chan struct{}
	terminate    chan struct{}
	closeOnce    sync.Once
}

// Dirty reports whether any write has ever completed successfully.
func (d *Device) Dirty() bool { return d.dirty.Load() }

// ChangeCount is the monotonically increasing media-change counter
// (spec.md §3, §7 "Observed behaviour").
func (d *Device) ChangeCount() uint32 { return d.changeCount.Load() }

func (d *Device) bumpChangeCount() { d.changeCount.Add(1) }

// DriveLetter returns the optional drive-letter hint, or "" if unset.
func (d *Device) DriveLetter() string {
	if v, _ := d.driveLetter.Load().(string); v != "" {
		return v
	}
	return ""
}

// SetDriveLetter updates the drive-letter hint and bumps the change counter.
func (d *Device) SetDriveLetter(letter string) {
	d.driveLetter.Store(letter)
	d.bumpChangeCount()
}

// IsParallel reports whether this device completes requests in the
// caller's own goroutine rather than through a worker (spec.md §4.5).
func (d *Device) IsParallel() bool { return d.requestQueue == nil }
