package engine

// Flags is the little-endian flag word described in spec.md §6. It is
// shared verbatim between the creation request, the device's persisted
// state, and the configuration file.
type Flags uint32

const (
	FlagReadOnly  Flags = 0x0001
	FlagRemovable Flags = 0x0002
	FlagSparse    Flags = 0x0004
	FlagByteSwap  Flags = 0x0008

	deviceClassMask  Flags = 0x00F0
	DeviceClassHDD   Flags = 0x0010
	DeviceClassFloppy Flags = 0x0020
	DeviceClassCD    Flags = 0x0030
	DeviceClassRaw   Flags = 0x0040

	backendTypeMask  Flags = 0x0F00
	BackendTypeFile  Flags = 0x0100
	BackendTypeVM    Flags = 0x0200
	BackendTypeProxy Flags = 0x0300

	subtypeMask Flags = 0xF000

	// Proxy subtypes.
	ProxyDirect      Flags = 0x0000
	ProxySerial      Flags = 0x1000
	ProxyTCP         Flags = 0x2000
	ProxySharedMem   Flags = 0x3000

	// File subtypes.
	FileQueued      Flags = 0x0000
	FileAllocDriver Flags = 0x1000
	FileParallel    Flags = 0x2000
	FileBuffered    Flags = 0x3000

	FlagImageModified Flags = 0x00010000
	FlagSharedImage   Flags = 0x00040000
)

// DeviceClass extracts the device-class nibble.
func (f Flags) DeviceClass() Flags { return f & deviceClassMask }

// WithDeviceClass returns f with its device-class nibble replaced.
func (f Flags) WithDeviceClass(class Flags) Flags {
	return (f &^ deviceClassMask) | (class & deviceClassMask)
}

// BackendType extracts the backend-type nibble.
func (f Flags) BackendType() Flags { return f & backendTypeMask }

// WithBackendType returns f with its backend-type nibble replaced.
func (f Flags) WithBackendType(bt Flags) Flags {
	return (f &^ backendTypeMask) | (bt & backendTypeMask)
}

// Subtype extracts the subtype nibble (file-mode or proxy-transport selector).
func (f Flags) Subtype() Flags { return f & subtypeMask }

// WithSubtype returns f with its subtype nibble replaced.
func (f Flags) WithSubtype(st Flags) Flags {
	return (f &^ subtypeMask) | (st & subtypeMask)
}

func (f Flags) ReadOnly() bool  { return f&FlagReadOnly != 0 }
func (f Flags) Removable() bool { return f&FlagRemovable != 0 }
func (f Flags) Sparse() bool    { return f&FlagSparse != 0 }
func (f Flags) ByteSwap() bool  { return f&FlagByteSwap != 0 }
func (f Flags) SharedImage() bool { return f&FlagSharedImage != 0 }
func (f Flags) ImageModified() bool { return f&FlagImageModified != 0 }

// IsParallelFileMode reports whether the file subtype completes requests
// in the caller's thread rather than through a per-device worker
// (spec.md §4.4 step 3, §4.5 "Parallel-I/O path").
func (f Flags) IsParallelFileMode() bool {
	if f.BackendType() != BackendTypeFile {
		return false
	}
	st := f.Subtype()
	return st == FileAllocDriver || st == FileParallel
}
