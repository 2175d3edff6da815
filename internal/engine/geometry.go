package engine

import "encoding/binary"

// Geometry describes a virtual disk's C/H/S shape (spec.md §3, §4.3).
//
// The factory takes the requested total size from CreateRequest.SizeBytes
// (or the backend's own size) and derives Cylinders from it once
// BytesPerSector/Sectors/Tracks are known (spec.md §4.4 step 11, §3
// "Invariants").
type Geometry struct {
	Cylinders      uint64
	TracksPerCyl   uint32
	SectorsPerTrk  uint32
	BytesPerSector uint32
	Class          Flags // one of DeviceClass* (0 = unspecified, filled by inference)
}

// TotalBytes is cylinders × tracks × sectors × bytes-per-sector, the
// invariant total size once geometry is finalised (spec.md §3).
func (g Geometry) TotalBytes() uint64 {
	return g.Cylinders * uint64(g.TracksPerCyl) * uint64(g.SectorsPerTrk) * uint64(g.BytesPerSector)
}

// commonFloppySize pairs a well-known floppy image size with its canonical
// geometry (spec.md §4.3 "small table of common floppy media sizes").
type commonFloppySize struct {
	totalBytes uint64
	geometry   Geometry
}

var commonFloppySizes = []commonFloppySize{
	{1474560, Geometry{Cylinders: 80, TracksPerCyl: 2, SectorsPerTrk: 18, BytesPerSector: 512, Class: DeviceClassFloppy}},
	{1228800, Geometry{Cylinders: 80, TracksPerCyl: 2, SectorsPerTrk: 15, BytesPerSector: 512, Class: DeviceClassFloppy}},
	{737280, Geometry{Cylinders: 80, TracksPerCyl: 2, SectorsPerTrk: 9, BytesPerSector: 512, Class: DeviceClassFloppy}},
	{368640, Geometry{Cylinders: 40, TracksPerCyl: 2, SectorsPerTrk: 9, BytesPerSector: 512, Class: DeviceClassFloppy}},
	{163840, Geometry{Cylinders: 40, TracksPerCyl: 1, SectorsPerTrk: 8, BytesPerSector: 512, Class: DeviceClassFloppy}},
}

// bpbFields is what's actually read out of the 512-byte boot sector; the
// rest of the BPB (OEM name, volume label, etc.) is filesystem-specific
// and out of scope (spec.md §1 "Non-goals").
type bpbFields struct {
	bytesPerSector uint16
	sectorsPerTrk  uint16
	heads          uint16
	valid          bool
}

// parseBPB sanity-checks sector[0..512) as a FAT BIOS Parameter Block
// (spec.md §4.3). bytesPerSector must be a nonzero power of two,
// sectorsPerTrk < 64, heads < 256; anything else is not a BPB.
func parseBPB(sector []byte) bpbFields {
	if len(sector) < 24 {
		return bpbFields{}
	}
	bytesPerSector := binary.LittleEndian.Uint16(sector[11:13])
	sectorsPerTrk := binary.LittleEndian.Uint16(sector[24:26])
	heads := binary.LittleEndian.Uint16(sector[26:28])

	if bytesPerSector == 0 || bytesPerSector&(bytesPerSector-1) != 0 {
		return bpbFields{}
	}
	if sectorsPerTrk >= 64 {
		return bpbFields{}
	}
	if heads >= 256 {
		return bpbFields{}
	}
	return bpbFields{
		bytesPerSector: bytesPerSector,
		sectorsPerTrk:  sectorsPerTrk,
		heads:          heads,
		valid:          true,
	}
}

// inferGeometry fills zero members of g from the boot sector, the
// common-floppy-size table, and the class-specific defaults, per
// spec.md §4.3. filename is used only for the extension-based class
// fallback (.iso/.nrg/.bin ⇒ CD + read-only).
func inferGeometry(g Geometry, bootSector []byte, totalSize uint64, filename string, flags Flags) (Geometry, Flags) {
	if bootSector != nil {
		if bpb := parseBPB(bootSector); bpb.valid {
			if g.BytesPerSector == 0 {
				g.BytesPerSector = uint32(bpb.bytesPerSector)
			}
			if g.SectorsPerTrk == 0 {
				g.SectorsPerTrk = uint32(bpb.sectorsPerTrk)
			}
			if g.TracksPerCyl == 0 {
				g.TracksPerCyl = uint32(bpb.heads)
			}
		}
	}

	if g.Class == 0 {
		for _, fs := range commonFloppySizes {
			if fs.totalBytes == totalSize {
				g.Class = DeviceClassFloppy
				if g.Cylinders == 0 {
					g.Cylinders = fs.geometry.Cylinders
				}
				if g.BytesPerSector == 0 {
					g.BytesPerSector = fs.geometry.BytesPerSector
				}
				if g.SectorsPerTrk == 0 {
					g.SectorsPerTrk = fs.geometry.SectorsPerTrk
				}
				if g.TracksPerCyl == 0 {
					g.TracksPerCyl = fs.geometry.TracksPerCyl
				}
				break
			}
		}
	}

	if g.Class == 0 {
		switch classifyExtension(filename) {
		case DeviceClassCD:
			g.Class = DeviceClassCD
			flags |= FlagReadOnly
		default:
			g.Class = DeviceClassHDD
		}
	}

	if g.Class == DeviceClassCD {
		if g.BytesPerSector == 0 {
			g.BytesPerSector = 2048
		}
		if g.SectorsPerTrk == 0 {
			g.SectorsPerTrk = 32
		}
		if g.TracksPerCyl == 0 {
			g.TracksPerCyl = 64
		}
		flags |= FlagRemovable
	} else {
		if g.BytesPerSector == 0 {
			g.BytesPerSector = 512
		}
		if g.SectorsPerTrk == 0 {
			g.SectorsPerTrk = 63
		}
		if g.TracksPerCyl == 0 {
			g.TracksPerCyl = hddTracksPerCylinder(totalSize, g.SectorsPerTrk, g.BytesPerSector)
		}
	}

	return g, flags
}

// hddTracksPerCylinder picks the largest power of two ≤ 128 such that the
// resulting cylinder count is ≥ 1, or 255 if cylinders would otherwise
// exceed 130560 (spec.md §4.3).
func hddTracksPerCylinder(totalSize uint64, sectorsPerTrk, bytesPerSector uint32) uint32 {
	bytesPerTrack := uint64(sectorsPerTrk) * uint64(bytesPerSector)
	if bytesPerTrack == 0 {
		return 255
	}
	for tracks := uint32(128); tracks >= 1; tracks /= 2 {
		bytesPerCyl := bytesPerTrack * uint64(tracks)
		if bytesPerCyl == 0 {
			continue
		}
		cylinders := totalSize / bytesPerCyl
		if cylinders >= 1 && cylinders <= 130560 {
			return tracks
		}
	}
	return 255
}

func classifyExtension(filename string) Flags {
	ext := extOf(filename)
	switch ext {
	case ".iso", ".nrg", ".bin":
		return DeviceClassCD
	default:
		return DeviceClassHDD
	}
}

func extOf(filename string) string {
	dot := -1
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			dot = i
			break
		}
		if filename[i] == '/' || filename[i] == '\\' {
			break
		}
	}
	if dot < 0 {
		return ""
	}
	out := make([]byte, len(filename)-dot)
	for i, c := range []byte(filename[dot:]) {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
