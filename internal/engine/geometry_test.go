package engine

import "testing"

func TestParseBPB(t *testing.T) {
	tests := []struct {
		name    string
		sector  []byte
		wantOK  bool
		wantBPS uint16
	}{
		{"too short", make([]byte, 10), false, 0},
		{"zero bytes-per-sector", make([]byte, 512), false, 0},
		{"non-power-of-two", fakeBootSector(500, 18, 2), false, 0},
		{"sectors-per-track too large", fakeBootSector(512, 64, 2), false, 0},
		{"heads too large", fakeBootSector(512, 18, 256), false, 0},
		{"valid 1.44MB floppy BPB", fakeBootSector(512, 18, 2), true, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBPB(tt.sector)
			if got.valid != tt.wantOK {
				t.Fatalf("valid = %v, want %v", got.valid, tt.wantOK)
			}
			if tt.wantOK && got.bytesPerSector != tt.wantBPS {
				t.Errorf("bytesPerSector = %d, want %d", got.bytesPerSector, tt.wantBPS)
			}
		})
	}
}

func fakeBootSector(bytesPerSector, sectorsPerTrk, heads uint16) []byte {
	sector := make([]byte, 512)
	putUint16(sector[11:13], bytesPerSector)
	putUint16(sector[24:26], sectorsPerTrk)
	putUint16(sector[26:28], heads)
	return sector
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func TestInferGeometryCommonFloppySize(t *testing.T) {
	g, flags := inferGeometry(Geometry{}, nil, 1474560, "floppy.img", 0)
	if g.Class != DeviceClassFloppy {
		t.Fatalf("class = %v, want floppy", g.Class)
	}
	if g.TotalBytes() != 1474560 {
		t.Errorf("total bytes = %d, want 1474560", g.TotalBytes())
	}
	if flags.ReadOnly() {
		t.Errorf("floppy should not be forced read-only")
	}
}

func TestInferGeometryISOExtension(t *testing.T) {
	g, flags := inferGeometry(Geometry{}, nil, 700*1024*1024, "disk.iso", 0)
	if g.Class != DeviceClassCD {
		t.Fatalf("class = %v, want CD", g.Class)
	}
	if !flags.ReadOnly() {
		t.Errorf("ISO image should be forced read-only")
	}
	if !flags.Removable() {
		t.Errorf("CD class should be marked removable")
	}
}

func TestInferGeometryHDDDefault(t *testing.T) {
	g, flags := inferGeometry(Geometry{}, nil, 100*1024*1024, "disk.img", 0)
	if g.Class != DeviceClassHDD {
		t.Fatalf("class = %v, want HDD", g.Class)
	}
	if flags.ReadOnly() {
		t.Errorf("plain .img should not be read-only")
	}
	if g.BytesPerSector != 512 || g.SectorsPerTrk != 63 {
		t.Errorf("unexpected HDD defaults: %+v", g)
	}
}

func TestExtOf(t *testing.T) {
	tests := map[string]string{
		"disk.ISO":       ".iso",
		"disk.img":       ".img",
		"/a/b/disk.iso":  ".iso",
		"noext":          "",
		"a.b/noext":      "",
		"trailing.dot.":  ".",
	}
	for in, want := range tests {
		if got := extOf(in); got != want {
			t.Errorf("extOf(%q) = %q, want %q", in, got, want)
		}
	}
}
