package engine

import "testing"

func TestFlagsAccessors(t *testing.T) {
	f := FlagReadOnly | FlagRemovable | DeviceClassCD | BackendTypeProxy | ProxyTCP

	if !f.ReadOnly() || !f.Removable() {
		t.Fatalf("expected read-only and removable set: %v", f)
	}
	if f.Sparse() || f.ByteSwap() {
		t.Fatalf("unexpected sparse/byte-swap set: %v", f)
	}
	if f.DeviceClass() != DeviceClassCD {
		t.Errorf("DeviceClass() = %v, want %v", f.DeviceClass(), DeviceClassCD)
	}
	if f.BackendType() != BackendTypeProxy {
		t.Errorf("BackendType() = %v, want %v", f.BackendType(), BackendTypeProxy)
	}
	if f.Subtype() != ProxyTCP {
		t.Errorf("Subtype() = %v, want %v", f.Subtype(), ProxyTCP)
	}
}

func TestFlagsWithMutators(t *testing.T) {
	f := Flags(0).WithDeviceClass(DeviceClassHDD).WithBackendType(BackendTypeFile).WithSubtype(FileParallel)
	if f.DeviceClass() != DeviceClassHDD {
		t.Errorf("DeviceClass() = %v, want HDD", f.DeviceClass())
	}
	if f.BackendType() != BackendTypeFile {
		t.Errorf("BackendType() = %v, want File", f.BackendType())
	}
	if f.Subtype() != FileParallel {
		t.Errorf("Subtype() = %v, want FileParallel", f.Subtype())
	}
	if !f.IsParallelFileMode() {
		t.Errorf("expected parallel file mode")
	}
}

func TestIsParallelFileMode(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  bool
	}{
		{"file queued", BackendTypeFile | FileQueued, false},
		{"file alloc-driver", BackendTypeFile | FileAllocDriver, true},
		{"file parallel", BackendTypeFile | FileParallel, true},
		{"file buffered", BackendTypeFile | FileBuffered, false},
		{"memory backend", BackendTypeVM, false},
		{"proxy backend", BackendTypeProxy | ProxyTCP, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.flags.IsParallelFileMode(); got != tt.want {
				t.Errorf("IsParallelFileMode() = %v, want %v", got, tt.want)
			}
		})
	}
}
