package config

import (
	"path/filepath"
	"testing"
)

func withTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	SetConfigDir(dir)
	t.Cleanup(func() { SetConfigDir("") })
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	withTempHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxDevices != DefaultMaxDevices {
		t.Errorf("MaxDevices = %d, want %d", cfg.MaxDevices, DefaultMaxDevices)
	}
	if len(cfg.Devices) != 0 {
		t.Errorf("expected no devices in a freshly defaulted config")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	withTempHome(t)

	cfg := &Config{
		MaxDevices: 8,
		Devices: []DeviceConfig{
			{Filename: "disk.img", SizeBytes: 1024 * 1024, Flags: 0x0110},
		},
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MaxDevices != 8 {
		t.Errorf("MaxDevices = %d, want 8", got.MaxDevices)
	}
	if len(got.Devices) != 1 || got.Devices[0].Filename != "disk.img" {
		t.Fatalf("Devices = %+v, want one disk.img entry", got.Devices)
	}
}

func TestPathJoinsHomeAndFilename(t *testing.T) {
	withTempHome(t)
	want := filepath.Join(Home(), "config.toml")
	if got := Path(); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestGetSetMaxDevices(t *testing.T) {
	withTempHome(t)

	if err := Set("max_devices", "16"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := Get("max_devices")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "16" {
		t.Errorf("Get(max_devices) = %q, want %q", got, "16")
	}
}

func TestGetUnknownKeyErrors(t *testing.T) {
	withTempHome(t)
	if _, err := Get("not_a_real_key"); err == nil {
		t.Fatalf("expected an error for an unknown config key")
	}
}

func TestSetInvalidIntegerErrors(t *testing.T) {
	withTempHome(t)
	if err := Set("max_devices", "not-a-number"); err == nil {
		t.Fatalf("expected an error setting a non-integer max_devices")
	}
}
