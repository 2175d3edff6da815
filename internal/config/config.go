// Package config loads and saves the engine's persistent configuration:
// the maximum device count and the set of devices to instantiate at
// startup (spec.md §6 "Configuration").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the ~/.vdisk/config.toml file.
type Config struct {
	MaxDevices int            `toml:"max_devices,omitempty" json:"max_devices"`
	Devices    []DeviceConfig `toml:"devices,omitempty" json:"devices"`
}

// DeviceConfig describes a device to create automatically at engine start.
type DeviceConfig struct {
	Filename     string `toml:"filename,omitempty" json:"filename"`
	SizeBytes    uint64 `toml:"size_bytes,omitempty" json:"size_bytes"`
	ImageOffset  uint64 `toml:"image_offset,omitempty" json:"image_offset"`
	Flags        uint32 `toml:"flags,omitempty" json:"flags"`
	DriveLetter  string `toml:"drive_letter,omitempty" json:"drive_letter,omitempty"`
	ProxyAddress string `toml:"proxy_address,omitempty" json:"proxy_address,omitempty"`
}

// DefaultMaxDevices is used when config.toml does not set max_devices.
const DefaultMaxDevices = 64

// configDirOverride is set by the --config-dir flag or VDISK_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / VDISK_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the engine's config directory.
// Precedence: --config-dir flag / SetConfigDir > VDISK_HOME env > ~/.vdisk
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("VDISK_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".vdisk")
	}
	return filepath.Join(home, ".vdisk")
}

// Path returns the full path to config.toml.
func Path() string {
	return filepath.Join(Home(), "config.toml")
}

// EnsureDir creates the engine home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(Home(), 0o755)
}

// Load reads config.toml and returns a Config struct.
// If the file does not exist, it returns a Config with DefaultMaxDevices.
func Load() (*Config, error) {
	cfg := &Config{MaxDevices: DefaultMaxDevices}
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	if cfg.MaxDevices == 0 {
		cfg.MaxDevices = DefaultMaxDevices
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(Path(), data, 0o644)
}

// validKeys lists the dot-separated keys that can be used with Get/Set.
var validKeys = map[string]bool{
	"max_devices": true,
}

// Get retrieves a single top-level config value by dot-separated key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	switch key {
	case "max_devices":
		return strconv.Itoa(cfg.MaxDevices), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// Set sets a single top-level config value by dot-separated key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	switch key {
	case "max_devices":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_devices must be an integer: %w", err)
		}
		cfg.MaxDevices = n
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return Save(cfg)
}
