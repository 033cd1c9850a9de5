package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "sonoff-tasmotizer"
	configFile = "config.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the per-user configuration directory:
//   - Linux: $XDG_CONFIG_HOME/sonoff-tasmotizer or $HOME/.config/sonoff-tasmotizer
//   - macOS: $HOME/Library/Application Support/sonoff-tasmotizer
//   - Windows: %LOCALAPPDATA%\sonoff-tasmotizer
func GetConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// GetConfigPath returns the full path to the configuration file.
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), configFile)
}

// Load reads the configuration file at path, or at GetConfigPath() if path
// is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Server != nil && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = multierror.Append(errs, fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port))
	}

	if c.Firmware != nil {
		u, err := url.Parse(c.Firmware.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = multierror.Append(errs, fmt.Errorf("firmware.url %q is not an http(s) URL", c.Firmware.URL))
		}
	}

	if c.Discovery != nil && c.Discovery.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("discovery.timeout must be positive, got %s", c.Discovery.Timeout))
	}

	if c.Wifi != nil && !slices.Contains(WifiBackends, c.Wifi.Backend) {
		errs = multierror.Append(errs, fmt.Errorf("wifi.backend %q must be one of %v", c.Wifi.Backend, WifiBackends))
	}

	if d := c.Delays; d != nil {
		for name, v := range map[string]int64{
			"factory_ap_settle":  int64(d.FactoryAPSettle),
			"device_join":        int64(d.DeviceJoin),
			"unlock_pre_wait":    int64(d.UnlockPreWait),
			"flash_pre_wait":     int64(d.FlashPreWait),
			"completion_settle":  int64(d.CompletionSettle),
			"wifi_manager_start": int64(d.WifiManagerStart),
		} {
			if v < 0 {
				errs = multierror.Append(errs, fmt.Errorf("delays.%s must not be negative", name))
			}
		}
	}

	return errs.ErrorOrNil()
}

// Save writes the configuration to path, or to GetConfigPath() if path is
// empty. Performs an atomic write to prevent corruption on crash.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		path = GetConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# sonoff-tasmotizer configuration
#
# Command line flags override these values. The home wifi password is
# never stored here; pass --wifi-password or answer the prompt.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	// Write to temporary file first (atomic write)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig writes a config file with every default spelled out.
// An existing file is left alone.
func CreateDefaultConfig(path string) (string, error) {
	if path == "" {
		path = GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists: %s", path)
	}
	return path, Default().Save(path)
}
