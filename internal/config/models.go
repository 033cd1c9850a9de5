package config

import "time"

// CurrentVersion is the only config file version understood
const CurrentVersion = 1

// Config represents the entire user configuration file.
// Every section is optional; missing values fall back to defaults.
type Config struct {
	Version   int             `yaml:"version"`
	Server    *ServerPrefs    `yaml:"server,omitempty"`
	Firmware  *FirmwarePrefs  `yaml:"firmware,omitempty"`
	Discovery *DiscoveryPrefs `yaml:"discovery,omitempty"`
	Wifi      *WifiPrefs      `yaml:"wifi,omitempty"`
	Delays    *DelayPrefs     `yaml:"delays,omitempty"`
}

// ServerPrefs configures the firmware server the device downloads from
type ServerPrefs struct {
	Port int    `yaml:"port"`           // Port the device is pointed at
	Host string `yaml:"host,omitempty"` // Bind address, all interfaces if empty
}

// FirmwarePrefs configures where the image comes from
type FirmwarePrefs struct {
	URL              string `yaml:"url"`
	AlwaysRedownload bool   `yaml:"always_redownload"` // Ignore a cached image
}

// DiscoveryPrefs configures the mDNS lookup of the device
type DiscoveryPrefs struct {
	Timeout time.Duration `yaml:"timeout"`
	Service string        `yaml:"service"`
}

// WifiPrefs selects the wifi backend.
// Note: the home network password is never stored.
type WifiPrefs struct {
	Backend   string `yaml:"backend"`             // auto, nmcli or wpa_cli
	Interface string `yaml:"interface,omitempty"` // e.g. wlan0
	HomeSSID  string `yaml:"home_ssid,omitempty"` // Preselected home network
}

// DelayPrefs are the waits the device firmware needs between steps
type DelayPrefs struct {
	FactoryAPSettle  time.Duration `yaml:"factory_ap_settle"`
	DeviceJoin       time.Duration `yaml:"device_join"`
	UnlockPreWait    time.Duration `yaml:"unlock_pre_wait"`
	FlashPreWait     time.Duration `yaml:"flash_pre_wait"`
	CompletionSettle time.Duration `yaml:"completion_settle"`
	WifiManagerStart time.Duration `yaml:"wifi_manager_start"`
}

func defaultServer() *ServerPrefs {
	return &ServerPrefs{Port: 3123}
}

func defaultFirmware() *FirmwarePrefs {
	return &FirmwarePrefs{
		URL:              "https://ota.tasmota.com/tasmota/release/tasmota-lite.bin",
		AlwaysRedownload: true,
	}
}

func defaultDiscovery() *DiscoveryPrefs {
	return &DiscoveryPrefs{
		Timeout: 5 * time.Second,
		Service: "_ewelink._tcp",
	}
}

func defaultWifi() *WifiPrefs {
	return &WifiPrefs{Backend: "auto"}
}

func defaultDelays() *DelayPrefs {
	return &DelayPrefs{
		FactoryAPSettle:  12 * time.Second,
		DeviceJoin:       20 * time.Second,
		UnlockPreWait:    2 * time.Second,
		FlashPreWait:     10 * time.Second,
		CompletionSettle: 5 * time.Second,
		WifiManagerStart: 20 * time.Second,
	}
}

// Default creates a Config with default values
func Default() *Config {
	return &Config{
		Version:   CurrentVersion,
		Server:    defaultServer(),
		Firmware:  defaultFirmware(),
		Discovery: defaultDiscovery(),
		Wifi:      defaultWifi(),
		Delays:    defaultDelays(),
	}
}

// applyDefaults fills sections and zero fields missing from a loaded file
func (c *Config) applyDefaults() {
	if c.Server == nil {
		c.Server = defaultServer()
	} else if c.Server.Port == 0 {
		c.Server.Port = defaultServer().Port
	}
	if c.Firmware == nil {
		c.Firmware = defaultFirmware()
	} else if c.Firmware.URL == "" {
		c.Firmware.URL = defaultFirmware().URL
	}
	if c.Discovery == nil {
		c.Discovery = defaultDiscovery()
	} else {
		d := defaultDiscovery()
		if c.Discovery.Timeout == 0 {
			c.Discovery.Timeout = d.Timeout
		}
		if c.Discovery.Service == "" {
			c.Discovery.Service = d.Service
		}
	}
	if c.Wifi == nil {
		c.Wifi = defaultWifi()
	} else if c.Wifi.Backend == "" {
		c.Wifi.Backend = defaultWifi().Backend
	}
	if c.Delays == nil {
		c.Delays = defaultDelays()
	}
}

// WifiBackends lists the accepted values of wifi.backend
var WifiBackends = []string{"auto", "nmcli", "wpa_cli"}
