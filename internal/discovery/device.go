package discovery

import (
	"fmt"
	"strings"
	"time"
)

// Device represents a Sonoff device in DIY mode found via mDNS
type Device struct {
	// ID is the eWeLink device ID (e.g., "1000a1b2c3")
	ID string

	// Instance is the mDNS instance name (e.g., "eWeLink_1000a1b2c3")
	Instance string

	// Hostname is the mDNS hostname (e.g., "eWeLink_1000a1b2c3.local.")
	Hostname string

	// IP is the address of the device, IPv4 when available
	IP string

	// Port is the DIY API port (typically 8081)
	Port int

	// Type is the DIY device type from the TXT record (e.g., "diy_plug")
	Type string

	// Metadata contains all mDNS TXT record data
	// Common fields: "txtvers=1", "id=...", "type=diy_plug", "apivers=1", "seq=..."
	Metadata map[string]string

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	name := d.ID
	if name == "" {
		name = d.Instance
	}
	return fmt.Sprintf("Sonoff %s (%s) at %s:%d", name, d.Hostname, d.IP, d.Port)
}

// BaseURL returns the DIY API base URL for the device
func (d *Device) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.IP, d.Port)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// deviceIDFromInstance extracts the ID from an "eWeLink_<id>" instance name
func deviceIDFromInstance(instance string) string {
	_, id, ok := strings.Cut(instance, "_")
	if !ok {
		return ""
	}
	return id
}
