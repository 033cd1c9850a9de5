package provision

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/server"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/wifi"
)

// Credentials are the home network settings handed to the device
type Credentials struct {
	SSID     string
	Password string
}

// Session is the state of one provisioning run. Only the Orchestrator
// writes to it.
type Session struct {
	// ID correlates log lines of one run
	ID string

	// LocalIP is this host's address as seen by the device
	LocalIP string

	// TargetDeviceIP is empty until the device has been found or entered
	TargetDeviceIP string

	// FirmwareChecksum is empty until the image has been prepared
	FirmwareChecksum string
	FirmwareSize     int64

	// LastObservedNetwork is the network the host was on before joining
	// the factory AP
	LastObservedNetwork *wifi.Network
	SavedCredentials    *Credentials

	ServerPort               int
	AutoMode                 bool
	AlwaysRedownloadFirmware bool
}

// NewSession creates a session with a fresh ID and the default firmware
// size estimate
func NewSession() *Session {
	return &Session{
		ID:                       uuid.NewString(),
		LocalIP:                  DetectLocalIP(),
		FirmwareSize:             server.DefaultFirmwareSize,
		ServerPort:               server.DefaultPort,
		AlwaysRedownloadFirmware: true,
	}
}

// DownloadURL is where the device fetches the image from
func (s *Session) DownloadURL(port int, file string) string {
	return fmt.Sprintf("http://%s/%s", net.JoinHostPort(s.LocalIP, fmt.Sprintf("%d", port)), file)
}

// DetectLocalIP returns the first non-loopback IPv4 address of this host,
// or an empty string if there is none
func DetectLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLinkLocalUnicast() {
				return ip4.String()
			}
		}
	}
	return ""
}
