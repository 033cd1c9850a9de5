package wifi

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Backend selects an Adapter implementation
type Backend string

const (
	BackendAuto     Backend = "auto"
	BackendDesktop  Backend = "nmcli"
	BackendEmbedded Backend = "wpa_cli"
)

// boardModelPaths are probed in order to recognise a Raspberry Pi
var boardModelPaths = []string{
	"/proc/device-tree/model",
	"/proc/cpuinfo",
}

// IsRaspberryPi reports whether the host looks like a Raspberry Pi
func IsRaspberryPi() bool {
	for _, path := range boardModelPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if strings.Contains(string(data), "Raspberry Pi") {
			return true
		}
	}
	return false
}

// New returns the adapter for backend. BackendAuto picks wpa_cli on a
// Raspberry Pi and nmcli everywhere else.
func New(backend Backend, iface string, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if backend == "" || backend == BackendAuto {
		backend = BackendDesktop
		if IsRaspberryPi() {
			backend = BackendEmbedded
		}
		logger.Debug("wifi backend detected", zap.String("backend", string(backend)))
	}

	switch backend {
	case BackendDesktop:
		return NewDesktop(iface, logger), nil
	case BackendEmbedded:
		return NewEmbedded(iface, logger), nil
	default:
		return nil, fmt.Errorf("unknown wifi backend %q (expected auto, nmcli or wpa_cli)", backend)
	}
}
