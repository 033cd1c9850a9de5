package wifi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// FactoryAPPrefix is the SSID prefix of the access point a Sonoff device
	// broadcasts in its out-of-box pairing mode
	FactoryAPPrefix = "ITEAD-"

	// PostFlashAPPrefix is the SSID prefix of the access point Tasmota
	// broadcasts after first boot, before it has wifi credentials
	PostFlashAPPrefix = "tasmota_"

	// FactoryAPPassword is the fixed WPA2 password of the ITEAD pairing AP.
	// The Tasmota AP is open and ignores it.
	FactoryAPPassword = "12345678"
)

// ErrNetworkNotFound is returned when a scan does not contain a matching SSID
var ErrNetworkNotFound = errors.New("network not found")

// Network describes a wifi network as reported by the host adapter.
// Only SSID takes part in matching; the other fields are informational.
type Network struct {
	SSID     string
	BSSID    string
	Signal   int
	Security string
}

// Matches reports whether the SSID contains the given prefix
func (n Network) Matches(prefix string) bool {
	return prefix != "" && strings.Contains(n.SSID, prefix)
}

// String returns the SSID with signal strength when known
func (n Network) String() string {
	if n.Signal > 0 {
		return fmt.Sprintf("%s (%d%%)", n.SSID, n.Signal)
	}
	return n.SSID
}

// Adapter abstracts the host's wifi interface. Both backends share this
// contract so callers never branch on platform.
type Adapter interface {
	// Name identifies the backend (for logs and diagnostics)
	Name() string

	// CurrentNetwork returns the associated network, or nil when disconnected
	CurrentNetwork(ctx context.Context) (*Network, error)

	// Scan lists visible networks. May block for several seconds.
	Scan(ctx context.Context) ([]Network, error)

	// Connect associates with the given network. Returns *ConnectError on failure.
	Connect(ctx context.Context, ssid, password string) error
}

// ConnectError describes a failed scan or join attempt
type ConnectError struct {
	Op     string   // "scan", "connect" or "status"
	SSID   string   // Target SSID (empty for scan/status)
	Prefix string   // Prefix being searched for, if any
	Seen   []string // SSIDs seen when a prefix match failed
	Err    error
}

func (e *ConnectError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNetworkNotFound):
		seen := "none"
		if len(e.Seen) > 0 {
			seen = strings.Join(e.Seen, ", ")
		}
		return fmt.Sprintf("no wifi network matching %q found (networks found: %s)", e.Prefix, seen)
	case e.SSID != "":
		return fmt.Sprintf("wifi %s %q failed: %v", e.Op, e.SSID, e.Err)
	default:
		return fmt.Sprintf("wifi %s failed: %v", e.Op, e.Err)
	}
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// JoinResult reports the outcome of JoinMatching
type JoinResult struct {
	// Network is the network now joined
	Network Network

	// Previous is the network the host was on before joining, nil if
	// unknown or if the host was already on a matching network
	Previous *Network

	// AlreadyJoined is true when no connect call was needed
	AlreadyJoined bool
}

// JoinMatching joins the first visible network whose SSID contains prefix.
// If the host is already on such a network this is a no-op success.
func JoinMatching(ctx context.Context, adapter Adapter, prefix, password string, logger *zap.Logger) (*JoinResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	current, err := adapter.CurrentNetwork(ctx)
	if err != nil {
		// Not knowing the current network only costs us the home SSID hint
		logger.Warn("could not read current wifi network",
			zap.String("backend", adapter.Name()),
			zap.Error(err),
		)
		current = nil
	}

	if current != nil && current.Matches(prefix) {
		logger.Info("already joined matching network",
			zap.String("ssid", current.SSID),
			zap.String("prefix", prefix),
		)
		return &JoinResult{Network: *current, AlreadyJoined: true}, nil
	}

	networks, err := adapter.Scan(ctx)
	if err != nil {
		return &JoinResult{Previous: current}, err
	}

	target, ok := findMatching(networks, prefix)
	if !ok {
		seen := make([]string, 0, len(networks))
		for _, n := range networks {
			if n.SSID != "" {
				seen = append(seen, n.SSID)
			}
		}
		return &JoinResult{Previous: current}, &ConnectError{
			Op:     "scan",
			Prefix: prefix,
			Seen:   seen,
			Err:    ErrNetworkNotFound,
		}
	}

	logger.Info("joining wifi network",
		zap.String("ssid", target.SSID),
		zap.String("backend", adapter.Name()),
	)

	if err := adapter.Connect(ctx, target.SSID, password); err != nil {
		return &JoinResult{Previous: current}, err
	}

	return &JoinResult{Network: target, Previous: current}, nil
}

// findMatching returns the first network containing prefix, in scan order
func findMatching(networks []Network, prefix string) (Network, bool) {
	for _, n := range networks {
		if n.Matches(prefix) {
			return n, true
		}
	}
	return Network{}, false
}
