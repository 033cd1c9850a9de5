package wifi

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// nmcliFields is the terse field list requested from nmcli for every listing
const nmcliFields = "ACTIVE,SSID,BSSID,SIGNAL,SECURITY"

// Desktop drives NetworkManager through nmcli
type Desktop struct {
	// Interface restricts operations to one device (e.g. "wlan0"); empty means any
	Interface string

	Runner Runner
	Logger *zap.Logger
}

// NewDesktop creates a NetworkManager backed adapter
func NewDesktop(iface string, logger *zap.Logger) *Desktop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desktop{
		Interface: iface,
		Runner:    ExecRunner{},
		Logger:    logger,
	}
}

// Name implements Adapter
func (d *Desktop) Name() string {
	return "nmcli"
}

// CurrentNetwork implements Adapter
func (d *Desktop) CurrentNetwork(ctx context.Context) (*Network, error) {
	out, err := d.Runner.Run(ctx, "nmcli", d.listArgs(false)...)
	if err != nil {
		return nil, &ConnectError{Op: "status", Err: err}
	}

	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(line)
		if len(fields) < 5 || fields[0] != "yes" {
			continue
		}
		n := networkFromFields(fields[1:])
		return &n, nil
	}

	return nil, nil
}

// Scan implements Adapter
func (d *Desktop) Scan(ctx context.Context) ([]Network, error) {
	out, err := d.Runner.Run(ctx, "nmcli", d.listArgs(true)...)
	if err != nil {
		return nil, &ConnectError{Op: "scan", Err: err}
	}

	networks := parseNmcliList(string(out))
	d.Logger.Debug("nmcli scan complete", zap.Int("networks", len(networks)))
	return networks, nil
}

// Connect implements Adapter
func (d *Desktop) Connect(ctx context.Context, ssid, password string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if d.Interface != "" {
		args = append(args, "ifname", d.Interface)
	}

	d.Logger.Debug("nmcli connect", zap.String("ssid", ssid))

	if _, err := d.Runner.Run(ctx, "nmcli", args...); err != nil {
		return &ConnectError{Op: "connect", SSID: ssid, Err: err}
	}
	return nil
}

func (d *Desktop) listArgs(rescan bool) []string {
	args := []string{"-t", "-f", nmcliFields, "device", "wifi", "list"}
	if d.Interface != "" {
		args = append(args, "ifname", d.Interface)
	}
	if rescan {
		args = append(args, "--rescan", "yes")
	}
	return args
}

// parseNmcliList parses terse "ACTIVE:SSID:BSSID:SIGNAL:SECURITY" lines.
// Hidden networks (empty SSID) are skipped and duplicates collapse to the
// strongest entry, keeping first-seen order.
func parseNmcliList(out string) []Network {
	var networks []Network
	index := make(map[string]int)

	for _, line := range strings.Split(out, "\n") {
		fields := splitTerse(line)
		if len(fields) < 5 {
			continue
		}
		n := networkFromFields(fields[1:])
		if n.SSID == "" {
			continue
		}
		if i, ok := index[n.SSID]; ok {
			if n.Signal > networks[i].Signal {
				networks[i] = n
			}
			continue
		}
		index[n.SSID] = len(networks)
		networks = append(networks, n)
	}

	return networks
}

// networkFromFields builds a Network from SSID, BSSID, SIGNAL, SECURITY
func networkFromFields(f []string) Network {
	signal, _ := strconv.Atoi(f[2])
	return Network{
		SSID:     f[0],
		BSSID:    f[1],
		Signal:   signal,
		Security: f[3],
	}
}

// splitTerse splits an nmcli terse line on ':' honouring backslash escapes,
// which nmcli uses for colons inside BSSIDs and SSIDs.
func splitTerse(line string) []string {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return nil
	}

	var fields []string
	var cur strings.Builder
	escaped := false

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())

	return fields
}
