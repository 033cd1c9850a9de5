package wifi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Embedded drives wpa_supplicant through wpa_cli. Used on single-board
// computers where NetworkManager is usually absent.
type Embedded struct {
	Interface string

	// ScanWait is how long to wait between triggering a scan and reading results
	ScanWait time.Duration

	// AssociateTimeout bounds how long Connect waits for wpa_state=COMPLETED
	AssociateTimeout time.Duration

	// PollInterval is the status polling period during Connect
	PollInterval time.Duration

	Runner Runner
	Logger *zap.Logger
}

// NewEmbedded creates a wpa_supplicant backed adapter for iface
func NewEmbedded(iface string, logger *zap.Logger) *Embedded {
	if iface == "" {
		iface = "wlan0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedded{
		Interface:        iface,
		ScanWait:         3 * time.Second,
		AssociateTimeout: 30 * time.Second,
		PollInterval:     time.Second,
		Runner:           ExecRunner{},
		Logger:           logger,
	}
}

// Name implements Adapter
func (e *Embedded) Name() string {
	return "wpa_cli"
}

// CurrentNetwork implements Adapter
func (e *Embedded) CurrentNetwork(ctx context.Context) (*Network, error) {
	status, err := e.status(ctx)
	if err != nil {
		return nil, &ConnectError{Op: "status", Err: err}
	}

	if status["wpa_state"] != "COMPLETED" || status["ssid"] == "" {
		return nil, nil
	}

	return &Network{
		SSID:     status["ssid"],
		BSSID:    status["bssid"],
		Security: status["key_mgmt"],
	}, nil
}

// Scan implements Adapter
func (e *Embedded) Scan(ctx context.Context) ([]Network, error) {
	if _, err := e.cli(ctx, "scan"); err != nil {
		return nil, &ConnectError{Op: "scan", Err: err}
	}

	if err := sleepCtx(ctx, e.ScanWait); err != nil {
		return nil, &ConnectError{Op: "scan", Err: err}
	}

	out, err := e.cli(ctx, "scan_results")
	if err != nil {
		return nil, &ConnectError{Op: "scan", Err: err}
	}

	networks := parseScanResults(out)
	e.Logger.Debug("wpa_cli scan complete", zap.Int("networks", len(networks)))
	return networks, nil
}

// Connect implements Adapter
func (e *Embedded) Connect(ctx context.Context, ssid, password string) error {
	wrap := func(err error) error {
		return &ConnectError{Op: "connect", SSID: ssid, Err: err}
	}

	out, err := e.cli(ctx, "add_network")
	if err != nil {
		return wrap(err)
	}
	id := lastLine(out)
	if _, convErr := strconv.Atoi(id); convErr != nil {
		return wrap(fmt.Errorf("unexpected add_network reply %q", id))
	}

	// A failed attempt must not leave its entry in wpa_supplicant
	fail := func(err error) error {
		e.removeNetwork(ctx, id)
		return wrap(err)
	}

	steps := [][]string{
		{"set_network", id, "ssid", strconv.Quote(ssid)},
	}
	if password == "" {
		steps = append(steps, []string{"set_network", id, "key_mgmt", "NONE"})
	} else {
		steps = append(steps, []string{"set_network", id, "psk", strconv.Quote(password)})
	}
	steps = append(steps, []string{"select_network", id})

	for _, step := range steps {
		reply, err := e.cli(ctx, step...)
		if err != nil {
			return fail(err)
		}
		if lastLine(reply) != "OK" {
			return fail(fmt.Errorf("%s: %s", step[0], lastLine(reply)))
		}
	}

	e.Logger.Debug("waiting for association", zap.String("ssid", ssid))

	deadline := time.Now().Add(e.AssociateTimeout)
	for {
		status, err := e.status(ctx)
		if err == nil && status["wpa_state"] == "COMPLETED" && status["ssid"] == ssid {
			return nil
		}
		if time.Now().After(deadline) {
			return fail(errors.New("timed out waiting for association"))
		}
		if err := sleepCtx(ctx, e.PollInterval); err != nil {
			return fail(err)
		}
	}
}

// removeNetwork drops a network entry left behind by a failed Connect. It
// runs even when ctx is already cancelled.
func (e *Embedded) removeNetwork(ctx context.Context, id string) {
	reply, err := e.cli(context.WithoutCancel(ctx), "remove_network", id)
	if err != nil || lastLine(reply) != "OK" {
		e.Logger.Warn("failed to remove wpa_supplicant network",
			zap.String("id", id),
			zap.String("reply", lastLine(reply)),
			zap.Error(err),
		)
	}
}

func (e *Embedded) cli(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-i", e.Interface}, args...)
	out, err := e.Runner.Run(ctx, "wpa_cli", full...)
	return string(out), err
}

func (e *Embedded) status(ctx context.Context) (map[string]string, error) {
	out, err := e.cli(ctx, "status")
	if err != nil {
		return nil, err
	}
	return parseKeyValues(out), nil
}

// parseKeyValues parses wpa_cli "key=value" status output
func parseKeyValues(out string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok {
			values[key] = value
		}
	}
	return values
}

// parseScanResults parses the tab separated scan_results table:
// bssid / frequency / signal level / flags / ssid
func parseScanResults(out string) []Network {
	var networks []Network
	seen := make(map[string]bool)

	for _, line := range strings.Split(out, "\n") {
		cols := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(cols) < 5 {
			continue
		}
		ssid := cols[4]
		if ssid == "" || seen[ssid] {
			continue
		}
		seen[ssid] = true

		dbm, _ := strconv.Atoi(cols[2])
		networks = append(networks, Network{
			SSID:     ssid,
			BSSID:    cols[0],
			Signal:   dbmToQuality(dbm),
			Security: cols[3],
		})
	}

	return networks
}

// dbmToQuality converts an RSSI in dBm to a 0-100 quality figure
func dbmToQuality(dbm int) int {
	switch {
	case dbm == 0:
		return 0
	case dbm <= -100:
		return 0
	case dbm >= -50:
		return 100
	default:
		return 2 * (dbm + 100)
	}
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
