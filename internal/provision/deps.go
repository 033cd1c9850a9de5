package provision

import (
	"context"
	"net"
	"time"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/deviceapi"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/firmware"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/server"
)

// DeviceAPI is the subset of deviceapi.Client the orchestrator uses
type DeviceAPI interface {
	PushFactoryCredentials(ctx context.Context, ssid, password string) (bool, error)
	GetInfo(ctx context.Context, ip string) (*deviceapi.DeviceInfo, error)
	UnlockOTA(ctx context.Context, ip string) (bool, error)
	FlashFirmware(ctx context.Context, ip, downloadURL, sha256sum string) (bool, error)
	PushHomeCredentials(ctx context.Context, ssid, password string) (bool, error)
}

// Resolver finds the device on the local network
type Resolver interface {
	ResolveDeviceIP(ctx context.Context) (string, error)
}

// FirmwareSource provides the image the device is flashed with
type FirmwareSource interface {
	EnsureLatest(ctx context.Context, force bool) (*firmware.Image, error)
	Dir() string
}

// ProgressServer serves the image to the device
type ProgressServer interface {
	Start() error
	Addr() net.Addr
	Done() <-chan struct{}
	Shutdown(ctx context.Context) error
}

// ServerFactory builds the firmware server for a run
type ServerFactory func(cfg *server.Config) ProgressServer

// NewProgressServer is the default ServerFactory
func NewProgressServer(cfg *server.Config) ProgressServer {
	return server.New(cfg)
}

// Prompter asks the user questions. Only used outside automatic mode or
// when a required value is missing.
type Prompter interface {
	Confirm(title, description string, initial bool) (bool, error)
	Input(title, initial string, validate func(string) error) (string, error)
	Password(title string) (string, error)
}

// Sleeper waits out settle delays
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration, reason string) error
}

// TimerSleeper waits on a timer and returns early if ctx is cancelled
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration, _ string) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reporter is told about the run as it happens
type Reporter interface {
	StateChanged(from, to State)
	Notice(msg string)
	Progress(ev server.ProgressEvent)
}

type nopReporter struct{}

func (nopReporter) StateChanged(State, State)     {}
func (nopReporter) Notice(string)                 {}
func (nopReporter) Progress(server.ProgressEvent) {}

// Delays are the fixed waits between steps
type Delays struct {
	// FactoryAPSettle lets the device's pairing HTTP server start
	FactoryAPSettle time.Duration

	// DeviceJoin lets the device join the home network after pairing
	DeviceJoin time.Duration

	// FallbackWait precedes the manual provisioning path
	FallbackWait time.Duration

	ManualAPSettle time.Duration
	ManualPostPush time.Duration
	UnlockPreWait  time.Duration

	// FlashPreWait lets the unlock settle before flashing
	FlashPreWait time.Duration

	// CompletionSettle is passed to the firmware server
	CompletionSettle time.Duration

	// WifiManagerStart is how long Tasmota takes to bring up its AP after flashing
	WifiManagerStart time.Duration
}

// DefaultDelays returns the delays the device firmware is known to need
func DefaultDelays() Delays {
	return Delays{
		FactoryAPSettle:  12 * time.Second,
		DeviceJoin:       20 * time.Second,
		FallbackWait:     2 * time.Second,
		ManualAPSettle:   3 * time.Second,
		ManualPostPush:   5 * time.Second,
		UnlockPreWait:    2 * time.Second,
		FlashPreWait:     10 * time.Second,
		CompletionSettle: server.DefaultSettleDelay,
		WifiManagerStart: 20 * time.Second,
	}
}
