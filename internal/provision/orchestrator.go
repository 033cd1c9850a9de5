package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pkg/browser"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/deviceapi"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/firmware"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/logging"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/server"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/wifi"
	"go.uber.org/zap"
)

var (
	// ErrDeviceUnreachable means the device did not answer the info call.
	// The run cannot continue.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrDeclined means the user answered no to a readiness question
	ErrDeclined = errors.New("cancelled by user")

	// ErrAborted means a prompt could not be completed (e.g. Ctrl-C)
	ErrAborted = errors.New("prompt aborted")

	// ErrNoPrompter means input was needed but the run is not interactive
	ErrNoPrompter = errors.New("input required but no prompter is available")

	// ErrFlashRejected means the device did not accept the flash request
	ErrFlashRejected = errors.New("device rejected the flash request")

	// ErrNoAdapter means a wifi step was reached without a wifi adapter
	ErrNoAdapter = errors.New("no wifi adapter available")
)

// Options change which parts of the run happen
type Options struct {
	// SkipWifiConfiguration goes straight to discovery on the current network
	SkipWifiConfiguration bool

	// HomeSSID and HomePassword bypass the credential prompts when set
	HomeSSID     string
	HomePassword string

	// DeviceIP bypasses discovery when set
	DeviceIP string

	// PostFlashWifi configures Tasmota's own wifi once flashing completes
	PostFlashWifi bool

	// ServerHost is the address the firmware server binds to (all if empty)
	ServerHost string
}

// Orchestrator drives one provisioning run. Steps run strictly one after
// another; the firmware server is the only thing running alongside.
type Orchestrator struct {
	Session *Session
	Options Options
	Delays  Delays

	Wifi      wifi.Adapter
	API       DeviceAPI
	Resolver  Resolver
	Firmware  FirmwareSource
	NewServer ServerFactory

	Prompter Prompter
	Sleeper  Sleeper
	Reporter Reporter

	// OpenURL opens the device web UI at the end of manual provisioning
	OpenURL func(url string) error

	Logger *zap.Logger

	state   State
	history []State
	server  ProgressServer
}

// New creates an orchestrator with default delays, a real firmware server
// and no prompter
func New(session *Session, adapter wifi.Adapter, api DeviceAPI, resolver Resolver, fw FirmwareSource) *Orchestrator {
	return &Orchestrator{
		Session:   session,
		Delays:    DefaultDelays(),
		Wifi:      adapter,
		API:       api,
		Resolver:  resolver,
		Firmware:  fw,
		NewServer: NewProgressServer,
		Sleeper:   TimerSleeper{},
		Reporter:  nopReporter{},
		OpenURL:   browser.OpenURL,
		Logger:    logging.GetLogger(),
	}
}

// State returns the current state
func (o *Orchestrator) State() State {
	return o.state
}

// History returns every state entered so far, in order
func (o *Orchestrator) History() []State {
	out := make([]State, len(o.history))
	copy(out, o.history)
	return out
}

// Run executes the provisioning flow until the device has fetched its new
// firmware, a terminal manual provisioning succeeds, or an error ends it.
// If the device never issues range requests Run blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.shutdownServer()

	s := o.Session
	o.logger().Info("provisioning started",
		zap.String("session", s.ID),
		zap.Bool("auto", s.AutoMode),
		zap.String("local_ip", s.LocalIP),
	)

	configured := false
	if !o.Options.SkipWifiConfiguration {
		creds, err := o.configureFactoryAP(ctx)
		if err == nil {
			err = o.rejoinHomeNetwork(ctx, creds)
		}
		switch {
		case err == nil:
			configured = true
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrAborted):
			return err
		default:
			o.logger().Warn("automatic wifi configuration failed", zap.Error(err))
			o.notice("Automatic configuration failed: %v", err)

			if err := o.sleep(ctx, o.Delays.FallbackWait, "Trying Tasmota wifi setup"); err != nil {
				return err
			}
			merr := o.runManual(ctx, !s.AutoMode)
			if merr == nil {
				o.transition(StateDone)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(merr, ErrAborted) {
				return merr
			}
			o.logger().Warn("manual provisioning did not run", zap.Error(merr))
			o.notice("Tasmota wifi setup skipped: %v", merr)
		}
	}

	if configured {
		o.transition(StateAwaitDeviceSettle)
		if err := o.sleep(ctx, o.Delays.DeviceJoin, "Waiting for the device to join your network"); err != nil {
			return err
		}
	} else if !s.AutoMode {
		if err := o.confirmReady(); err != nil {
			return err
		}
	}

	steps := []func(context.Context) error{
		o.locateDevice,
		o.prepareFirmware,
		o.unlockDevice,
		o.serveAndFlash,
		o.awaitCompletion,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}

	if o.Options.PostFlashWifi {
		if err := o.sleep(ctx, o.Delays.WifiManagerStart, "Waiting for Tasmota to start its wifi manager"); err != nil {
			return err
		}
		if err := o.runManual(ctx, false); err != nil {
			return fmt.Errorf("tasmota wifi setup failed: %w", err)
		}
	}

	o.transition(StateDone)
	return nil
}

// configureFactoryAP joins the pairing AP and hands the device the home
// network credentials
func (o *Orchestrator) configureFactoryAP(ctx context.Context) (*Credentials, error) {
	s := o.Session
	o.transition(StateJoinFactoryAP)

	if o.Wifi == nil {
		return nil, ErrNoAdapter
	}

	res, err := wifi.JoinMatching(ctx, o.Wifi, wifi.FactoryAPPrefix, wifi.FactoryAPPassword, o.logger())
	if res != nil && res.Previous != nil {
		s.LastObservedNetwork = res.Previous
	}
	if err != nil {
		return nil, fmt.Errorf("failed to join pairing network: %w", err)
	}

	o.notice("Connected to %s", res.Network.SSID)
	if err := o.sleep(ctx, o.Delays.FactoryAPSettle, "Waiting for the device pairing server"); err != nil {
		return nil, err
	}

	o.transition(StatePushHomeCredentials)
	creds, err := o.homeCredentials()
	if err != nil {
		return nil, err
	}

	ok, err := o.API.PushFactoryCredentials(ctx, creds.SSID, creds.Password)
	if !ok {
		return nil, fmt.Errorf("failed to send wifi configuration to the device: %w", orUnknown(err))
	}
	o.notice("Device configured for %s", creds.SSID)
	return creds, nil
}

func (o *Orchestrator) rejoinHomeNetwork(ctx context.Context, creds *Credentials) error {
	o.transition(StateRejoinHomeNetwork)
	if err := o.Wifi.Connect(ctx, creds.SSID, creds.Password); err != nil {
		return fmt.Errorf("failed to rejoin %s: %w", creds.SSID, err)
	}
	o.notice("Connected to %s", creds.SSID)
	return nil
}

// confirmReady walks the user through putting the device in DIY mode when
// pairing did not happen automatically
func (o *Orchestrator) confirmReady() error {
	s := o.Session
	o.notice("My local IP address is %s", s.LocalIP)

	ok, err := o.confirm("Is the Sonoff running firmware version 3.6 or later?", firmwareNote, true)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}

	ok, err = o.confirm("Is the Sonoff connected to your wifi in DIY mode?", diyModeSteps, true)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}

	ip, err := o.input("What is the IP of this computer?", s.LocalIP, deviceapi.ValidateIP)
	if err != nil {
		return err
	}
	s.LocalIP = ip
	return nil
}

// locateDevice resolves the device address by discovery, flag or prompt
func (o *Orchestrator) locateDevice(ctx context.Context) error {
	s := o.Session
	o.transition(StateResolveDeviceIP)

	preset := o.Options.DeviceIP
	candidate := preset
	var discoveryErr error
	if preset == "" {
		candidate, discoveryErr = o.Resolver.ResolveDeviceIP(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	o.transition(StateConfirmOrManualIP)

	if discoveryErr != nil {
		o.logger().Warn("device discovery failed", zap.Error(discoveryErr))
		o.notice("Could not find a Sonoff device on this network. Is it connected?")
		ip, err := o.input("What is the local IP of the Sonoff device?", "", deviceapi.ValidateIP)
		if err != nil {
			return err
		}
		s.TargetDeviceIP = ip
		return nil
	}

	if preset == "" && !s.AutoMode {
		ok, err := o.confirm(
			fmt.Sprintf("Sonoff device found at %s. Is that OK?", candidate),
			"Answer no to enter the address manually.",
			true,
		)
		if err != nil {
			return err
		}
		if !ok {
			candidate, err = o.input("What is the local IP of the Sonoff device?", candidate, deviceapi.ValidateIP)
			if err != nil {
				return err
			}
		}
	} else {
		o.notice("Sonoff device found at %s", candidate)
	}

	s.TargetDeviceIP = candidate
	return nil
}

func (o *Orchestrator) prepareFirmware(ctx context.Context) error {
	s := o.Session
	o.transition(StatePrepareFirmware)

	img, err := o.Firmware.EnsureLatest(ctx, s.AlwaysRedownloadFirmware)
	if err != nil {
		return fmt.Errorf("failed to prepare firmware: %w", err)
	}
	s.FirmwareChecksum = img.SHA256
	s.FirmwareSize = img.Size

	o.logger().Info("firmware ready",
		zap.String("path", img.Path),
		zap.String("sha256", img.SHA256),
		zap.Int64("size", img.Size),
		zap.Bool("cached", img.Cached),
	)
	return nil
}

// unlockDevice makes sure OTA is allowed. A failed unlock is reported but
// the flash is still attempted.
func (o *Orchestrator) unlockDevice(ctx context.Context) error {
	s := o.Session
	ip := s.TargetDeviceIP
	o.transition(StateUnlockDevice)

	info, err := o.API.GetInfo(ctx, ip)
	if err != nil || info == nil {
		return fmt.Errorf("%w at %s: %w", ErrDeviceUnreachable, ip, orUnknown(err))
	}
	if info.OTAUnlock {
		o.notice("Device already unlocked")
		return nil
	}

	if err := o.sleep(ctx, o.Delays.UnlockPreWait, "Unlocking OTA"); err != nil {
		return err
	}
	ok, err := o.API.UnlockOTA(ctx, ip)
	if !ok {
		o.logger().Warn("OTA unlock failed, attempting flash anyway",
			zap.String("ip", ip),
			zap.Error(err),
		)
		o.notice("OTA unlock failed (%s). Trying to flash anyway", deviceapi.GetShortErrorMessage(orUnknown(err)))
		return nil
	}
	o.notice("OTA unlocked")
	return nil
}

// serveAndFlash starts the firmware server, then tells the device to
// download from it
func (o *Orchestrator) serveAndFlash(ctx context.Context) error {
	s := o.Session
	o.transition(StateServeAndFlash)

	if s.LocalIP == "" {
		return errors.New("local IP address unknown; set it with --local-ip")
	}
	if err := o.startServer(); err != nil {
		return err
	}
	url := s.DownloadURL(o.serverPort(), firmware.FileName)

	if err := o.sleep(ctx, o.Delays.FlashPreWait, "Letting the unlock settle"); err != nil {
		return err
	}

	ok, err := o.API.FlashFirmware(ctx, s.TargetDeviceIP, url, s.FirmwareChecksum)
	if !ok {
		if errors.Is(err, deviceapi.ErrMissingChecksum) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrFlashRejected, orUnknown(err))
	}

	o.logger().Info("flash requested",
		zap.String("ip", s.TargetDeviceIP),
		zap.String("url", url),
	)
	o.notice("The device is downloading Tasmota. Do not unplug it; this takes about a minute")
	return nil
}

func (o *Orchestrator) awaitCompletion(ctx context.Context) error {
	o.transition(StateAwaitCompletion)
	select {
	case <-o.server.Done():
		o.notice("Firmware transferred. The device is rebooting into Tasmota")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runManual configures wifi through the device's own post-reset AP
func (o *Orchestrator) runManual(ctx context.Context, confirmFirst bool) error {
	s := o.Session
	o.transition(StateManualProvisioning)

	if o.Wifi == nil {
		return ErrNoAdapter
	}
	res, err := wifi.JoinMatching(ctx, o.Wifi, wifi.PostFlashAPPrefix, "", o.logger())
	if err != nil {
		return fmt.Errorf("failed to join Tasmota network: %w", err)
	}
	o.notice("Connected to %s", res.Network.SSID)

	if confirmFirst {
		ok, err := o.confirm("Do you want to configure the Tasmota wifi connection?", "", true)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDeclined
		}
	}

	if err := o.sleep(ctx, o.Delays.ManualAPSettle, "Waiting for Tasmota"); err != nil {
		return err
	}

	creds, err := o.homeCredentials()
	if err != nil {
		return err
	}
	ok, err := o.API.PushHomeCredentials(ctx, creds.SSID, creds.Password)
	if !ok {
		return fmt.Errorf("failed to send wifi configuration to Tasmota: %w", orUnknown(err))
	}

	if err := o.sleep(ctx, o.Delays.ManualPostPush, "Waiting for Tasmota to join your network"); err != nil {
		return err
	}

	if ip := s.TargetDeviceIP; ip != "" {
		url := "http://" + ip
		o.notice("Tasmota web interface: %s", url)
		if o.OpenURL != nil {
			if err := o.OpenURL(url); err != nil {
				o.logger().Warn("could not open browser", zap.String("url", url), zap.Error(err))
			}
		}
	}
	return nil
}

// homeCredentials resolves the home network credentials once per session
func (o *Orchestrator) homeCredentials() (*Credentials, error) {
	s := o.Session
	if s.SavedCredentials != nil {
		return s.SavedCredentials, nil
	}

	last := ""
	if s.LastObservedNetwork != nil {
		last = s.LastObservedNetwork.SSID
	}

	ssid := o.Options.HomeSSID
	if ssid == "" && s.AutoMode {
		ssid = last
	}
	if ssid == "" {
		var err error
		ssid, err = o.input("What is your network wifi name?", last, deviceapi.ValidateWiFiSSID)
		if err != nil {
			return nil, err
		}
	}

	password := o.Options.HomePassword
	if password == "" {
		var err error
		password, err = o.password("What is your network wifi password?")
		if err != nil {
			return nil, err
		}
	}
	if err := deviceapi.ValidateWiFiPassword(password); err != nil {
		return nil, err
	}

	s.SavedCredentials = &Credentials{SSID: ssid, Password: password}
	return s.SavedCredentials, nil
}

func (o *Orchestrator) startServer() error {
	if o.server != nil {
		return nil
	}
	s := o.Session
	factory := o.NewServer
	if factory == nil {
		factory = NewProgressServer
	}

	srv := factory(&server.Config{
		Host:         o.Options.ServerHost,
		Port:         s.ServerPort,
		Dir:          o.Firmware.Dir(),
		FirmwareSize: s.FirmwareSize,
		SettleDelay:  o.Delays.CompletionSettle,
		OnProgress:   o.reporter().Progress,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start firmware server: %w", err)
	}
	o.server = srv
	return nil
}

// serverPort is the bound port, which differs from the session's when it
// asked for a free one
func (o *Orchestrator) serverPort() int {
	if addr, ok := o.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return o.Session.ServerPort
}

func (o *Orchestrator) shutdownServer() {
	if o.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.server.Shutdown(ctx); err != nil {
		o.logger().Warn("firmware server shutdown failed", zap.Error(err))
	}
	o.server = nil
}

func (o *Orchestrator) transition(to State) {
	from := o.state
	o.state = to
	o.history = append(o.history, to)
	logging.LogStateTransition(o.Session.ID, from.String(), to.String())
	o.reporter().StateChanged(from, to)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration, reason string) error {
	sleeper := o.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return sleeper.Sleep(ctx, d, reason)
}

func (o *Orchestrator) confirm(title, description string, initial bool) (bool, error) {
	if o.Prompter == nil {
		return false, ErrNoPrompter
	}
	ok, err := o.Prompter.Confirm(title, description, initial)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return ok, nil
}

func (o *Orchestrator) input(title, initial string, validate func(string) error) (string, error) {
	if o.Prompter == nil {
		return "", ErrNoPrompter
	}
	v, err := o.Prompter.Input(title, initial, validate)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return v, nil
}

func (o *Orchestrator) password(title string) (string, error) {
	if o.Prompter == nil {
		return "", ErrNoPrompter
	}
	v, err := o.Prompter.Password(title)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return v, nil
}

func (o *Orchestrator) notice(format string, args ...any) {
	o.reporter().Notice(fmt.Sprintf(format, args...))
}

func (o *Orchestrator) reporter() Reporter {
	if o.Reporter == nil {
		return nopReporter{}
	}
	return o.Reporter
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// orUnknown keeps %w readable for sentinel-only failures
func orUnknown(err error) error {
	if err == nil {
		return errors.New("no details")
	}
	return err
}
