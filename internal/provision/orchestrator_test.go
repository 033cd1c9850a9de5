package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/deviceapi"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/discovery"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/firmware"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/server"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/wifi"
)

// --- fakes ---

type fakeAdapter struct {
	current  *wifi.Network
	networks []wifi.Network
	connects []string
	// connectErr fails Connect for the named networks
	connectErr map[string]error
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) CurrentNetwork(ctx context.Context) (*wifi.Network, error) {
	return a.current, nil
}

func (a *fakeAdapter) Scan(ctx context.Context) ([]wifi.Network, error) {
	return a.networks, nil
}

func (a *fakeAdapter) Connect(ctx context.Context, ssid, password string) error {
	a.connects = append(a.connects, ssid)
	if err := a.connectErr[ssid]; err != nil {
		return err
	}
	a.current = &wifi.Network{SSID: ssid}
	return nil
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	pushFactoryOK bool
	info          *deviceapi.DeviceInfo
	infoErr       error
	unlockOK      bool
	unlockErr     error
	flashOK       bool
	pushHomeOK    bool

	// onFlash plays the device side of the flash request
	onFlash func(url string)

	homeCredentials Credentials
}

func (f *fakeAPI) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) PushFactoryCredentials(ctx context.Context, ssid, password string) (bool, error) {
	f.record("ap_diy %s", ssid)
	if !f.pushFactoryOK {
		return false, deviceapi.NewDeviceCodeError("ap_diy", 400, "")
	}
	return true, nil
}

func (f *fakeAPI) GetInfo(ctx context.Context, ip string) (*deviceapi.DeviceInfo, error) {
	f.record("info %s", ip)
	return f.info, f.infoErr
}

func (f *fakeAPI) UnlockOTA(ctx context.Context, ip string) (bool, error) {
	f.record("ota_unlock %s", ip)
	return f.unlockOK, f.unlockErr
}

func (f *fakeAPI) FlashFirmware(ctx context.Context, ip, downloadURL, sha256sum string) (bool, error) {
	f.record("ota_flash %s %s", ip, sha256sum)
	if !f.flashOK {
		return false, deviceapi.NewDeviceCodeError("ota_flash", 424, ip)
	}
	if f.onFlash != nil {
		f.onFlash(downloadURL)
	}
	return true, nil
}

func (f *fakeAPI) PushHomeCredentials(ctx context.Context, ssid, password string) (bool, error) {
	f.record("wi %s", ssid)
	f.homeCredentials = Credentials{SSID: ssid, Password: password}
	return f.pushHomeOK, nil
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeResolver struct {
	ip    string
	err   error
	calls int
}

func (r *fakeResolver) ResolveDeviceIP(ctx context.Context) (string, error) {
	r.calls++
	return r.ip, r.err
}

type fakeSource struct {
	dir   string
	image *firmware.Image
	calls int
}

func (f *fakeSource) EnsureLatest(ctx context.Context, force bool) (*firmware.Image, error) {
	f.calls++
	return f.image, nil
}

func (f *fakeSource) Dir() string { return f.dir }

// scriptedPrompter answers from queues and fails the test on any question
// it has no answer for
type scriptedPrompter struct {
	t         *testing.T
	confirms  []bool
	inputs    []string
	passwords []string
	asked     []string
}

func (p *scriptedPrompter) Confirm(title, description string, initial bool) (bool, error) {
	p.asked = append(p.asked, title)
	if len(p.confirms) == 0 {
		p.t.Errorf("unexpected confirm: %q", title)
		return false, errors.New("no answer")
	}
	v := p.confirms[0]
	p.confirms = p.confirms[1:]
	return v, nil
}

func (p *scriptedPrompter) Input(title, initial string, validate func(string) error) (string, error) {
	p.asked = append(p.asked, title)
	if len(p.inputs) == 0 {
		p.t.Errorf("unexpected input: %q", title)
		return "", errors.New("no answer")
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	if validate != nil {
		if err := validate(v); err != nil {
			p.t.Errorf("scripted answer %q rejected: %v", v, err)
		}
	}
	return v, nil
}

func (p *scriptedPrompter) Password(title string) (string, error) {
	p.asked = append(p.asked, title)
	if len(p.passwords) == 0 {
		p.t.Errorf("unexpected password prompt: %q", title)
		return "", errors.New("no answer")
	}
	v := p.passwords[0]
	p.passwords = p.passwords[1:]
	return v, nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration, reason string) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

type recordingReporter struct {
	mu      sync.Mutex
	notices []string
}

func (r *recordingReporter) StateChanged(from, to State) {}

func (r *recordingReporter) Notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

func (r *recordingReporter) Progress(ev server.ProgressEvent) {}

func (r *recordingReporter) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

// --- helpers ---

var fixtureImage = []byte(strings.Repeat("tasmota-lite fixture ", 50))

func fixtureDigest() string {
	sum := sha256.Sum256(fixtureImage)
	return hex.EncodeToString(sum[:])
}

// fixtureSource serves fixtureImage through a real Fetcher
func fixtureSource(t *testing.T) *firmware.Fetcher {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(fixtureImage)))
		_, _ = w.Write(fixtureImage)
	}))
	t.Cleanup(ts.Close)

	return &firmware.Fetcher{
		URL:        ts.URL + "/tasmota-lite.bin",
		Path:       filepath.Join(t.TempDir(), firmware.FileName),
		HTTPClient: ts.Client(),
	}
}

// deviceFetch requests the whole image as a single range, like the device's
// last chunk
func deviceFetch(t *testing.T) func(url string) {
	return func(url string) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			t.Errorf("bad download url %q: %v", url, err)
			return
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", len(fixtureImage)-1))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Errorf("device could not fetch %s: %v", url, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusPartialContent {
			t.Errorf("device fetch status = %d, want 206", resp.StatusCode)
		}
	}
}

type harness struct {
	o        *Orchestrator
	adapter  *fakeAdapter
	api      *fakeAPI
	resolver *fakeResolver
	prompter *scriptedPrompter
	sleeper  *recordingSleeper
	reporter *recordingReporter
	opened   []string
}

func newHarness(t *testing.T, fw FirmwareSource) *harness {
	t.Helper()
	h := &harness{
		adapter: &fakeAdapter{
			current: &wifi.Network{SSID: "HomeNet"},
		},
		api: &fakeAPI{
			pushFactoryOK: true,
			info:          &deviceapi.DeviceInfo{DeviceID: "1000abcdef"},
			unlockOK:      true,
			flashOK:       true,
			pushHomeOK:    true,
		},
		resolver: &fakeResolver{ip: "192.168.1.50"},
		prompter: &scriptedPrompter{t: t},
		sleeper:  &recordingSleeper{},
		reporter: &recordingReporter{},
	}

	session := NewSession()
	session.LocalIP = "127.0.0.1"
	session.ServerPort = 0
	session.AlwaysRedownloadFirmware = false

	o := New(session, h.adapter, h.api, h.resolver, fw)
	o.Options.ServerHost = "127.0.0.1"
	o.Delays.CompletionSettle = 10 * time.Millisecond
	o.Prompter = h.prompter
	o.Sleeper = h.sleeper
	o.Reporter = h.reporter
	o.OpenURL = func(url string) error {
		h.opened = append(h.opened, url)
		return nil
	}
	h.o = o
	return h
}

func runWithTimeout(t *testing.T, o *Orchestrator) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.Run(ctx)
}

// --- scenarios ---

func TestRun_AutomaticEndToEnd(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.adapter.networks = []wifi.Network{
		{SSID: "HomeNet", Signal: 80},
		{SSID: "ITEAD-1000abcdef", Signal: 60},
	}
	h.api.onFlash = deviceFetch(t)
	h.o.Session.AutoMode = true
	h.o.Options.HomePassword = "secret123"

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantHistory := []State{
		StateJoinFactoryAP,
		StatePushHomeCredentials,
		StateRejoinHomeNetwork,
		StateAwaitDeviceSettle,
		StateResolveDeviceIP,
		StateConfirmOrManualIP,
		StatePrepareFirmware,
		StateUnlockDevice,
		StateServeAndFlash,
		StateAwaitCompletion,
		StateDone,
	}
	if got := h.o.History(); !reflect.DeepEqual(got, wantHistory) {
		t.Errorf("History() = %v, want %v", got, wantHistory)
	}

	if len(h.prompter.asked) != 0 {
		t.Errorf("prompted in automatic mode: %v", h.prompter.asked)
	}

	s := h.o.Session
	if s.TargetDeviceIP != "192.168.1.50" {
		t.Errorf("TargetDeviceIP = %q, want 192.168.1.50", s.TargetDeviceIP)
	}
	if s.FirmwareChecksum != fixtureDigest() {
		t.Errorf("FirmwareChecksum = %q, want %q", s.FirmwareChecksum, fixtureDigest())
	}
	if s.FirmwareSize != int64(len(fixtureImage)) {
		t.Errorf("FirmwareSize = %d, want %d", s.FirmwareSize, len(fixtureImage))
	}
	if s.SavedCredentials == nil || *s.SavedCredentials != (Credentials{SSID: "HomeNet", Password: "secret123"}) {
		t.Errorf("SavedCredentials = %+v", s.SavedCredentials)
	}

	if want := []string{"ITEAD-1000abcdef", "HomeNet"}; !reflect.DeepEqual(h.adapter.connects, want) {
		t.Errorf("connects = %v, want %v", h.adapter.connects, want)
	}

	wantCalls := []string{
		"ap_diy HomeNet",
		"info 192.168.1.50",
		"ota_unlock 192.168.1.50",
		"ota_flash 192.168.1.50 " + fixtureDigest(),
	}
	if got := h.api.Calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("device calls = %v, want %v", got, wantCalls)
	}

	d := DefaultDelays()
	wantWaits := []time.Duration{d.FactoryAPSettle, d.DeviceJoin, d.UnlockPreWait, d.FlashPreWait}
	if !reflect.DeepEqual(h.sleeper.waits, wantWaits) {
		t.Errorf("waits = %v, want %v", h.sleeper.waits, wantWaits)
	}
}

func TestRun_FactoryAPMissingRunsManualProvisioning(t *testing.T) {
	fw := &fakeSource{}
	h := newHarness(t, fw)
	h.adapter.networks = []wifi.Network{
		{SSID: "HomeNet"},
		{SSID: "tasmota_ABC123-4567"},
	}
	h.prompter.confirms = []bool{true}
	h.prompter.inputs = []string{"HomeNet"}
	h.prompter.passwords = []string{"secret123"}

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantHistory := []State{StateJoinFactoryAP, StateManualProvisioning, StateDone}
	if got := h.o.History(); !reflect.DeepEqual(got, wantHistory) {
		t.Errorf("History() = %v, want %v", got, wantHistory)
	}

	wantAsked := []string{
		"Do you want to configure the Tasmota wifi connection?",
		"What is your network wifi name?",
		"What is your network wifi password?",
	}
	if !reflect.DeepEqual(h.prompter.asked, wantAsked) {
		t.Errorf("asked = %v, want %v", h.prompter.asked, wantAsked)
	}

	if want := []string{"tasmota_ABC123-4567"}; !reflect.DeepEqual(h.adapter.connects, want) {
		t.Errorf("connects = %v, want %v", h.adapter.connects, want)
	}
	if want := []string{"wi HomeNet"}; !reflect.DeepEqual(h.api.Calls(), want) {
		t.Errorf("device calls = %v, want %v", h.api.Calls(), want)
	}
	if h.api.homeCredentials.Password != "secret123" {
		t.Errorf("pushed password = %q, want secret123", h.api.homeCredentials.Password)
	}

	if h.resolver.calls != 0 {
		t.Errorf("discovery ran %d times, want 0", h.resolver.calls)
	}
	if fw.calls != 0 {
		t.Errorf("firmware prepared %d times, want 0", fw.calls)
	}
	if len(h.opened) != 0 {
		t.Errorf("opened %v with no known device IP", h.opened)
	}

	d := DefaultDelays()
	wantWaits := []time.Duration{d.FallbackWait, d.ManualAPSettle, d.ManualPostPush}
	if !reflect.DeepEqual(h.sleeper.waits, wantWaits) {
		t.Errorf("waits = %v, want %v", h.sleeper.waits, wantWaits)
	}
}

func TestRun_DiscoveryTimeoutPromptsForIP(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.api.onFlash = deviceFetch(t)
	h.api.info = &deviceapi.DeviceInfo{OTAUnlock: true}
	h.resolver.err = discovery.ErrDiscoveryTimeout
	h.resolver.ip = ""
	h.prompter.inputs = []string{"192.168.1.77"}
	h.o.Session.AutoMode = true
	h.o.Options.SkipWifiConfiguration = true

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if h.resolver.calls != 1 {
		t.Errorf("discovery ran %d times, want exactly 1", h.resolver.calls)
	}
	if want := []string{"What is the local IP of the Sonoff device?"}; !reflect.DeepEqual(h.prompter.asked, want) {
		t.Errorf("asked = %v, want %v", h.prompter.asked, want)
	}
	if h.o.Session.TargetDeviceIP != "192.168.1.77" {
		t.Errorf("TargetDeviceIP = %q, want 192.168.1.77", h.o.Session.TargetDeviceIP)
	}

	// Already unlocked: no unlock call
	wantCalls := []string{
		"info 192.168.1.77",
		"ota_flash 192.168.1.77 " + fixtureDigest(),
	}
	if got := h.api.Calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("device calls = %v, want %v", got, wantCalls)
	}
	if len(h.adapter.connects) != 0 {
		t.Errorf("wifi used with configuration skipped: %v", h.adapter.connects)
	}
	if h.o.State() != StateDone {
		t.Errorf("State() = %v, want Done", h.o.State())
	}
}

func TestRun_UnlockFailureStillFlashes(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.api.onFlash = deviceFetch(t)
	h.api.unlockOK = false
	h.api.unlockErr = deviceapi.NewDeviceCodeError("ota_unlock", 500, "192.168.1.50")
	h.o.Session.AutoMode = true
	h.o.Options.SkipWifiConfiguration = true

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := h.api.Calls()
	if len(calls) != 3 || !strings.HasPrefix(calls[2], "ota_flash ") {
		t.Errorf("device calls = %v, want flash after failed unlock", calls)
	}
	if !h.reporter.contains("OTA unlock failed") {
		t.Errorf("notices = %v, want unlock failure reported", h.reporter.notices)
	}
}

func TestRun_DeviceUnreachableEndsRun(t *testing.T) {
	h := newHarness(t, &fakeSource{dir: t.TempDir(), image: &firmware.Image{SHA256: fixtureDigest(), Size: 100}})
	h.api.info = nil
	h.api.infoErr = deviceapi.NewNetworkError("info request failed", errors.New("connection refused"), "192.168.1.50")
	h.o.Session.AutoMode = true
	h.o.Options.SkipWifiConfiguration = true

	err := runWithTimeout(t, h.o)
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("Run() error = %v, want ErrDeviceUnreachable", err)
	}
	if !deviceapi.IsNetworkError(err) {
		t.Errorf("cause not kept in %v", err)
	}
	if h.o.State() != StateUnlockDevice {
		t.Errorf("State() = %v, want UnlockDevice", h.o.State())
	}
	for _, c := range h.api.Calls() {
		if strings.HasPrefix(c, "ota_") {
			t.Errorf("unexpected call %q after unreachable device", c)
		}
	}
	if hints := Troubleshooting(err); len(hints) == 0 {
		t.Error("Troubleshooting() returned no hints")
	}
}

func TestRun_CredentialPushFailureFallsBackToManual(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	h.adapter.networks = []wifi.Network{
		{SSID: "ITEAD-1000abcdef"},
		{SSID: "tasmota_ABC123-4567"},
	}
	h.api.pushFactoryOK = false
	h.o.Session.AutoMode = true
	h.o.Options.HomePassword = "secret123"

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantHistory := []State{
		StateJoinFactoryAP,
		StatePushHomeCredentials,
		StateManualProvisioning,
		StateDone,
	}
	if got := h.o.History(); !reflect.DeepEqual(got, wantHistory) {
		t.Errorf("History() = %v, want %v", got, wantHistory)
	}
	// Credentials resolved for the first push are reused
	if want := []string{"ap_diy HomeNet", "wi HomeNet"}; !reflect.DeepEqual(h.api.Calls(), want) {
		t.Errorf("device calls = %v, want %v", h.api.Calls(), want)
	}
	if len(h.prompter.asked) != 0 {
		t.Errorf("prompted in automatic mode: %v", h.prompter.asked)
	}
}

func TestRun_AutomaticAsksOnlyForPassword(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.adapter.networks = []wifi.Network{{SSID: "ITEAD-1000abcdef"}}
	h.api.onFlash = deviceFetch(t)
	h.o.Session.AutoMode = true
	h.prompter.passwords = []string{"secret123"}

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if want := []string{"What is your network wifi password?"}; !reflect.DeepEqual(h.prompter.asked, want) {
		t.Errorf("asked = %v, want %v", h.prompter.asked, want)
	}
	if c := h.o.Session.SavedCredentials; c == nil || c.SSID != "HomeNet" {
		t.Errorf("SavedCredentials = %+v, want SSID taken from the previous network", c)
	}
}

func TestRun_RejoinFailureFallsBackToManual(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.adapter.networks = []wifi.Network{{SSID: "ITEAD-1000abcdef"}}
	h.adapter.connectErr = map[string]error{"HomeNet": errors.New("auth failed")}
	h.api.onFlash = deviceFetch(t)
	h.o.Session.AutoMode = true
	h.o.Options.HomePassword = "secret123"
	h.o.Options.DeviceIP = "192.168.1.50"

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := h.o.History()
	want := []State{
		StateJoinFactoryAP,
		StatePushHomeCredentials,
		StateRejoinHomeNetwork,
		StateManualProvisioning,
	}
	if len(got) < len(want) || !reflect.DeepEqual(got[:len(want)], want) {
		t.Fatalf("History() = %v, want prefix %v", got, want)
	}
	for _, s := range got {
		if s == StateAwaitDeviceSettle {
			t.Errorf("waited for the device to settle after a failed rejoin: %v", got)
		}
	}
	if got[len(got)-1] != StateDone {
		t.Errorf("final state = %v, want %v", got[len(got)-1], StateDone)
	}
	if !h.reporter.contains("Automatic configuration failed") {
		t.Error("rejoin failure not reported")
	}
	flashed := false
	for _, c := range h.api.Calls() {
		if strings.HasPrefix(c, "ota_flash") {
			flashed = true
		}
	}
	if !flashed {
		t.Errorf("device calls = %v, want an ota_flash", h.api.Calls())
	}
}

func TestRun_ManualUnavailableContinuesWithPresetDevice(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.adapter.networks = []wifi.Network{{SSID: "HomeNet"}}
	h.api.onFlash = deviceFetch(t)
	h.o.Session.AutoMode = true
	h.o.Options.DeviceIP = "192.168.1.60"

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := h.o.History()
	if got[0] != StateJoinFactoryAP || got[1] != StateManualProvisioning || got[len(got)-1] != StateDone {
		t.Errorf("History() = %v", got)
	}
	if h.resolver.calls != 0 {
		t.Errorf("discovery ran with a preset device IP")
	}
	if h.o.Session.TargetDeviceIP != "192.168.1.60" {
		t.Errorf("TargetDeviceIP = %q, want 192.168.1.60", h.o.Session.TargetDeviceIP)
	}
}

func TestRun_InteractiveConfirmsDiscoveredIP(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.api.onFlash = deviceFetch(t)
	h.o.Options.SkipWifiConfiguration = true
	h.prompter.confirms = []bool{true, true, false}
	h.prompter.inputs = []string{"127.0.0.1", "192.168.1.99"}

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantAsked := []string{
		"Is the Sonoff running firmware version 3.6 or later?",
		"Is the Sonoff connected to your wifi in DIY mode?",
		"What is the IP of this computer?",
		"Sonoff device found at 192.168.1.50. Is that OK?",
		"What is the local IP of the Sonoff device?",
	}
	if !reflect.DeepEqual(h.prompter.asked, wantAsked) {
		t.Errorf("asked = %v, want %v", h.prompter.asked, wantAsked)
	}
	if h.o.Session.TargetDeviceIP != "192.168.1.99" {
		t.Errorf("TargetDeviceIP = %q, want 192.168.1.99", h.o.Session.TargetDeviceIP)
	}
}

func TestRun_DeclinedReadinessStops(t *testing.T) {
	h := newHarness(t, &fakeSource{})
	h.o.Options.SkipWifiConfiguration = true
	h.prompter.confirms = []bool{false}

	err := runWithTimeout(t, h.o)
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("Run() error = %v, want ErrDeclined", err)
	}
	if h.resolver.calls != 0 || len(h.api.Calls()) != 0 {
		t.Errorf("work done after decline: discovery=%d calls=%v", h.resolver.calls, h.api.Calls())
	}
}

func TestRun_FlashRejected(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.api.flashOK = false
	h.o.Session.AutoMode = true
	h.o.Options.SkipWifiConfiguration = true

	err := runWithTimeout(t, h.o)
	if !errors.Is(err, ErrFlashRejected) {
		t.Fatalf("Run() error = %v, want ErrFlashRejected", err)
	}
	if !deviceapi.IsDeviceError(err) {
		t.Errorf("device error not kept in %v", err)
	}
}

func TestRun_WaitsForCompletionUntilCancelled(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.o.Session.AutoMode = true
	h.o.Options.SkipWifiConfiguration = true
	// The device accepts the flash but never downloads

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := h.o.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if h.o.State() != StateAwaitCompletion {
		t.Errorf("State() = %v, want AwaitCompletion", h.o.State())
	}
}

func TestRun_PostFlashWifiOpensWebUI(t *testing.T) {
	h := newHarness(t, fixtureSource(t))
	h.adapter.networks = []wifi.Network{{SSID: "tasmota_ABC123-4567"}}
	h.api.onFlash = deviceFetch(t)
	h.o.Session.AutoMode = true
	h.o.Options.SkipWifiConfiguration = true
	h.o.Options.PostFlashWifi = true
	h.o.Options.HomeSSID = "HomeNet"
	h.o.Options.HomePassword = "secret123"

	if err := runWithTimeout(t, h.o); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if want := []string{"http://192.168.1.50"}; !reflect.DeepEqual(h.opened, want) {
		t.Errorf("opened = %v, want %v", h.opened, want)
	}
	got := h.o.History()
	if n := len(got); n < 3 || got[n-3] != StateAwaitCompletion || got[n-2] != StateManualProvisioning || got[n-1] != StateDone {
		t.Errorf("History() = %v, want AwaitCompletion, ManualProvisioning, Done at the end", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "Init"},
		{StateJoinFactoryAP, "JoinFactoryAp"},
		{StateManualProvisioning, "ManualProvisioning"},
		{StateDone, "Done"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSession_DownloadURL(t *testing.T) {
	s := &Session{LocalIP: "192.168.1.10"}
	if got, want := s.DownloadURL(3123, firmware.FileName), "http://192.168.1.10:3123/tasmota-lite.bin"; got != want {
		t.Errorf("DownloadURL() = %q, want %q", got, want)
	}
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := TimerSleeper{}.Sleep(ctx, time.Hour, "test")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancellation")
	}
}

func TestTroubleshooting(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name    string
		err     error
		want    string
		notWant string
	}{
		{
			name: "flash rejected with device code",
			err:  fmt.Errorf("%w: %w", ErrFlashRejected, deviceapi.NewDeviceCodeError("ota_flash", 424, "192.168.1.50")),
			want: "could not download the firmware",
		},
		{
			name:    "flash request lost",
			err:     fmt.Errorf("%w: %w", ErrFlashRejected, deviceapi.NewNetworkError("ota_flash failed", refused, "192.168.1.50")),
			want:    "stopped answering",
			notWant: "firewalled",
		},
		{
			name: "temporary device error",
			err:  deviceapi.NewNetworkError("info failed", refused, "192.168.1.50"),
			want: "Run the command again",
		},
		{
			name:    "validation error",
			err:     deviceapi.NewValidationError("bad ip"),
			want:    "input values are invalid",
			notWant: "Run the command again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(Troubleshooting(tt.err), "\n")
			if !strings.Contains(joined, tt.want) {
				t.Errorf("Troubleshooting() = %q, want it to mention %q", joined, tt.want)
			}
			if tt.notWant != "" && strings.Contains(joined, tt.notWant) {
				t.Errorf("Troubleshooting() = %q, should not mention %q", joined, tt.notWant)
			}
		})
	}
}
