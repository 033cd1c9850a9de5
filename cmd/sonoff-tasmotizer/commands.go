package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/config"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/deviceapi"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/discovery"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/firmware"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/logging"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/provision"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/server"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/ui"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/urls"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/wifi"
)

// Flash command flags
var (
	serverPort          int
	autoMode            bool
	noUpdateBin         bool
	wifiSSID            string
	wifiPassword        string
	noWifiConfiguration bool
	deviceIP            string
	localIP             string
	postFlashWifi       bool
)

// Other command flags
var (
	scanTimeout   time.Duration
	forceDownload bool
	rawJSON       bool
)

func init() {
	addFlashFlags(flashCmd)

	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(downloadCmd)
}

// addFlashFlags registers the flash flags on cmd. The root command carries
// them too since flash is the default.
func addFlashFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&serverPort, "port", server.DefaultPort, "Port of the firmware server the device downloads from")
	f.BoolVar(&autoMode, "auto", false, "Skip confirmations and use detected values; still asks for what it cannot detect, such as the wifi password")
	f.BoolVar(&noUpdateBin, "no-update-bin", false, "Reuse the cached firmware image instead of downloading it again")
	f.StringVar(&wifiSSID, "wifi-ssid", "", "Home wifi network the device should join")
	f.StringVar(&wifiPassword, "wifi-password", "", "Home wifi password")
	f.BoolVar(&noWifiConfiguration, "no-wifi-configuration", false, "Skip the pairing network; the device is already on your wifi")
	f.StringVar(&deviceIP, "device", "", "Device IP address (skips discovery)")
	f.StringVar(&localIP, "local-ip", "", "IP of this computer as seen by the device (default: detected)")
	f.BoolVar(&postFlashWifi, "post-flash-wifi", false, "Configure Tasmota's wifi through its tasmota_* network after flashing")
}

// flashCmd provisions and flashes one device
var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Flash Tasmota onto a Sonoff device",
	Long: `Flash Tasmota onto a Sonoff device in DIY mode.

This command will:
  1. Join the device's ITEAD-* network and send it your wifi credentials
  2. Rejoin your wifi and wait for the device to follow
  3. Find the device with mDNS (or use --device)
  4. Download the Tasmota lite image and compute its SHA-256
  5. Unlock OTA updates on the device
  6. Serve the image and tell the device to fetch it
  7. Wait until the device has downloaded the whole image

If the ITEAD-* network is not around, the device may already run Tasmota
waiting on its tasmota_* network; its wifi is configured instead.`,
	Example: `  # Interactive run
  sonoff-tasmotizer

  # Unattended, device already on the network
  sonoff-tasmotizer flash --auto --no-wifi-configuration --device 192.168.1.40

  # Unattended from scratch, configure Tasmota wifi afterwards
  sonoff-tasmotizer flash --auto --wifi-ssid HomeNet --wifi-password secret --post-flash-wifi`,
	RunE: runFlash,
}

func runFlash(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configPath)
	if err != nil {
		ui.PrintFailure("Invalid configuration", err, []string{
			"Fix or remove " + configFile(),
			"Run 'sonoff-tasmotizer config init' for a fresh file",
		})
		return err
	}

	if err := validateFlashFlags(); err != nil {
		ui.PrintFailure("Invalid arguments", err, nil)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.GetLogger()

	session := provision.NewSession()
	session.AutoMode = autoMode
	session.AlwaysRedownloadFirmware = cfg.Firmware.AlwaysRedownload && !noUpdateBin
	session.ServerPort = cfg.Server.Port
	if cmd.Flags().Changed("port") {
		session.ServerPort = serverPort
	}
	if localIP != "" {
		session.LocalIP = localIP
	}

	var adapter wifi.Adapter
	if !noWifiConfiguration || postFlashWifi {
		a, err := wifi.New(wifi.Backend(cfg.Wifi.Backend), cfg.Wifi.Interface, logger)
		if err != nil {
			logger.Warn("wifi control unavailable", zap.Error(err))
			ui.PrintWarning("Wifi control unavailable", map[string]string{
				"Reason": err.Error(),
				"Hint":   "Connect the device to your wifi yourself and pass --no-wifi-configuration",
			})
		} else {
			adapter = a
		}
	}

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return err
	}

	o := provision.New(session, adapter, deviceapi.NewClient(), newResolver(cfg, logger), fetcher)
	o.Options = provision.Options{
		SkipWifiConfiguration: noWifiConfiguration,
		HomeSSID:              firstNonEmpty(wifiSSID, cfg.Wifi.HomeSSID),
		HomePassword:          wifiPassword,
		DeviceIP:              deviceIP,
		PostFlashWifi:         postFlashWifi,
		ServerHost:            cfg.Server.Host,
	}
	o.Delays = delaysFromConfig(cfg.Delays)
	o.Logger = logger

	prompter := ui.NewPrompter().WithContext(ctx)
	reporter := ui.NewFlashReporter(os.Stdout)
	o.Prompter = prompter
	o.Reporter = reporter
	o.Sleeper = ui.NewWaiter()

	mode := "interactive"
	if autoMode {
		mode = "automatic"
	}
	params := map[string]string{
		"Mode":     mode,
		"Local IP": firstNonEmpty(session.LocalIP, "unknown"),
		"Port":     strconv.Itoa(session.ServerPort),
		"Session":  session.ID,
	}
	if deviceIP != "" {
		params["Device"] = deviceIP
	}
	ui.PrintCommandHeader("Flash Tasmota", commandLine(cmd), params)

	if !autoMode {
		ok, err := prompter.FlashConfirmation()
		if err != nil || !ok {
			fmt.Println(ui.StepNoteStyle.Render("  Operation cancelled."))
			return nil
		}
	}

	err = o.Run(ctx)
	if err != nil {
		reporter.Fail(err)
		switch {
		case errors.Is(err, provision.ErrDeclined):
			fmt.Println()
			fmt.Println(ui.StepNoteStyle.Render("  Operation cancelled."))
			return nil
		case ctx.Err() != nil:
			ui.PrintWarning("Interrupted", map[string]string{"State": o.State().Title()})
			return ctx.Err()
		case deviceapi.IsValidationError(err):
			ui.PrintFailure("Invalid input", err, nil)
			return err
		}
		ui.PrintFailure("Flash failed", err, provision.Troubleshooting(err))
		return err
	}

	if session.FirmwareChecksum == "" {
		// Ended through the tasmota_* network
		details := map[string]string{
			"Next step": "Find the device on your network and open its web UI",
			"Help":      urls.TasmotaInitialConfiguration,
		}
		if session.SavedCredentials != nil {
			details["Network"] = session.SavedCredentials.SSID
		}
		ui.PrintSuccess("Tasmota wifi configured", details)
		return nil
	}

	details := map[string]string{
		"Device":   session.TargetDeviceIP,
		"Firmware": humanize.Bytes(uint64(session.FirmwareSize)),
		"SHA-256":  shortSum(session.FirmwareChecksum),
	}
	if !postFlashWifi {
		details["Next step"] = "Join the tasmota_* network and open http://192.168.4.1"
		details["Help"] = urls.TasmotaInitialConfiguration
	}
	ui.PrintSuccess("Tasmota flashed", details)
	return nil
}

func validateFlashFlags() error {
	if deviceIP != "" {
		if err := deviceapi.ValidateIP(deviceIP); err != nil {
			return fmt.Errorf("--device: %w", err)
		}
	}
	if localIP != "" {
		if err := deviceapi.ValidateIP(localIP); err != nil {
			return fmt.Errorf("--local-ip: %w", err)
		}
	}
	if serverPort < 0 || serverPort > 65535 {
		return fmt.Errorf("--port: %d is out of range", serverPort)
	}
	if wifiSSID != "" {
		if err := deviceapi.ValidateWiFiSSID(wifiSSID); err != nil {
			return fmt.Errorf("--wifi-ssid: %w", err)
		}
	}
	if wifiPassword != "" {
		if err := deviceapi.ValidateWiFiPassword(wifiPassword); err != nil {
			return fmt.Errorf("--wifi-password: %w", err)
		}
	}
	return nil
}

// scanCmd lists DIY mode devices on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Sonoff DIY devices on the network",
	Long: `Scan for Sonoff devices in DIY mode using mDNS/DNS-SD discovery.

Devices in DIY mode announce the _ewelink._tcp service on your network.
This command lists every device that answers within the timeout.`,
	Example: `  # Scan for 5 seconds (default)
  sonoff-tasmotizer scan

  # Longer scan for busy networks
  sonoff-tasmotizer scan --timeout 15s`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Scan timeout (default: from config, 5s)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := newResolver(cfg, logging.GetLogger())
	if scanTimeout > 0 {
		resolver.Timeout = scanTimeout
	}

	fmt.Printf("Scanning for Sonoff devices (timeout: %s)...\n\n", resolver.Timeout)

	devices, err := resolver.Scan(ctx)
	if err != nil {
		ui.PrintFailure("Scan failed", err, nil)
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(devices) == 0 {
		ui.PrintFailure("No devices found", discovery.ErrDiscoveryTimeout, provision.Troubleshooting(discovery.ErrDiscoveryTimeout))
		return nil
	}

	keyStyle := lipgloss.NewStyle().Foreground(ui.MutedColor).Width(11)
	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Println(ui.HeaderTitleStyle.UnsetPaddingLeft().Render(fmt.Sprintf("%d. %s", i+1, firstNonEmpty(d.Hostname, d.Instance))))
		fmt.Println("   " + keyStyle.Render("Device ID:") + " " + d.ID)
		fmt.Println("   " + keyStyle.Render("Address:") + " " + net.JoinHostPort(d.IP, strconv.Itoa(d.Port)))
		if len(d.Metadata) > 0 {
			fmt.Println("   " + keyStyle.Render("Metadata:") + " " + formatMetadata(d.Metadata))
		}
		fmt.Println()
	}

	fmt.Println("Use 'sonoff-tasmotizer info --device <ip>' to view device details")
	fmt.Println("Use 'sonoff-tasmotizer flash --device <ip>' to flash a device")
	return nil
}

// infoCmd prints what the DIY mode API reports
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device information",
	Long: `Query the DIY mode API of a device and show what it reports:
device ID, firmware version, OTA unlock state and wifi signal.

Without --device the device is found with mDNS.`,
	Example: `  # Info with discovery
  sonoff-tasmotizer info

  # Info for a known address, raw JSON for scripting
  sonoff-tasmotizer info --device 192.168.1.40 --json`,
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().StringVar(&deviceIP, "device", "", "Device IP address (skips discovery)")
	infoCmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw JSON only")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ip := deviceIP
	if ip == "" {
		ip, err = newResolver(cfg, logging.GetLogger()).ResolveDeviceIP(ctx)
		if err != nil {
			ui.PrintFailure("Device not found", err, provision.Troubleshooting(err))
			return err
		}
	} else if err := deviceapi.ValidateIP(ip); err != nil {
		return fmt.Errorf("--device: %w", err)
	}

	info, err := deviceapi.NewClient().GetInfo(ctx, ip)
	if err != nil {
		ui.PrintFailure("Could not read device info", err, []string{deviceapi.GetTroubleshootingHint(err)})
		return err
	}

	if rawJSON {
		fmt.Println(string(info.Raw))
		return nil
	}

	unlocked := "no"
	if info.OTAUnlock {
		unlocked = "yes"
	}
	ui.PrintSuccess("Device "+ip, map[string]string{
		"Device ID":  info.DeviceID,
		"Firmware":   info.FWVersion,
		"OTA unlock": unlocked,
		"Wifi":       fmt.Sprintf("%s (%d dBm)", info.SSID, info.SignalStrength),
	})
	fmt.Println()
	fmt.Println(ui.NewJSONOutput(info.Raw).SetTitle("DIY mode info").Render())
	return nil
}

// serveCmd runs the firmware server on its own
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cached firmware image",
	Long: `Run the firmware server without provisioning a device.

Useful when the flash request is sent by other means. The server reports
download progress from range requests, publishes it on /events as
websocket messages and exposes Prometheus metrics on /metrics.
It stops once a device has fetched the whole image, or on Ctrl-C.`,
	Example: `  # Serve on the default port
  sonoff-tasmotizer serve

  # Serve on another port
  sonoff-tasmotizer serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serverPort, "port", server.DefaultPort, "Server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := newFetcher(cfg, logging.GetLogger())
	if err != nil {
		return err
	}

	size := int64(server.DefaultFirmwareSize)
	sum := ""
	if s, n, err := firmware.Checksum(fetcher.Path); err == nil {
		sum, size = s, n
	} else {
		ui.PrintWarning("No cached firmware", map[string]string{
			"Path": fetcher.Path,
			"Hint": "Run 'sonoff-tasmotizer download' first",
		})
	}

	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port = serverPort
	}

	reporter := ui.NewFlashReporter(os.Stdout)
	srv := server.New(&server.Config{
		Host:         cfg.Server.Host,
		Port:         port,
		Dir:          fetcher.Dir(),
		FirmwareSize: size,
		SettleDelay:  cfg.Delays.CompletionSettle,
		OnProgress:   reporter.Progress,
	})
	if err := srv.Start(); err != nil {
		ui.PrintFailure("Server failed to start", err, []string{
			"Another process may be using port " + strconv.Itoa(port),
			"Pick another one with --port",
		})
		return err
	}

	params := map[string]string{
		"Address": srv.Addr().String(),
		"Image":   fetcher.Path,
	}
	if sum != "" {
		params["SHA-256"] = sum
	}
	if ip := provision.DetectLocalIP(); ip != "" {
		params["Download URL"] = (&provision.Session{LocalIP: ip}).DownloadURL(listenPort(srv.Addr(), port), firmware.FileName)
	}
	ui.PrintCommandHeader("Firmware Server", commandLine(cmd), params)

	select {
	case <-srv.Done():
		ui.PrintSuccess("Firmware served", map[string]string{"Size": humanize.Bytes(uint64(size))})
	case <-ctx.Done():
		fmt.Println()
		fmt.Println(ui.StepNoteStyle.Render("  Stopped."))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// downloadCmd fetches the firmware into the cache
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the Tasmota firmware image",
	Long: `Download the Tasmota lite image into the local cache and print its SHA-256.

An existing image is kept unless --force is given.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&forceDownload, "force", false, "Download even if an image is cached")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := newFetcher(cfg, logging.GetLogger())
	if err != nil {
		return err
	}

	ui.PrintCommandHeader("Download Firmware", commandLine(cmd), map[string]string{
		"URL":  fetcher.URL,
		"Path": fetcher.Path,
	})

	bar := ui.NewTransferBar(ui.GetTerminalWidth())
	lastPct := -1
	fetcher.OnProgress = func(written, total int64) {
		pct := 0
		if total > 0 {
			pct = server.Percentage(written, total)
		}
		if pct == lastPct && total > 0 {
			return
		}
		lastPct = pct
		fmt.Print("\r" + bar.Render(written, total, pct))
	}

	img, err := fetcher.EnsureLatest(ctx, forceDownload)
	if lastPct >= 0 {
		fmt.Println()
	}
	if err != nil {
		ui.PrintFailure("Download failed", err, provision.Troubleshooting(err))
		return err
	}

	source := "downloaded"
	if img.Cached {
		source = "cache"
	}
	ui.PrintSuccess("Firmware ready", map[string]string{
		"Path":    img.Path,
		"Size":    humanize.Bytes(uint64(img.Size)),
		"SHA-256": img.SHA256,
		"Source":  source,
	})
	return nil
}

// --- helpers ---

func newFetcher(cfg *config.Config, logger *zap.Logger) (*firmware.Fetcher, error) {
	fetcher, err := firmware.NewFetcher(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to locate firmware cache: %w", err)
	}
	fetcher.URL = cfg.Firmware.URL
	return fetcher, nil
}

func newResolver(cfg *config.Config, logger *zap.Logger) *discovery.Resolver {
	r := discovery.NewResolver(logger)
	r.Timeout = cfg.Discovery.Timeout
	r.Service = cfg.Discovery.Service
	return r
}

// delaysFromConfig maps the config file's waits; the fallback and manual
// path waits are not configurable
func delaysFromConfig(d *config.DelayPrefs) provision.Delays {
	delays := provision.DefaultDelays()
	if d == nil {
		return delays
	}
	delays.FactoryAPSettle = d.FactoryAPSettle
	delays.DeviceJoin = d.DeviceJoin
	delays.UnlockPreWait = d.UnlockPreWait
	delays.FlashPreWait = d.FlashPreWait
	delays.CompletionSettle = d.CompletionSettle
	delays.WifiManagerStart = d.WifiManagerStart
	return delays
}

func listenPort(addr net.Addr, fallback int) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return fallback
}

func commandLine(cmd *cobra.Command) string {
	parts := []string{cmd.CommandPath()}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "wifi-password" {
			parts = append(parts, "--"+f.Name+"=***")
			return
		}
		if f.Value.Type() == "bool" {
			parts = append(parts, "--"+f.Name)
			return
		}
		parts = append(parts, "--"+f.Name+"="+f.Value.String())
	})
	return strings.Join(parts, " ")
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.GetConfigPath()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func shortSum(sum string) string {
	if len(sum) > 16 {
		return sum[:16] + "…"
	}
	return sum
}

func formatMetadata(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}
