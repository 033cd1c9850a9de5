package provision

import (
	"errors"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/deviceapi"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/discovery"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/firmware"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/urls"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/wifi"
)

const firmwareNote = "The device must run iTEAD firmware 3.6 or later. " +
	"The Sonoff Mini R2 ships with it, the Mini v1 may not. " +
	"If unsure, pair the device with the eWeLink app and upgrade it there first."

const diyModeSteps = `Enable DIY mode on the device:
  1. Press the device button for 5 seconds
  2. Wait about 4 seconds
  3. Press it for 5 more seconds, the LED keeps blinking
  4. Join the ITEAD-xxxxx wifi network (password 12345678)
  5. Open http://10.10.7.1 and enter your wifi credentials

The device and this computer must end up on the same network.`

// Troubleshooting returns bullet points for the user after a failed run
func Troubleshooting(err error) []string {
	var connErr *wifi.ConnectError
	var fetchErr *firmware.FetchError

	switch {
	case errors.Is(err, ErrDeviceUnreachable):
		return []string{
			"The device is not on the same network as this computer",
			"The device is not running firmware 3.6 or later",
			"The device is powered off",
			"The device is not in DIY mode",
			"Reboot the device and start again",
			"DIY mode guide: " + urls.DIYMode,
		}
	case errors.Is(err, discovery.ErrDiscoveryTimeout):
		return []string{
			"Hold the button 5 seconds, wait 2 seconds, hold it 5 more seconds",
			"Join the ITEAD-xxxxx network and enter your wifi at http://10.10.7.1",
			"Make sure this computer and the device share a network",
			"Firmware upgrade guide: " + urls.FirmwareUpgrade,
		}
	case errors.As(err, &connErr):
		return []string{
			"Check that wifi is enabled on this computer",
			"Put the device in pairing mode so its ITEAD-xxxxx network appears",
			"Run again with --no-wifi-configuration if the device is already on your network",
		}
	case errors.As(err, &fetchErr):
		return []string{
			"Check that this computer can reach " + fetchErr.URL,
			"Run the download command to retry fetching the firmware",
			"Release images: " + urls.TasmotaReleases,
		}
	case errors.Is(err, ErrFlashRejected):
		if deviceapi.IsNetworkError(err) {
			return []string{
				"The device stopped answering the flash request",
				"Check that it is still powered and on your network",
				"More help: " + urls.Troubleshooting,
			}
		}
		hints := []string{
			"Check that the device can reach this computer's IP (--local-ip)",
			"Make sure the firmware server port is not firewalled",
			"Power cycle the device and start again",
			"More help: " + urls.Troubleshooting,
		}
		if deviceapi.IsDeviceError(err) {
			hints = append([]string{deviceapi.GetTroubleshootingHint(err)}, hints...)
		}
		return hints
	case errors.Is(err, ErrNoPrompter):
		return []string{
			"Pass --wifi-ssid, --wifi-password and --device to run without prompts",
		}
	}

	var hints []string
	if hint := deviceapi.GetTroubleshootingHint(err); hint != "" {
		hints = append(hints, hint)
	}
	if deviceapi.IsRetryable(err) {
		hints = append(hints, "The error looks temporary. Run the command again")
	}
	return hints
}
