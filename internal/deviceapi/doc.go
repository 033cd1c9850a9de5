// Package deviceapi provides an HTTP client for the plaintext APIs a Sonoff
// device exposes during provisioning.
//
// # Surfaces
//
// Three endpoints are reachable at different stages:
//
//   - Pairing AP (ITEAD-*): POST http://10.10.7.1/ap_diy with {"ssid","password"}
//     stores home network credentials.
//   - DIY mode API on the home network: POST http://{ip}:8081/zeroconf/{info,
//     ota_unlock, ota_flash} with {"deviceid":"","data":{...}}.
//   - Tasmota wifi manager (tasmota_*): GET http://192.168.4.1/wi?s1=..&p1=..
//     after flashing.
//
// Every reply from the first two carries an integer "error" field; 0 means
// success.
//
// # Usage Example
//
//	client := deviceapi.NewClient()
//	info, err := client.GetInfo(ctx, "192.168.1.50")
//	if err != nil {
//	    fmt.Println(deviceapi.GetTroubleshootingHint(err))
//	    return err
//	}
//	if !info.OTAUnlock {
//	    ok, err := client.UnlockOTA(ctx, "192.168.1.50")
//	    ...
//	}
//	ok, err := client.FlashFirmware(ctx, "192.168.1.50",
//	    "http://192.168.1.10:3123/tasmota-lite.bin", sum)
//
// # Error Handling
//
// Operations return a boolean or pointer result alongside an error. A
// *DeviceError classifies the failure (timeout, connection refused, HTTP
// status, parse, device error code) and GetTroubleshootingHint turns it into
// guidance for the user. FlashFirmware returns ErrMissingChecksum without
// any network traffic when no checksum is known.
//
// # Thread Safety
//
// Client is safe for concurrent use once configured.
package deviceapi
