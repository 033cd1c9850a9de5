// Package wifi controls the host's wifi interface during provisioning.
//
// Flashing a Sonoff device means hopping between networks: the device's
// factory pairing AP (ITEAD-*), the home network while the device pulls
// firmware, and Tasmota's post-flash AP (tasmota_*). The Adapter interface
// covers the three operations the provisioning flow needs: read the current
// network, scan, and connect.
//
// Two backends are provided. Desktop shells out to NetworkManager's nmcli.
// Embedded drives wpa_supplicant via wpa_cli and is selected automatically
// on a Raspberry Pi. Both run commands through a Runner so tests can replay
// captured output.
//
//	adapter, err := wifi.New(wifi.BackendAuto, "", logger)
//	res, err := wifi.JoinMatching(ctx, adapter, wifi.FactoryAPPrefix, wifi.FactoryAPPassword, logger)
//	if err != nil {
//	    var ce *wifi.ConnectError
//	    if errors.As(err, &ce) { fmt.Println(ce.Seen) }
//	}
package wifi
