// Package provision drives a Sonoff device from its factory state to
// running Tasmota.
//
// # Flow
//
//	Init → JoinFactoryAp → PushHomeCredentialsToDevice → RejoinHomeNetwork
//	     → AwaitDeviceSettle → ResolveDeviceIp → ConfirmOrManualIp
//	     → PrepareFirmware → UnlockDevice → ServeAndFlash → AwaitCompletion → Done
//
// If the pairing AP cannot be joined or the credential push fails, the run
// switches to ManualProvisioning: it joins the tasmota_* AP of a device that
// already runs Tasmota and hands it the home credentials. Success there ends
// the run. If no such AP exists either, the run continues with discovery on
// the current network.
//
// Failures that end the run:
//
//   - the device does not answer the info call (ErrDeviceUnreachable)
//   - the firmware cannot be prepared
//   - the device refuses the flash request (ErrFlashRejected)
//   - the host cannot rejoin the home network
//
// A failed OTA unlock is reported and the flash is attempted anyway.
//
// # Collaborators
//
// The Orchestrator talks to the outside world only through interfaces
// (wifi.Adapter, DeviceAPI, Resolver, FirmwareSource, ProgressServer,
// Prompter, Sleeper, Reporter) so the whole flow runs in tests without
// hardware. Reporter.Progress is called from the firmware server's
// goroutines and must be safe for concurrent use.
//
// # Usage Example
//
//	session := provision.NewSession()
//	session.AutoMode = true
//
//	o := provision.New(session, adapter, deviceapi.NewClient(), resolver, fetcher)
//	o.Prompter = ui.NewPrompter()
//	o.Sleeper = ui.NewWaiter()
//	if err := o.Run(ctx); err != nil {
//	    ui.PrintFailure("Flash failed", err, provision.Troubleshooting(err))
//	}
package provision
