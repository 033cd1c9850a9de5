package urls

// Documentation URLs for guides and troubleshooting

// DIYMode is ITEAD's guide to putting a Sonoff into DIY mode
const DIYMode = "https://sonoff.tech/diy-developer/"

// FirmwareUpgrade explains how to bring a device to firmware 3.6 or later
// through the eWeLink app, which DIY mode needs.
const FirmwareUpgrade = "https://help.sonoff.tech/docs/ewelink-upgrade"

// TasmotaInitialConfiguration covers joining the tasmota_* network and
// setting up wifi after a flash
const TasmotaInitialConfiguration = "https://tasmota.github.io/docs/Getting-Started/#initial-configuration"

// TasmotaReleases lists the OTA images the firmware fetcher downloads from
const TasmotaReleases = "https://ota.tasmota.com/tasmota/release/"

// Troubleshooting is the project's guide to common provisioning failures
const Troubleshooting = "https://github.com/tasmotizer/sonoff-tasmotizer#troubleshooting"

// Repository is the project home page
const Repository = "https://github.com/tasmotizer/sonoff-tasmotizer"
