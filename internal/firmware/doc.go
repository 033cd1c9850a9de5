// Package firmware downloads the Tasmota lite image and computes its SHA-256.
//
// The image lives under the user config directory
// (~/.config/sonoff-tasmotizer/public/tasmota-lite.bin on Linux) and that
// directory is what the local file server exposes to the device. Downloads
// go to a temp file in the same directory and are renamed into place, so a
// failed transfer never leaves a partial image behind.
package firmware
