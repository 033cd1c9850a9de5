package deviceapi

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// ValidateIP validates a device or host IP address
func ValidateIP(ip string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return NewValidationError("IP address cannot be empty")
	}
	if net.ParseIP(ip) == nil {
		return NewValidationError(fmt.Sprintf("invalid IP address: %q", ip))
	}
	return nil
}

// ValidateWiFiSSID validates a WiFi SSID.
// SSIDs must be non-empty and <= 32 characters (WiFi spec limit).
func ValidateWiFiSSID(ssid string) error {
	if ssid == "" {
		return NewValidationError("WiFi SSID cannot be empty")
	}
	if len(ssid) > 32 {
		return NewValidationError(fmt.Sprintf("WiFi SSID too long (max 32 chars): %d chars", len(ssid)))
	}
	return nil
}

// ValidateWiFiPassword validates a WiFi password.
// Empty means an open network; otherwise WPA2 requires 8-63 characters.
func ValidateWiFiPassword(password string) error {
	if password == "" {
		return nil
	}
	if len(password) < 8 {
		return NewValidationError(fmt.Sprintf("WPA2 password too short (min 8 chars): %d chars", len(password)))
	}
	if len(password) > 63 {
		return NewValidationError(fmt.Sprintf("WPA2 password too long (max 63 chars): %d chars", len(password)))
	}
	return nil
}

// ValidateSHA256 validates a hex encoded SHA-256 digest
func ValidateSHA256(sum string) error {
	if sum == "" {
		return ErrMissingChecksum
	}
	b, err := hex.DecodeString(sum)
	if err != nil || len(b) != 32 {
		return NewValidationError(fmt.Sprintf("invalid SHA-256 checksum: %q", sum))
	}
	return nil
}
