package deviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/logging"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/version"
	"go.uber.org/zap"
)

const (
	// DefaultFactoryURL is the address of the device on its own pairing AP
	DefaultFactoryURL = "http://10.10.7.1"

	// DefaultTasmotaURL is the address of Tasmota on its post-flash AP
	DefaultTasmotaURL = "http://192.168.4.1"

	// DefaultPort is the DIY mode API port
	DefaultPort = 8081

	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultProvisionTimeout bounds the credential pushes over the device APs
	DefaultProvisionTimeout = 15 * time.Second

	// maxResponseSize caps how much of a reply is read
	maxResponseSize = 1 << 20
)

// Client talks to a Sonoff device over its three HTTP surfaces: the pairing
// AP, the DIY mode API on the home network, and Tasmota's wifi manager.
type Client struct {
	// FactoryURL is the base URL used while joined to the ITEAD-* AP
	FactoryURL string

	// TasmotaURL is the base URL used while joined to the tasmota_* AP
	TasmotaURL string

	// Port is the DIY mode API port
	Port int

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// ProvisionTimeout bounds PushFactoryCredentials and PushHomeCredentials
	ProvisionTimeout time.Duration
}

// NewClient creates a device API client with default endpoints
func NewClient() *Client {
	return &Client{
		FactoryURL:       DefaultFactoryURL,
		TasmotaURL:       DefaultTasmotaURL,
		Port:             DefaultPort,
		HTTPClient:       &http.Client{Timeout: DefaultTimeout},
		ProvisionTimeout: DefaultProvisionTimeout,
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// controlURL returns the DIY API URL for an endpoint on ip
func (c *Client) controlURL(ip, endpoint string) string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s/zeroconf/%s", net.JoinHostPort(ip, strconv.Itoa(port)), endpoint)
}

// PushFactoryCredentials sends home network credentials to a device in
// pairing mode. Returns true iff the device answers with error code 0.
func (c *Client) PushFactoryCredentials(ctx context.Context, ssid, password string) (bool, error) {
	if err := ValidateWiFiSSID(ssid); err != nil {
		return false, err
	}

	ctx, cancel := c.provisionContext(ctx)
	defer cancel()

	endpoint := c.FactoryURL + "/ap_diy"
	body, err := json.Marshal(FactoryCredentials{SSID: ssid, Password: password})
	if err != nil {
		return false, NewParseError("failed to encode credentials", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, NewNetworkError("failed to create request", err, "")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, NewNetworkError("pairing AP unreachable", err, "")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, NewHTTPError(resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	var reply factoryReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&reply); err != nil {
		return false, NewParseError("failed to parse pairing reply", err)
	}

	logging.LogDeviceCall(http.MethodPost, endpoint, resp.StatusCode, reply.Error)

	if reply.Error != 0 {
		return false, NewDeviceCodeError("ap_diy", reply.Error, "")
	}
	return true, nil
}

// GetInfo fetches the device state. The result is never cached so OTA
// unlock checks always see fresh data. Returns nil info on any failure.
func (c *Client) GetInfo(ctx context.Context, ip string) (*DeviceInfo, error) {
	resp, err := c.call(ctx, ip, "info", struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.Error != 0 {
		return nil, NewDeviceCodeError("info", resp.Error, ip)
	}

	info, err := parseDeviceInfo(resp.Data)
	if err != nil {
		return nil, NewParseError("failed to parse device info", err)
	}
	return info, nil
}

// UnlockOTA asks the device to allow OTA flashing.
// Returns true iff the device answers with error code 0.
func (c *Client) UnlockOTA(ctx context.Context, ip string) (bool, error) {
	resp, err := c.call(ctx, ip, "ota_unlock", struct{}{})
	if err != nil {
		return false, err
	}
	if resp.Error != 0 {
		return false, NewDeviceCodeError("ota_unlock", resp.Error, ip)
	}
	return true, nil
}

// FlashFirmware tells the device to download and install the image at
// downloadURL. An empty checksum fails with ErrMissingChecksum and a
// malformed one with a validation error, both without contacting the device.
func (c *Client) FlashFirmware(ctx context.Context, ip, downloadURL, sha256sum string) (bool, error) {
	if err := ValidateSHA256(sha256sum); err != nil {
		logging.Warn("refusing to flash without a valid firmware checksum",
			zap.String("ip", ip),
			zap.String("download_url", downloadURL),
			zap.Error(err),
		)
		return false, err
	}

	resp, err := c.call(ctx, ip, "ota_flash", FlashRequest{
		DownloadURL: downloadURL,
		SHA256Sum:   sha256sum,
	})
	if err != nil {
		return false, err
	}
	if resp.Error != 0 {
		return false, NewDeviceCodeError("ota_flash", resp.Error, ip)
	}
	return true, nil
}

// PushHomeCredentials submits home network credentials to Tasmota's wifi
// manager on its post-flash AP. Any 2xx answer is success; Tasmota replies
// with an HTML page and then reboots.
func (c *Client) PushHomeCredentials(ctx context.Context, ssid, password string) (bool, error) {
	if err := ValidateWiFiSSID(ssid); err != nil {
		return false, err
	}

	ctx, cancel := c.provisionContext(ctx)
	defer cancel()

	endpoint := c.TasmotaURL + "/wi?" + HomeCredentials{SSID: ssid, Password: password}.ToQuery().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, NewNetworkError("failed to create request", err, "")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, NewNetworkError("Tasmota AP unreachable", err, "")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	logging.LogDeviceCall(http.MethodGet, c.TasmotaURL+"/wi", resp.StatusCode, 0)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, NewHTTPError(resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}
	return true, nil
}

// call performs one POST against the DIY API
func (c *Client) call(ctx context.Context, ip, endpoint string, data any) (*Response, error) {
	if err := ValidateIP(ip); err != nil {
		return nil, err
	}

	target := c.controlURL(ip, endpoint)
	body, err := json.Marshal(Request{DeviceID: "", Data: data})
	if err != nil {
		return nil, NewParseError("failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, NewNetworkError("failed to create request", err, ip)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(endpoint+" request failed", err, ip)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logging.LogDeviceCall(http.MethodPost, target, resp.StatusCode, -1)
		return nil, NewHTTPError(resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewNetworkError("failed to read response body", err, ip)
	}

	var reply Response
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, NewParseError("failed to parse JSON response", err)
	}

	logging.LogDeviceCall(http.MethodPost, target, resp.StatusCode, reply.Error)
	return &reply, nil
}

func (c *Client) provisionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.ProvisionTimeout
	if timeout <= 0 {
		timeout = DefaultProvisionTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
