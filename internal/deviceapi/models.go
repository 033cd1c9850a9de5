package deviceapi

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Request is the envelope every DIY mode API call uses
type Request struct {
	DeviceID string `json:"deviceid"`
	Data     any    `json:"data"`
}

// Response is the envelope returned by the DIY mode API
type Response struct {
	Seq   int             `json:"seq"`
	Error int             `json:"error"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FactoryCredentials is the body of the pairing AP provisioning call
type FactoryCredentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// factoryReply is the reply of the pairing AP provisioning call
type factoryReply struct {
	Error int `json:"error"`
}

// FlashRequest asks the device to fetch and install a firmware image
type FlashRequest struct {
	DownloadURL string `json:"downloadUrl"`
	SHA256Sum   string `json:"sha256sum"`
}

// DeviceInfo is the data block of a /zeroconf/info reply. Only OTAUnlock
// drives behavior; the rest is shown to the user.
type DeviceInfo struct {
	DeviceID       string `json:"deviceid"`
	Switch         string `json:"switch"`
	Startup        string `json:"startup"`
	Pulse          string `json:"pulse"`
	PulseWidth     int    `json:"pulseWidth"`
	SSID           string `json:"ssid"`
	BSSID          string `json:"bssid"`
	SignalStrength int    `json:"signalStrength"`
	FWVersion      string `json:"fwVersion"`
	OTAUnlock      bool   `json:"otaUnlock"`

	// Raw is the data block as received
	Raw json.RawMessage `json:"-"`
}

// String returns a one-line summary of the device
func (d *DeviceInfo) String() string {
	lock := "locked"
	if d.OTAUnlock {
		lock = "unlocked"
	}
	return fmt.Sprintf("device %s, firmware %s, switch %s, OTA %s", d.DeviceID, d.FWVersion, d.Switch, lock)
}

// parseDeviceInfo decodes the data block. Older firmware sends the data
// block as a JSON encoded string rather than an object.
func parseDeviceInfo(raw json.RawMessage) (*DeviceInfo, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = json.RawMessage(inner)
	}

	var info DeviceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	info.Raw = raw
	return &info, nil
}

// HomeCredentials is the query of Tasmota's wifi manager form
type HomeCredentials struct {
	SSID     string
	Password string
}

// ToQuery returns the /wi query. The secondary network stays empty, the
// masked password placeholder keeps Tasmota from overwriting it, and the
// hostname keeps Tasmota's default pattern.
func (h HomeCredentials) ToQuery() url.Values {
	q := url.Values{}
	q.Set("s1", h.SSID)
	q.Set("p1", h.Password)
	q.Set("s2", "")
	q.Set("p2", "****")
	q.Set("h", " %s-%04d")
	q.Set("c", "")
	q.Set("save", "")
	return q
}
