package deviceapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantType    ErrorType
		wantSubtype NetworkErrorSubtype
		wantRetry   bool
	}{
		{
			name:        "deadline exceeded",
			err:         context.DeadlineExceeded,
			wantType:    ErrTypeTimeout,
			wantSubtype: NetworkErrorTimeout,
			wantRetry:   true,
		},
		{
			name: "connection refused inside url error",
			err: &url.Error{Op: "Post", URL: "http://10.0.0.5:8081/zeroconf/info", Err: &net.OpError{
				Op:  "dial",
				Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
			}},
			wantType:    ErrTypeConnectionRefused,
			wantSubtype: NetworkErrorConnectionRefused,
			wantRetry:   true,
		},
		{
			name:        "host unreachable",
			err:         &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)},
			wantType:    ErrTypeNetwork,
			wantSubtype: NetworkErrorHostUnreachable,
			wantRetry:   true,
		},
		{
			name:        "dns failure",
			err:         &net.DNSError{Name: "sonoff.local", Err: "no such host"},
			wantType:    ErrTypeDNS,
			wantSubtype: NetworkErrorDNS,
			wantRetry:   false,
		},
		{
			name:        "generic",
			err:         errors.New("boom"),
			wantType:    ErrTypeNetwork,
			wantSubtype: NetworkErrorGeneral,
			wantRetry:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetworkError(tt.err, "10.0.0.5")
			if got.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", got.Type, tt.wantType)
			}
			if got.NetworkSubtype != tt.wantSubtype {
				t.Errorf("NetworkSubtype = %v, want %v", got.NetworkSubtype, tt.wantSubtype)
			}
			if got.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetry)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not wrap %v", tt.err)
			}
		})
	}

	if ClassifyNetworkError(nil, "") != nil {
		t.Error("ClassifyNetworkError(nil) should be nil")
	}
}

func TestNewDeviceCodeError(t *testing.T) {
	err := NewDeviceCodeError("ota_flash", 403, "10.0.0.5")

	if err.Code != 403 {
		t.Errorf("Code = %d, want 403", err.Code)
	}
	if !strings.Contains(err.Error(), "not unlocked") {
		t.Errorf("Error() = %q, want known code description", err.Error())
	}

	unknown := NewDeviceCodeError("info", 999, "")
	if !strings.Contains(unknown.Error(), "unrecognized") {
		t.Errorf("Error() = %q, want unrecognized description", unknown.Error())
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("flash: %w", NewDeviceCodeError("ota_flash", 424, ""))

	if !IsDeviceError(wrapped) {
		t.Error("IsDeviceError() should see through wrapping")
	}
	if IsNetworkError(wrapped) {
		t.Error("IsNetworkError() = true for a device code error")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("IsRetryable() = true for an unknown error")
	}
	if !IsValidationError(NewValidationError("bad")) {
		t.Error("IsValidationError() = false for a validation error")
	}
}

func TestGetTroubleshootingHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing checksum", ErrMissingChecksum, "checksum"},
		{"timeout", &DeviceError{Type: ErrTypeTimeout}, "firmware 3.6"},
		{"refused", &DeviceError{Type: ErrTypeConnectionRefused}, "DIY mode"},
		{"locked", NewDeviceCodeError("ota_flash", 403, ""), "locked"},
		{"download failed", NewDeviceCodeError("ota_flash", 424, ""), "download"},
		{"unreachable", &DeviceError{Type: ErrTypeNetwork, NetworkSubtype: NetworkErrorHostUnreachable, DeviceIP: "10.0.0.5"}, "ping 10.0.0.5"},
		{"unknown", errors.New("boom"), "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetTroubleshootingHint(tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("GetTroubleshootingHint() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestGetShortErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&DeviceError{Type: ErrTypeTimeout}, "Device not responding (timeout)"},
		{&DeviceError{Type: ErrTypeHTTP, StatusCode: 500}, "Device error (HTTP 500)"},
		{NewDeviceCodeError("ota_unlock", 503, ""), "Device rejected request (code 503)"},
		{errors.New("plain"), "plain"},
	}

	for _, tt := range tests {
		if got := GetShortErrorMessage(tt.err); got != tt.want {
			t.Errorf("GetShortErrorMessage() = %q, want %q", got, tt.want)
		}
	}
}
