package discovery

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func ewelinkEntry(instance, ip string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	entry.HostName = instance + ".local."
	entry.Port = 8081
	entry.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	entry.Text = []string{"txtvers=1", "id=" + instance[len("eWeLink_"):], "type=diy_plug", "apivers=1"}
	return entry
}

// fakeBrowse delivers entries after an optional delay and closes the
// channel once ctx is done, like zeroconf does.
func fakeBrowse(delay time.Duration, list ...*zeroconf.ServiceEntry) BrowseFunc {
	return func(ctx context.Context, _, _ string, entries chan<- *zeroconf.ServiceEntry) error {
		go func() {
			defer close(entries)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			for _, e := range list {
				select {
				case entries <- e:
				case <-ctx.Done():
					return
				}
			}
			<-ctx.Done()
		}()
		return nil
	}
}

func newTestResolver(timeout time.Duration, browse BrowseFunc, teardowns *int32) *Resolver {
	r := NewResolver(nil)
	r.Timeout = timeout
	r.Browse = browse
	r.onTeardown = func() { atomic.AddInt32(teardowns, 1) }
	return r
}

func TestResolveDeviceIP_Success(t *testing.T) {
	var teardowns int32
	r := newTestResolver(time.Second, fakeBrowse(0, ewelinkEntry("eWeLink_1000a1b2c3", "192.168.1.50")), &teardowns)

	ip, err := r.ResolveDeviceIP(context.Background())
	if err != nil {
		t.Fatalf("ResolveDeviceIP() error = %v", err)
	}
	if ip != "192.168.1.50" {
		t.Errorf("ResolveDeviceIP() = %q, want %q", ip, "192.168.1.50")
	}
	if got := atomic.LoadInt32(&teardowns); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestResolveDeviceIP_Timeout(t *testing.T) {
	var teardowns int32
	r := newTestResolver(30*time.Millisecond, fakeBrowse(0), &teardowns)

	start := time.Now()
	_, err := r.ResolveDeviceIP(context.Background())
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatalf("ResolveDeviceIP() error = %v, want ErrDiscoveryTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
	if got := atomic.LoadInt32(&teardowns); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestResolveDeviceIP_AnswerAfterTimeoutIgnored(t *testing.T) {
	var teardowns int32
	r := newTestResolver(20*time.Millisecond,
		fakeBrowse(200*time.Millisecond, ewelinkEntry("eWeLink_1000a1b2c3", "192.168.1.50")),
		&teardowns)

	if _, err := r.ResolveDeviceIP(context.Background()); !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatalf("ResolveDeviceIP() error = %v, want ErrDiscoveryTimeout", err)
	}
	if got := atomic.LoadInt32(&teardowns); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestResolveDeviceIP_RepeatedCallsIndependent(t *testing.T) {
	var teardowns int32
	r := newTestResolver(time.Second, fakeBrowse(0, ewelinkEntry("eWeLink_1000a1b2c3", "192.168.1.50")), &teardowns)

	for i := 0; i < 3; i++ {
		if _, err := r.ResolveDeviceIP(context.Background()); err != nil {
			t.Fatalf("call %d: ResolveDeviceIP() error = %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&teardowns); got != 3 {
		t.Errorf("teardown ran %d times over 3 calls, want 3", got)
	}
}

func TestResolveDeviceIP_SkipsEntriesWithoutAddress(t *testing.T) {
	var teardowns int32
	empty := zeroconf.NewServiceEntry("eWeLink_bad", ServiceType, ServiceDomain)
	r := newTestResolver(time.Second,
		fakeBrowse(0, empty, ewelinkEntry("eWeLink_1000ffffff", "10.0.0.9")),
		&teardowns)

	ip, err := r.ResolveDeviceIP(context.Background())
	if err != nil {
		t.Fatalf("ResolveDeviceIP() error = %v", err)
	}
	if ip != "10.0.0.9" {
		t.Errorf("ResolveDeviceIP() = %q, want %q", ip, "10.0.0.9")
	}
}

func TestResolveDeviceIP_Cancelled(t *testing.T) {
	var teardowns int32
	r := newTestResolver(time.Second, fakeBrowse(0), &teardowns)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.ResolveDeviceIP(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ResolveDeviceIP() error = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&teardowns); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestResolveDeviceIP_BrowseError(t *testing.T) {
	var teardowns int32
	browseErr := errors.New("no multicast interface")
	r := newTestResolver(time.Second, func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
		return browseErr
	}, &teardowns)

	if _, err := r.ResolveDeviceIP(context.Background()); !errors.Is(err, browseErr) {
		t.Errorf("ResolveDeviceIP() error = %v, want %v", err, browseErr)
	}
	if got := atomic.LoadInt32(&teardowns); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestScan_CollectsUniqueDevices(t *testing.T) {
	var teardowns int32
	r := newTestResolver(50*time.Millisecond, fakeBrowse(0,
		ewelinkEntry("eWeLink_1000aaaaaa", "192.168.1.50"),
		ewelinkEntry("eWeLink_1000bbbbbb", "192.168.1.51"),
		ewelinkEntry("eWeLink_1000aaaaaa", "192.168.1.50"),
	), &teardowns)

	devices, err := r.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Scan() found %d devices, want 2", len(devices))
	}
	if devices[0].ID != "1000aaaaaa" || devices[1].ID != "1000bbbbbb" {
		t.Errorf("device IDs = %q, %q", devices[0].ID, devices[1].ID)
	}
	if got := atomic.LoadInt32(&teardowns); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantID   string
		wantIP   string
		wantPort int
	}{
		{
			name:     "DIY device with IPv4",
			entry:    ewelinkEntry("eWeLink_1000a1b2c3", "192.168.1.50"),
			wantID:   "1000a1b2c3",
			wantIP:   "192.168.1.50",
			wantPort: 8081,
		},
		{
			name: "ID from instance when TXT lacks it",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("eWeLink_1000dddddd", ServiceType, ServiceDomain)
				e.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.5")}
				return e
			}(),
			wantID:   "1000dddddd",
			wantIP:   "10.0.0.5",
			wantPort: DefaultPort,
		},
		{
			name: "IPv6 only",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("eWeLink_1000eeeeee", ServiceType, ServiceDomain)
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
				e.Port = 8081
				return e
			}(),
			wantID:   "1000eeeeee",
			wantIP:   "fe80::1",
			wantPort: 8081,
		},
		{
			name: "prefers IPv4",
			entry: func() *zeroconf.ServiceEntry {
				e := ewelinkEntry("eWeLink_1000ffffff", "192.168.1.60")
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::2")}
				return e
			}(),
			wantID:   "1000ffffff",
			wantIP:   "192.168.1.60",
			wantPort: 8081,
		},
		{
			name:    "no address",
			entry:   zeroconf.NewServiceEntry("eWeLink_1000000000", ServiceType, ServiceDomain),
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if device != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", device)
				}
				return
			}
			if device == nil {
				t.Fatal("parseServiceEntry() = nil, want device")
			}
			if device.ID != tt.wantID {
				t.Errorf("ID = %v, want %v", device.ID, tt.wantID)
			}
			if device.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", device.IP, tt.wantIP)
			}
			if device.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", device.Port, tt.wantPort)
			}
		})
	}
}
