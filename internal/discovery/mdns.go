package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type advertised by Sonoff devices in DIY mode
	ServiceType = "_ewelink._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultTimeout bounds a single resolve attempt
	DefaultTimeout = 5 * time.Second

	// DefaultPort is the DIY API port
	DefaultPort = 8081
)

// ErrDiscoveryTimeout is returned when no device answers before the deadline
var ErrDiscoveryTimeout = errors.New("no mDNS response before timeout")

// BrowseFunc starts an mDNS browse that delivers entries until ctx is done.
// It matches (*zeroconf.Resolver).Browse.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Resolver looks up the device address over mDNS
type Resolver struct {
	// Timeout is the maximum time to wait for an answer
	Timeout time.Duration

	// Service and Domain select what is browsed
	Service string
	Domain  string

	// Browse defaults to a fresh zeroconf resolver per call
	Browse BrowseFunc

	Logger *zap.Logger

	// onTeardown runs inside the once-guarded teardown (tests)
	onTeardown func()
}

// NewResolver creates a resolver with default settings
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		Timeout: DefaultTimeout,
		Service: ServiceType,
		Domain:  ServiceDomain,
		Browse:  zeroconfBrowse,
		Logger:  logger,
	}
}

// ResolveDeviceIP returns the address of the first device that answers.
// Each call is independent; the browse is torn down exactly once on
// whichever path finishes first.
func (r *Resolver) ResolveDeviceIP(ctx context.Context) (string, error) {
	device, err := r.ResolveDevice(ctx)
	if err != nil {
		return "", err
	}
	return device.IP, nil
}

// ResolveDevice is ResolveDeviceIP returning the full Device
func (r *Resolver) ResolveDevice(ctx context.Context) (*Device, error) {
	var found *Device
	err := r.browse(ctx, func(d *Device) bool {
		found = d
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrDiscoveryTimeout
	}
	return found, nil
}

// Scan collects every device that answers before the timeout.
// Devices are de-duplicated by ID (or IP when the ID is unknown).
func (r *Resolver) Scan(ctx context.Context) ([]*Device, error) {
	devices := make([]*Device, 0)
	seen := make(map[string]bool)

	err := r.browse(ctx, func(d *Device) bool {
		key := d.ID
		if key == "" {
			key = d.IP
		}
		if !seen[key] {
			seen[key] = true
			devices = append(devices, d)
		}
		return true
	})
	if err != nil && !errors.Is(err, ErrDiscoveryTimeout) {
		return nil, err
	}

	return devices, nil
}

// browse runs one browse session, calling visit for each parsed device until
// visit returns false or the timeout expires. It returns ErrDiscoveryTimeout
// when the deadline ends the session and ctx.Err() when the caller cancels.
func (r *Resolver) browse(ctx context.Context, visit func(*Device) bool) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	browseFn := r.Browse
	if browseFn == nil {
		browseFn = zeroconfBrowse
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			cancel()
			if r.onTeardown != nil {
				r.onTeardown()
			}
		})
	}
	defer teardown()

	service := r.Service
	if service == "" {
		service = ServiceType
	}
	domain := r.Domain
	if domain == "" {
		domain = ServiceDomain
	}

	logger.Debug("browsing for devices",
		zap.String("service", service),
		zap.Duration("timeout", timeout),
	)

	entries := make(chan *zeroconf.ServiceEntry)
	if err := browseFn(browseCtx, service, domain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				// Browser closed early; keep waiting for the deadline
				entries = nil
				continue
			}
			device := parseServiceEntry(entry)
			if device == nil {
				continue
			}
			logger.Info("device answered",
				zap.String("id", device.ID),
				zap.String("ip", device.IP),
			)
			if !visit(device) {
				teardown()
				return nil
			}
		case <-browseCtx.Done():
			teardown()
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrDiscoveryTimeout
		}
	}
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if the entry carries no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	if entry == nil {
		return nil
	}

	// Prefer IPv4
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	id := metadata["id"]
	if id == "" {
		id = deviceIDFromInstance(entry.Instance)
	}

	return &Device{
		ID:           id,
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Type:         metadata["type"],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
