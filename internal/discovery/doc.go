// Package discovery locates Sonoff devices on the local network via mDNS.
//
// A Sonoff in DIY mode that has joined the home network advertises an
// "_ewelink._tcp" service. Resolver browses for it with a bounded wait
// (5 seconds by default) and returns the first address that answers.
//
// # Usage Example
//
//	r := discovery.NewResolver(logger)
//	ip, err := r.ResolveDeviceIP(ctx)
//	if errors.Is(err, discovery.ErrDiscoveryTimeout) {
//	    // ask the user for the address instead
//	}
//
// Scan collects every device that answers within the timeout and backs the
// scan command.
//
// # Teardown
//
// Each call owns one browse session. The session is cancelled exactly once,
// either when a device answers or when the deadline fires, so late answers
// are dropped and repeated calls never share state.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - The device and the host must be on the same network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
