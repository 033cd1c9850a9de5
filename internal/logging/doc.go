// Package logging provides structured logging for sonoff-tasmotizer.
//
// This package wraps a zap logger with convenience functions for the patterns
// used throughout the tool: state machine transitions, device API calls, and
// firmware transfer progress observed by the local file server.
//
// # Silent by Default
//
// The CLI renders its own styled output, so zap logging is disabled unless a
// level is requested with --log-level or the TASMOTIZER_LOG_LEVEL environment
// variable. Logs go to stderr so they never interleave with prompts on stdout.
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// # Structured Logging
//
//	logging.Info("Device found",
//	    zap.String("ip", "192.168.1.50"),
//	    zap.String("service", "_ewelink._tcp"),
//	)
//
// Components that are constructed explicitly (wifi adapters, the mDNS
// resolver, the firmware fetcher and the provisioning orchestrator) take a
// *zap.Logger and fall back to GetLogger().
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize should be
// called once at startup before any goroutines log.
package logging
