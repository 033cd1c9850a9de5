// Package config provides user configuration for sonoff-tasmotizer.
//
// The configuration is a YAML file holding defaults for the flash command:
// firmware server port, firmware URL, discovery timeout, wifi backend and
// the settle delays between provisioning steps. Command line flags take
// precedence over the file, the file over built-in defaults.
//
// # Configuration File Location
//
// The file lives in the XDG config directory:
//   - Linux: $XDG_CONFIG_HOME/sonoff-tasmotizer/config.yaml or $HOME/.config/sonoff-tasmotizer/config.yaml
//   - macOS: $HOME/Library/Application Support/sonoff-tasmotizer/config.yaml
//   - Windows: %LOCALAPPDATA%\sonoff-tasmotizer\config.yaml
//
// # Example
//
//	version: 1
//	server:
//	  port: 3123
//	discovery:
//	  timeout: 5s
//	wifi:
//	  backend: auto
//	delays:
//	  device_join: 30s
//
// Missing sections take their defaults. Within the delays section a missing
// key means no wait.
//
// # Security
//
// The home wifi password is never written to this file.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	srv := server.New(&server.Config{Port: cfg.Server.Port})
package config
