// Sonoff-tasmotizer replaces the stock firmware of Sonoff DIY devices with
// Tasmota over the air.
//
// It puts the device on your wifi through its ITEAD-* pairing network,
// finds it with mDNS, unlocks OTA updates through the DIY mode API and
// serves the Tasmota image for the device to download. No serial adapter
// or soldering is needed.
//
// Usage:
//
//	sonoff-tasmotizer [command] [flags]
//
// Running without a command flashes a device.
// See 'sonoff-tasmotizer --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tasmotizer/sonoff-tasmotizer/internal/config"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/logging"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/urls"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	logLevel   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sonoff-tasmotizer",
	Short: "Flash Tasmota onto Sonoff DIY devices over wifi",
	Long: `Replace the eWeLink firmware of a Sonoff DIY device with Tasmota, over the air.

The device must run firmware 3.6 or later. The flash command joins the
device's ITEAD-* pairing network, hands it your wifi credentials, finds it
on your network, unlocks OTA updates and serves it the Tasmota image.

If no command is specified, flash runs.

DIY mode guide: ` + urls.DIYMode,
	Version: version.Full(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silent unless asked for, so log lines don't break the step list
		if logLevel != "" {
			return logging.Initialize(logLevel)
		}
		return logging.InitializeFromEnv()
	},
	RunE: runFlash,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides TASMOTIZER_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: "+config.GetConfigPath()+")")

	addFlashFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.Detailed())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Manage the sonoff-tasmotizer configuration file.

The file holds defaults for the flash command: firmware server port,
firmware URL, discovery timeout, wifi backend and the waits between steps.
Command line flags take precedence over it.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		path, err := config.CreateDefaultConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Run: func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			fmt.Println(configPath)
			return
		}
		fmt.Println(config.GetConfigPath())
	},
}
