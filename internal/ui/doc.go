// Package ui provides terminal output for the sonoff-tasmotizer CLI.
//
// Components are rendered with Lipgloss. Questions are asked with huh forms
// and settle delays are shown as a Bubble Tea countdown. Everything else
// follows a print-and-move-on pattern so output stays readable when piped.
//
// # Components
//
//   - Header: command banner with the run parameters
//   - Progress: numbered step list, one line per provisioning state
//   - TransferBar: firmware download progress as the device fetches it
//   - Result: success, warning and failure boxes with troubleshooting
//   - RawOutput: device JSON for the info command
//
// # Provisioning Hooks
//
// FlashReporter, Prompter and Waiter implement provision.Reporter,
// provision.Prompter and provision.Sleeper:
//
//	o := provision.New(session, adapter, api, resolver, fetcher)
//	o.Reporter = ui.NewFlashReporter(os.Stdout)
//	o.Prompter = ui.NewPrompter().WithContext(ctx)
//	o.Sleeper = ui.NewWaiter()
//
// # Logging Integration
//
// Logging is controlled by TASMOTIZER_LOG_LEVEL. When unset, zap output is
// silent so the step list is not interleaved with log lines.
package ui
