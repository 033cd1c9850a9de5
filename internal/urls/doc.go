// Package urls holds the documentation URLs printed by the CLI, in one place
// so they can be updated before a release.
//
// Usage:
//
//	import "github.com/tasmotizer/sonoff-tasmotizer/internal/urls"
//
//	fmt.Printf("DIY mode guide: %s\n", urls.DIYMode)
package urls
