// Package server implements the local HTTP server a Sonoff device downloads
// its replacement firmware from.
//
// # Progress from Range Requests
//
// During an OTA flash the device fetches the image in byte ranges. Each
// "Range: bytes=a-b" header tells how far the device has got: once the
// range is served it holds b+1 bytes (or a bytes for an open "bytes=a-"
// range). The server turns that offset into a percentage of the expected
// image size:
//
//	Percentage(b, size) = floor(b / size * 100)
//
// Progress is never stored beyond the highest value seen. Requests without a
// Range header are served normally and never count toward completion.
//
// # Completion
//
// The first time a request reaches 100%, the server waits a settle delay
// (5 seconds by default) so the device can finish writing, then fires the
// completion callback and closes Done(). This happens at most once per
// server lifetime.
//
// # Routes
//
//	GET /          "Hello World!"
//	GET /events    WebSocket feed of ProgressEvent JSON messages
//	GET /metrics   Prometheus metrics
//	GET /*         static files from Config.Dir
//
// # Usage Example
//
//	srv := server.New(&server.Config{
//	    Port:         3123,
//	    Dir:          fetcher.Dir(),
//	    FirmwareSize: image.Size,
//	    SettleDelay:  server.DefaultSettleDelay,
//	})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
//	<-srv.Done()
//
// Start binds the port synchronously, so the device can be told to download
// as soon as it returns.
package server
