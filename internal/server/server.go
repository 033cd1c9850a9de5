package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultPort is the port the device downloads firmware from
	DefaultPort = 3123

	// DefaultFirmwareSize is used for progress when the image size is unknown
	DefaultFirmwareSize = 500000

	// DefaultSettleDelay is how long to wait after 100% before declaring completion
	DefaultSettleDelay = 5 * time.Second

	// Greeting is the body served at /
	Greeting = "Hello World!"
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int // 0 picks a free port

	// Dir is the directory served to the device
	Dir string

	// FirmwareSize is the image size used to turn offsets into percentages
	FirmwareSize int64

	// SettleDelay is the pause between reaching 100% and completion
	SettleDelay time.Duration

	// OnProgress is called for every range request (optional)
	OnProgress func(ProgressEvent)

	// OnComplete is called once per server lifetime (optional)
	OnComplete func()
}

// Server serves the firmware image and watches byte-range requests to tell
// when the device has fetched all of it
type Server struct {
	config     *Config
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	hub        *eventHub
	metrics    *metrics

	completeOnce sync.Once
	done         chan struct{}
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	mu         sync.Mutex
	maxPercent int
}

// New creates a new Server instance
func New(config *Config) *Server {
	if config.FirmwareSize <= 0 {
		config.FirmwareSize = DefaultFirmwareSize
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}

	s := &Server{
		config:  config,
		hub:     newEventHub(),
		metrics: newMetrics(),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.countRequests)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(Greeting))
	})
	r.Get("/events", s.hub.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	files := http.FileServer(http.Dir(s.config.Dir))
	r.With(s.trackProgress).Handle("/*", files)

	return r
}

// Handler returns the HTTP handler (for tests and embedding)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. The port is bound
// before Start returns, so a device may be pointed at it immediately.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	logging.Info("Firmware server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("dir", s.config.Dir),
		zap.Int64("firmware_size", s.config.FirmwareSize),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Firmware server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed once the transfer is declared complete
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Percentage returns the highest progress seen so far
func (s *Server) Percentage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPercent
}

// trackProgress derives progress from the Range header before serving
func (s *Server) trackProgress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rangeHeader)

		if rangeHeader != "" {
			if br, err := ParseRange(rangeHeader); err == nil {
				s.recordProgress(r.RemoteAddr, br.Offset())
			} else {
				logging.Debug("Ignoring unusable range header",
					zap.String("range", rangeHeader),
				)
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) recordProgress(remote string, offset int64) {
	size := s.config.FirmwareSize
	offset = ClampOffset(offset, size)
	pct := Percentage(offset, size)

	s.mu.Lock()
	if pct > s.maxPercent {
		s.maxPercent = pct
	}
	s.mu.Unlock()

	logging.LogTransferProgress(remote, offset, size, pct)
	s.metrics.observeRange(offset, pct)

	ev := ProgressEvent{
		Type:       EventProgress,
		Remote:     remote,
		Offset:     offset,
		Size:       size,
		Percentage: pct,
		Time:       time.Now(),
	}
	s.hub.Broadcast(ev)
	if s.config.OnProgress != nil {
		s.config.OnProgress(ev)
	}

	if pct >= 100 {
		s.scheduleCompletion()
	}
}

// scheduleCompletion arms the settle timer the first time 100% is seen
func (s *Server) scheduleCompletion() {
	s.completeOnce.Do(func() {
		logging.Info("Firmware fully requested, waiting for device to settle",
			zap.Duration("settle", s.config.SettleDelay),
		)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			timer := time.NewTimer(s.config.SettleDelay)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-s.stop:
				return
			}

			s.metrics.transferDone.Set(1)
			s.hub.Broadcast(ProgressEvent{
				Type:       EventComplete,
				Offset:     s.config.FirmwareSize,
				Size:       s.config.FirmwareSize,
				Percentage: 100,
				Time:       time.Now(),
			})

			logging.Info("Firmware transfer complete")
			if s.config.OnComplete != nil {
				s.config.OnComplete()
			}
			close(s.done)
		}()
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down firmware server...")

	s.stopOnce.Do(func() { close(s.stop) })
	s.hub.Close()

	var err error
	if s.listener != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Wait for background goroutines with timeout
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		_ = s.httpServer.Close()
	}

	return err
}
