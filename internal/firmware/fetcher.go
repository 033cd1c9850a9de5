package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/tasmotizer/sonoff-tasmotizer/internal/version"
	"go.uber.org/zap"
)

const (
	// DefaultURL is the Tasmota lite release image
	DefaultURL = "https://ota.tasmota.com/tasmota/release/tasmota-lite.bin"

	// FileName is the name the image is stored and served under
	FileName = "tasmota-lite.bin"

	// DefaultTimeout bounds a whole download
	DefaultTimeout = 5 * time.Minute
)

// Image is a firmware file on disk with its digest
type Image struct {
	Path   string
	SHA256 string
	Size   int64

	// Cached is true when the file was reused rather than downloaded
	Cached bool
}

// FetchError describes a failed firmware download
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("firmware download from %s failed: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("firmware download from %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives bytes written so far and the expected total (-1 if unknown)
type ProgressFunc func(written, total int64)

// Fetcher keeps a local copy of the firmware image
type Fetcher struct {
	// URL is where the image is downloaded from
	URL string

	// Path is where the image is stored; its directory is what the file server serves
	Path string

	HTTPClient *http.Client
	Logger     *zap.Logger

	// OnProgress is called as the download advances (optional)
	OnProgress ProgressFunc
}

// DefaultPath returns the firmware location under the user config directory,
// creating parent directories as needed
func DefaultPath() (string, error) {
	return xdg.ConfigFile(filepath.Join("sonoff-tasmotizer", "public", FileName))
}

// NewFetcher creates a fetcher for the default URL and location
func NewFetcher(logger *zap.Logger) (*Fetcher, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve firmware path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		URL:        DefaultURL,
		Path:       path,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Logger:     logger,
	}, nil
}

// Dir returns the directory holding the image
func (f *Fetcher) Dir() string {
	return filepath.Dir(f.Path)
}

// EnsureLatest makes sure the image exists locally and returns its digest.
// With force false an existing file is reused without any network traffic.
func (f *Fetcher) EnsureLatest(ctx context.Context, force bool) (*Image, error) {
	logger := f.logger()

	if !force {
		if info, err := os.Stat(f.Path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			sum, size, err := Checksum(f.Path)
			if err != nil {
				return nil, err
			}
			logger.Info("using cached firmware",
				zap.String("path", f.Path),
				zap.String("size", humanize.Bytes(uint64(size))),
			)
			return &Image{Path: f.Path, SHA256: sum, Size: size, Cached: true}, nil
		}
	}

	return f.download(ctx)
}

func (f *Fetcher) download(ctx context.Context) (*Image, error) {
	logger := f.logger()

	if err := os.MkdirAll(f.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create firmware directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: f.URL, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())

	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	logger.Info("downloading firmware", zap.String("url", f.URL))

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: f.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: f.URL, StatusCode: resp.StatusCode}
	}

	// Write next to the destination so the rename stays on one filesystem
	tmp, err := os.CreateTemp(f.Dir(), ".tasmota-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := sha256.New()
	w := io.MultiWriter(tmp, h, &progressWriter{total: resp.ContentLength, fn: f.OnProgress})

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		cleanup()
		return nil, &FetchError{URL: f.URL, Err: err}
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		cleanup()
		return nil, &FetchError{URL: f.URL, Err: fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write firmware: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to set firmware permissions: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move firmware into place: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	logger.Info("firmware downloaded",
		zap.String("path", f.Path),
		zap.String("sha256", sum),
		zap.String("size", humanize.Bytes(uint64(written))),
	)

	return &Image{Path: f.Path, SHA256: sum, Size: written}, nil
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Checksum streams the file at path through SHA-256
func Checksum(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open firmware: %w", err)
	}
	defer func() { _ = file.Close() }()

	h := sha256.New()
	size, err := io.Copy(h, file)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash firmware: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// IsFetchError reports whether err is a download failure
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

type progressWriter struct {
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.fn != nil {
		p.fn(p.written, p.total)
	}
	return len(b), nil
}
