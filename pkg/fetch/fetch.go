// Package fetch downloads blocklist sources and keeps an on-disk cache of
// their raw contents.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"hostsgen/pkg/manifest"
)

const (
	defaultHTTPTimeout = 20 * time.Second
	defaultUserAgent   = "hostsgen"
	defaultWorkers     = 8
	maxBodySize        = 256 << 20
)

// Options configures source retrieval.
type Options struct {
	// CacheDir holds raw copies of downloaded sources. Empty disables caching.
	CacheDir string
	// MaxAge is how long a cached copy is served without downloading.
	MaxAge time.Duration
	// UseCache enables serving fresh cache entries and writing new ones.
	UseCache  bool
	Timeout   time.Duration
	UserAgent string
	Workers   int
	Client    *http.Client
	Log       *slog.Logger
}

// Result is the outcome of retrieving one source. Content is nil when Err is
// set.
type Result struct {
	Source    manifest.Source
	Content   []byte
	Err       error
	FromCache bool
}

// Fetcher retrieves sources according to Options.
type Fetcher struct {
	opts Options
}

// New returns a Fetcher with defaults applied. The cache directory is created
// when caching is enabled; failure to create it disables caching.
func New(opts Options) *Fetcher {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UseCache {
		opts.CacheDir = EnsureCacheDir(opts.CacheDir, opts.Log)
		if opts.CacheDir == "" {
			opts.UseCache = false
		}
	}
	return &Fetcher{opts: opts}
}

// EnsureCacheDir creates the cache directory if missing. Returns an empty string on failure.
func EnsureCacheDir(cacheDir string, log *slog.Logger) string {
	if cacheDir == "" {
		return ""
	}
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		if log != nil {
			log.Error("failed to create cache dir, caching disabled", "dir", cacheDir, "error", err)
		}
		return ""
	}
	return cacheDir
}

// FetchAll retrieves every source concurrently. Results keep the order of
// sources. Individual failures are reported in Result.Err; FetchAll itself
// never fails.
func (f *Fetcher) FetchAll(ctx context.Context, sources []manifest.Source) []Result {
	results := make([]Result, len(sources))

	p := pool.New().WithMaxGoroutines(f.opts.Workers)
	for i, src := range sources {
		p.Go(func() {
			results[i] = f.Fetch(ctx, src)
		})
	}
	p.Wait()

	return results
}

// Fetch retrieves a single source. A fresh cache entry is served without a
// download; a failed download falls back to any cached copy regardless of
// age.
func (f *Fetcher) Fetch(ctx context.Context, src manifest.Source) Result {
	return f.fetch(ctx, src, cacheFileName(src))
}

func (f *Fetcher) fetch(ctx context.Context, src manifest.Source, cacheName string) Result {
	log := f.opts.Log.With("list", src.Label)
	res := Result{Source: src}

	if !isURL(src.URL) {
		data, err := readLocal(src.URL)
		if err != nil {
			res.Err = err
			return res
		}
		res.Content = data
		return res
	}

	cachePath := ""
	if f.opts.UseCache {
		cachePath = filepath.Join(f.opts.CacheDir, cacheName)
		if fresh(cachePath, f.opts.MaxAge) {
			if data, err := os.ReadFile(cachePath); err == nil { // #nosec G304 -- cache path is derived from configured cache directory.
				log.Debug("using cached list", "path", cachePath)
				res.Content = data
				res.FromCache = true
				return res
			}
		}
	}

	data, err := f.download(ctx, src.URL)
	if err == nil {
		if cachePath != "" {
			if err := os.WriteFile(cachePath, data, 0o600); err != nil {
				log.Warn("failed to write cache", "error", err)
			}
		}
		res.Content = data
		return res
	}

	if cachePath == "" {
		res.Err = err
		return res
	}
	cached, cacheErr := os.ReadFile(cachePath) // #nosec G304 -- cache path is derived from configured cache directory.
	if cacheErr != nil {
		res.Err = fmt.Errorf("download failed: %w; cache error: %s", err, cacheErr.Error())
		return res
	}
	log.Warn("download failed, using cached list", "error", err)
	res.Content = cached
	res.FromCache = true
	return res
}

func (f *Fetcher) download(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.opts.Log.Warn("failed to close blocklist response body", "error", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, errors.New("response body too large")
	}
	return data, nil
}

// FetchManifest retrieves the manifest from a URL or local path. Remote
// manifests are cached under the fetcher's cache directory for maxAge.
func (f *Fetcher) FetchManifest(ctx context.Context, location string, maxAge time.Duration) ([]byte, error) {
	if !isURL(location) {
		return readLocal(location)
	}

	src := manifest.Source{URL: location, Label: "manifest"}
	if !f.opts.UseCache {
		data, err := f.download(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("download manifest: %w", err)
		}
		return data, nil
	}

	cached := &Fetcher{opts: f.opts}
	cached.opts.MaxAge = maxAge
	res := cached.fetch(ctx, src, manifestCacheName(location))
	if res.Err != nil {
		return nil, fmt.Errorf("download manifest: %w", res.Err)
	}
	return res.Content, nil
}

// DaysToDuration converts a fractional day count into a duration.
func DaysToDuration(days float64) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days * float64(24*time.Hour))
}

func fresh(path string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return time.Since(info.ModTime()) < maxAge
}

func readLocal(location string) ([]byte, error) {
	location = strings.TrimPrefix(location, "file://")
	data, err := os.ReadFile(location) // #nosec G304 -- local list path is provided via config.
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// cacheFileName keeps the sanitized label readable and appends a digest of
// the raw label and URL, so labels that sanitize to the same ID still get
// their own file.
func cacheFileName(src manifest.Source) string {
	id := sanitizeID(src.Label)
	if id == "" {
		id = "custom"
	}
	return id + "-" + shortDigest(src.Label+"\n"+src.URL) + ".txt"
}

// manifestCacheName uses an extension list cache files never have.
func manifestCacheName(location string) string {
	return "manifest-" + shortDigest(location) + ".csv"
}

func shortDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}

func sanitizeID(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
