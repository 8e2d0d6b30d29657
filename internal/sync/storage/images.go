package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/storysync/internal/logging"
)

// DefaultImageRetention is how long a pre-fetched image is kept.
const DefaultImageRetention = 30 * 24 * time.Hour

// maxImageBytes bounds a single cached image.
const maxImageBytes = 20 << 20

// ImageCache keeps local copies of story photos so they can be shown
// offline. Files are named by the SHA-256 of their URL.
type ImageCache struct {
	dir         string
	client      *http.Client
	concurrency int
	maxBytes    int64
}

// NewImageCache creates an ImageCache in dir. A nil client uses a client
// with a 30 second timeout.
func NewImageCache(dir string, client *http.Client) *ImageCache {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageCache{
		dir:         dir,
		client:      client,
		concurrency: 4,
		maxBytes:    maxImageBytes,
	}
}

// Cacheable reports whether url points at a remote image.
func Cacheable(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Path returns where url is cached, whether or not it has been fetched.
func (c *ImageCache) Path(url string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	if len(ext) > 5 {
		ext = ""
	}
	return filepath.Join(c.dir, CalculateHash([]byte(url))+ext)
}

// Has reports whether url is cached.
func (c *ImageCache) Has(url string) bool {
	_, err := os.Stat(c.Path(url))
	return err == nil
}

// Fetch downloads url into the cache unless it is already there and returns
// the local path.
func (c *ImageCache) Fetch(ctx context.Context, url string) (string, error) {
	if !Cacheable(url) {
		return "", fmt.Errorf("not a remote image: %q", url)
	}
	dest := c.Path(url)
	if c.Has(url) {
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if n > c.maxBytes {
		tmp.Close()
		return "", fmt.Errorf("image larger than %d bytes: %q", c.maxBytes, url)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return dest, nil
}

// Prefetch caches every remote url, a few at a time. Failures are logged and
// skipped. It returns the number of images now cached.
func (c *ImageCache) Prefetch(ctx context.Context, urls []string) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	results := make([]bool, len(urls))
	for i, url := range urls {
		if !Cacheable(url) {
			continue
		}
		g.Go(func() error {
			if _, err := c.Fetch(ctx, url); err != nil {
				logging.Debug("Image pre-fetch failed", map[string]interface{}{
					"url":   url,
					"error": err.Error(),
				})
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}

// Cleanup removes cached images last written more than maxAge ago and
// returns how many were removed.
func (c *ImageCache) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list image cache: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		logging.Info("Removed expired cached images", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed, nil
}
